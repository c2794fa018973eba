package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/pkg/approval"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

const defaultDeliveryCacheSize = 1024

// ApprovalAuthority is the external dual-approval workflow.
type ApprovalAuthority interface {
	Submit(ctx context.Context, req approval.SubmitRequest) (*approval.SubmitResponse, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ApprovalCoordinatorConfig carries the compliance policy sent with submissions.
type ApprovalCoordinatorConfig struct {
	RequiredRoles []string
	DedupSize     int
}

// ApprovalCoordinator hands drafts to the approval authority and applies its callbacks.
type ApprovalCoordinator struct {
	authority ApprovalAuthority
	store     *DocumentStore
	lifecycle *LifecycleStateMachine
	events    EventEmitter
	persister DocumentPersister
	audit     auditLogger
	metrics   *MetricsService
	logger    *zap.Logger

	requiredRoles []string
	deliveries    *lru.Cache[string, struct{}]
}

// ApprovalCoordinatorOption configures the coordinator.
type ApprovalCoordinatorOption func(*ApprovalCoordinator)

// WithCoordinatorEvents sets the event emitter.
func WithCoordinatorEvents(events EventEmitter) ApprovalCoordinatorOption {
	return func(c *ApprovalCoordinator) {
		if events != nil {
			c.events = events
		}
	}
}

// WithCoordinatorPersister sets where changed documents are persisted.
func WithCoordinatorPersister(persister DocumentPersister) ApprovalCoordinatorOption {
	return func(c *ApprovalCoordinator) {
		if persister != nil {
			c.persister = persister
		}
	}
}

// WithCoordinatorAudit enables audit logging of approval decisions.
func WithCoordinatorAudit(audit auditLogger) ApprovalCoordinatorOption {
	return func(c *ApprovalCoordinator) {
		c.audit = audit
	}
}

// WithCoordinatorMetrics enables callback counters.
func WithCoordinatorMetrics(metrics *MetricsService) ApprovalCoordinatorOption {
	return func(c *ApprovalCoordinator) {
		c.metrics = metrics
	}
}

// NewApprovalCoordinator constructs the coordinator.
func NewApprovalCoordinator(authority ApprovalAuthority, store *DocumentStore, lifecycle *LifecycleStateMachine, cfg ApprovalCoordinatorConfig, logger *zap.Logger, opts ...ApprovalCoordinatorOption) *ApprovalCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lifecycle == nil {
		lifecycle = NewLifecycleStateMachine()
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDeliveryCacheSize
	}
	deliveries, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		panic(fmt.Sprintf("approval delivery cache: %v", err))
	}
	c := &ApprovalCoordinator{
		authority:     authority,
		store:         store,
		lifecycle:     lifecycle,
		events:        nopEmitter{},
		persister:     nopPersister{},
		logger:        logger,
		requiredRoles: append([]string(nil), cfg.RequiredRoles...),
		deliveries:    deliveries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Submit packages document metadata and the approval policy and returns the authority's request id.
// The document is never mutated here.
func (c *ApprovalCoordinator) Submit(ctx context.Context, doc *models.IEPDocument, submittedBy string) (string, error) {
	if c.authority == nil {
		return "", appErrors.Clone(appErrors.ErrApprovalService, "approval authority is not configured")
	}
	minimum := doc.RequiredApprovalCount
	if minimum <= 0 {
		minimum = models.DefaultRequiredApprovals
	}
	req := approval.SubmitRequest{
		ResourceType: "iep",
		ResourceID:   doc.ID,
		Title:        fmt.Sprintf("IEP %s for %s", doc.SchoolYear, doc.StudentName),
		SubmittedBy:  submittedBy,
		Metadata: map[string]interface{}{
			"student_id":          doc.StudentID,
			"school_year":         doc.SchoolYear,
			"effective_date":      doc.EffectiveDate,
			"version":             doc.Version,
			"goal_count":          len(doc.Goals),
			"accommodation_count": len(doc.Accommodations),
		},
		Policy: approval.Policy{
			DualApproval:     true,
			RequiredRoles:    c.requiredRoles,
			MinimumApprovals: minimum,
		},
	}
	resp, err := c.authority.Submit(ctx, req)
	if err != nil {
		c.logger.Warn("approval submission failed", zap.String("iep_id", doc.ID), zap.Error(err))
		return "", appErrors.Wrap(err, appErrors.ErrApprovalService.Code, appErrors.ErrApprovalService.Status, "approval service unavailable")
	}
	return resp.RequestID, nil
}

// HandleCallback applies an approval authority event to the referenced document.
// A repeated delivery id is acknowledged without being applied again.
func (c *ApprovalCoordinator) HandleCallback(ctx context.Context, deliveryID string, event dto.ApprovalWebhook) (err error) {
	defer func() {
		c.metrics.RecordApprovalCallback(string(event.EventType), err)
	}()

	switch event.EventType {
	case dto.ApprovalEventReceived, dto.ApprovalEventCompleted, dto.ApprovalEventRejected:
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event type %q", event.EventType))
	}
	resourceID := strings.TrimSpace(event.Data.ResourceID)
	if resourceID == "" {
		c.logger.Warn("approval callback without resource id", zap.String("event", string(event.EventType)))
		return appErrors.Clone(appErrors.ErrUnresolvableResource, "callback has no resource_id")
	}
	if deliveryID != "" {
		// reserve the id before applying so concurrent redeliveries see it
		if seen, _ := c.deliveries.ContainsOrAdd(deliveryID, struct{}{}); seen {
			c.logger.Info("duplicate approval callback ignored", zap.String("delivery_id", deliveryID), zap.String("iep_id", resourceID))
			return nil
		}
	}

	var (
		eventType models.EventType
		action    string
		actor     string
		payload   map[string]interface{}
	)
	doc, err := c.store.WithDocument(resourceID, func(txn *DocumentTxn) error {
		current := txn.Document()
		now := txn.Now()
		requestedAt := now
		if current.SubmittedAt != nil {
			requestedAt = *current.SubmittedAt
		}
		switch event.EventType {
		case dto.ApprovalEventReceived:
			if len(event.Data.Approvals) == 0 {
				return appErrors.Clone(appErrors.ErrValidation, "approval received callback carries no approvals")
			}
			decision := event.Data.Approvals[len(event.Data.Approvals)-1]
			if err := c.lifecycle.RecordApproval(current, approvalRecord(decision, requestedAt, now), now); err != nil {
				return err
			}
			action, actor = models.AuditActionIEPApprove, decision.ApproverID
			payload = map[string]interface{}{"approverId": decision.ApproverID, "pendingApprovalCount": current.PendingApprovalCount}
		case dto.ApprovalEventCompleted:
			records := make([]models.ApprovalRecord, 0, len(event.Data.Approvals))
			for _, decision := range event.Data.Approvals {
				records = append(records, approvalRecord(decision, requestedAt, now))
			}
			if err := c.lifecycle.Complete(current, records, now); err != nil {
				return err
			}
			eventType, action = models.EventIEPApproved, models.AuditActionIEPApprove
			if len(records) > 0 {
				actor = records[len(records)-1].ApproverID
			}
			payload = map[string]interface{}{"approvals": len(records)}
		case dto.ApprovalEventRejected:
			rejection := event.Data.Rejection
			if rejection == nil {
				return appErrors.Clone(appErrors.ErrValidation, "rejection callback carries no rejection")
			}
			if err := c.lifecycle.Reject(current, rejectionRecord(*rejection, requestedAt, now), now); err != nil {
				return err
			}
			eventType, action, actor = models.EventIEPRejected, models.AuditActionIEPReject, rejection.RejectedBy
			payload = map[string]interface{}{"reason": rejection.Reason, "rejectedBy": rejection.RejectedBy}
		}
		return nil
	})
	if err != nil {
		if deliveryID != "" {
			c.deliveries.Remove(deliveryID)
		}
		if appErrors.HasCode(err, appErrors.ErrNotFound.Code) {
			c.logger.Warn("approval callback for unknown document", zap.String("iep_id", resourceID), zap.String("event", string(event.EventType)))
			return appErrors.Clone(appErrors.ErrUnresolvableResource, fmt.Sprintf("document %s not found", resourceID))
		}
		return err
	}

	c.persister.Persist(doc)
	if eventType != "" {
		c.events.Emit(newEvent(eventType, doc, actor, payload))
	}
	c.recordAudit(ctx, doc, action, actor, payload)
	c.logger.Info("approval callback applied",
		zap.String("iep_id", doc.ID),
		zap.String("event", string(event.EventType)),
		zap.String("status", string(doc.Status)),
		zap.Int("pending_approvals", doc.PendingApprovalCount),
	)
	return nil
}

func (c *ApprovalCoordinator) recordAudit(ctx context.Context, doc *models.IEPDocument, action, actor string, payload map[string]interface{}) {
	if c.audit == nil || action == "" {
		return
	}
	body, _ := json.Marshal(payload)
	id := doc.ID
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "iep",
		ResourceID: &id,
		NewValues:  body,
		IPAddress:  "system",
		UserAgent:  "approval-coordinator",
	}
	if actor != "" {
		entry.UserID = &actor
	}
	if err := c.audit.CreateAuditLog(ctx, entry); err != nil {
		c.logger.Warn("failed to persist audit log", zap.String("iep_id", doc.ID), zap.Error(err))
	}
}

func approvalRecord(decision dto.ApprovalDecision, requestedAt, now time.Time) models.ApprovalRecord {
	respondedAt := now
	if decision.ApprovedAt != nil {
		respondedAt = decision.ApprovedAt.UTC()
	}
	return models.ApprovalRecord{
		ID:           uuid.NewString(),
		ApproverID:   decision.ApproverID,
		ApproverRole: decision.ApproverRole,
		Status:       models.ApprovalStatusApproved,
		RequestedAt:  requestedAt,
		RespondedAt:  &respondedAt,
		Comments:     decision.Comments,
	}
}

func rejectionRecord(rejection dto.RejectionDecision, requestedAt, now time.Time) models.ApprovalRecord {
	respondedAt := now
	if rejection.RejectedAt != nil {
		respondedAt = rejection.RejectedAt.UTC()
	}
	reason := rejection.Reason
	return models.ApprovalRecord{
		ID:              uuid.NewString(),
		ApproverID:      rejection.RejectedBy,
		ApproverRole:    rejection.ApproverRole,
		Status:          models.ApprovalStatusRejected,
		RequestedAt:     requestedAt,
		RespondedAt:     &respondedAt,
		RejectionReason: &reason,
	}
}
