package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

const defaultSubmitTimeout = 10 * time.Second

type approvalSubmitter interface {
	Submit(ctx context.Context, doc *models.IEPDocument, submittedBy string) (string, error)
}

// IEPService is the operation API over the document engine.
type IEPService struct {
	store     *DocumentStore
	lifecycle *LifecycleStateMachine
	approvals approvalSubmitter
	resolver  *ConflictResolver
	validator *validator.Validate
	events    EventEmitter
	persister DocumentPersister
	audit     auditLogger
	metrics   *MetricsService
	logger    *zap.Logger

	submitTimeout time.Duration
}

// IEPServiceOption configures the service.
type IEPServiceOption func(*IEPService)

// WithIEPEvents sets the outbound event emitter.
func WithIEPEvents(events EventEmitter) IEPServiceOption {
	return func(s *IEPService) {
		if events != nil {
			s.events = events
		}
	}
}

// WithIEPPersister sets the snapshot persister.
func WithIEPPersister(persister DocumentPersister) IEPServiceOption {
	return func(s *IEPService) {
		if persister != nil {
			s.persister = persister
		}
	}
}

// WithIEPAudit enables audit logging of lifecycle actions.
func WithIEPAudit(audit auditLogger) IEPServiceOption {
	return func(s *IEPService) {
		s.audit = audit
	}
}

// WithIEPMetrics enables operation counters.
func WithIEPMetrics(metrics *MetricsService) IEPServiceOption {
	return func(s *IEPService) {
		s.metrics = metrics
	}
}

// WithSubmitTimeout bounds the call to the approval authority.
func WithSubmitTimeout(timeout time.Duration) IEPServiceOption {
	return func(s *IEPService) {
		if timeout > 0 {
			s.submitTimeout = timeout
		}
	}
}

// NewIEPService wires the facade.
func NewIEPService(store *DocumentStore, lifecycle *LifecycleStateMachine, approvals approvalSubmitter, resolver *ConflictResolver, validate *validator.Validate, logger *zap.Logger, opts ...IEPServiceOption) *IEPService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lifecycle == nil {
		lifecycle = NewLifecycleStateMachine()
	}
	svc := &IEPService{
		store:         store,
		lifecycle:     lifecycle,
		approvals:     approvals,
		resolver:      resolver,
		validator:     validate,
		events:        nopEmitter{},
		persister:     nopPersister{},
		logger:        logger,
		submitTimeout: defaultSubmitTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.resolver == nil {
		svc.resolver = NewConflictResolver(store, lifecycle, svc.events, svc.persister, svc.metrics, logger)
	}
	return svc
}

// CreateDocument registers a new draft.
func (s *IEPService) CreateDocument(ctx context.Context, req dto.CreateIEPRequest, createdBy string) (*models.IEPDocument, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if strings.TrimSpace(createdBy) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "author is required")
	}
	doc := s.store.Create(models.IEPDocument{
		StudentID:          strings.TrimSpace(req.StudentID),
		StudentName:        strings.TrimSpace(req.StudentName),
		SchoolYear:         strings.TrimSpace(req.SchoolYear),
		EffectiveDate:      req.EffectiveDate,
		ExpiryDate:         req.ExpiryDate,
		PresentLevels:      strings.TrimSpace(req.PresentLevels),
		TransitionServices: strings.TrimSpace(req.TransitionServices),
		Placement:          strings.TrimSpace(req.Placement),
		SpecialFactors:     req.SpecialFactors,
	}, createdBy)

	s.persister.Persist(doc)
	s.events.Emit(newEvent(models.EventIEPCreated, doc, createdBy, map[string]interface{}{"schoolYear": doc.SchoolYear}))
	s.logger.Info("iep created", zap.String("iep_id", doc.ID), zap.String("student_id", doc.StudentID), zap.String("actor", createdBy))
	return doc, nil
}

// SaveDraft attempts each operation independently; earlier successes are kept when later ones fail.
func (s *IEPService) SaveDraft(ctx context.Context, id string, inputs []dto.OperationInput, updatedBy string) (*dto.SaveDraftResult, error) {
	if strings.TrimSpace(updatedBy) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "author is required")
	}
	result := &dto.SaveDraftResult{Applied: []models.OperationType{}, Failed: []dto.FailedOperation{}}
	updatedGoals := make(map[string][]string)
	var goalOrder []string

	doc, err := s.store.WithDocument(id, func(txn *DocumentTxn) error {
		for _, input := range inputs {
			op, err := buildOperation(input, updatedBy, txn.Now())
			if err == nil {
				err = txn.Apply(op)
			}
			s.metrics.RecordOperation(string(input.OperationType), err)
			if err != nil {
				result.Failed = append(result.Failed, dto.FailedOperation{OperationType: input.OperationType, Path: input.Path, Error: err.Error()})
				continue
			}
			result.Applied = append(result.Applied, op.Type)
			if op.Type == models.OperationUpdate && op.Path.Kind == models.TargetGoalField {
				goalID := txn.Document().Goals[op.Path.Index].ID
				if _, ok := updatedGoals[goalID]; !ok {
					goalOrder = append(goalOrder, goalID)
				}
				updatedGoals[goalID] = append(updatedGoals[goalID], string(op.Path.Goal))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Version = doc.Version

	if len(result.Applied) > 0 {
		s.persister.Persist(doc)
		for _, goalID := range goalOrder {
			s.events.Emit(newEvent(models.EventGoalUpdated, doc, updatedBy, map[string]interface{}{
				"goalId": goalID,
				"fields": updatedGoals[goalID],
			}))
		}
		s.events.Emit(newEvent(models.EventIEPUpdated, doc, updatedBy, map[string]interface{}{
			"applied": len(result.Applied),
			"failed":  len(result.Failed),
			"version": doc.Version,
		}))
	}
	return result, nil
}

// SubmitForApproval validates completeness, registers the request with the approval authority
// and moves the document to pending_approval. Completeness problems are returned in the result.
func (s *IEPService) SubmitForApproval(ctx context.Context, id, submittedBy string) (*dto.SubmitResult, error) {
	doc, ok := s.store.Get(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "iep document not found")
	}
	if !s.lifecycle.CanTransition(doc.Status, models.IEPStatusPendingApproval) {
		return nil, stateConflict(doc.Status, models.IEPStatusPendingApproval)
	}
	if problems := s.lifecycle.ValidateCompleteness(doc); len(problems) > 0 {
		return &dto.SubmitResult{ValidationErrors: problems}, nil
	}
	if s.approvals == nil {
		return nil, appErrors.Clone(appErrors.ErrApprovalService, "approval authority is not configured")
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()
	requestID, err := s.approvals.Submit(submitCtx, doc, submittedBy)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.WithDocument(id, func(txn *DocumentTxn) error {
		return s.lifecycle.Submit(txn.Document(), submittedBy, requestID, txn.Now())
	})
	if err != nil {
		s.logger.Warn("document changed while awaiting approval authority",
			zap.String("iep_id", id), zap.String("approval_request_id", requestID), zap.Error(err))
		appErr := appErrors.FromError(err)
		return nil, appErrors.Wrap(err, appErr.Code, appErr.Status,
			fmt.Sprintf("%s; approval request %s was registered but not applied", appErr.Message, requestID))
	}

	s.persister.Persist(updated)
	s.events.Emit(newEvent(models.EventIEPSubmitted, updated, submittedBy, map[string]interface{}{
		"approvalRequestId":    requestID,
		"pendingApprovalCount": updated.PendingApprovalCount,
	}))
	s.recordAudit(ctx, updated, models.AuditActionIEPSubmit, submittedBy, map[string]interface{}{"approvalRequestId": requestID})
	return &dto.SubmitResult{ApprovalRequestID: requestID}, nil
}

// AddGoal appends a goal to the document.
func (s *IEPService) AddGoal(ctx context.Context, id string, input dto.GoalInput, addedBy string) (*models.Goal, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid goal")
	}
	goalID := uuid.NewString()
	value, err := json.Marshal(GoalValue{
		ID:                 goalID,
		Title:              input.Title,
		Description:        input.Description,
		MeasurableCriteria: input.MeasurableCriteria,
		Domain:             input.Domain,
		TargetDate:         input.TargetDate,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode goal")
	}
	doc, err := s.insert(id, models.CollectionGoals, value, addedBy)
	if err != nil {
		return nil, err
	}
	idx := goalIndex(doc, goalID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrInternal, "goal missing after insert")
	}
	goal := doc.Goals[idx]
	s.persister.Persist(doc)
	s.events.Emit(newEvent(models.EventGoalAdded, doc, addedBy, map[string]interface{}{"goalId": goal.ID, "title": goal.Title}))
	return &goal, nil
}

// AddAccommodation appends an accommodation to the document.
func (s *IEPService) AddAccommodation(ctx context.Context, id string, input dto.AccommodationInput, addedBy string) (*models.Accommodation, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid accommodation")
	}
	accID := uuid.NewString()
	value, err := json.Marshal(AccommodationValue{
		ID:          accID,
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Setting:     input.Setting,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode accommodation")
	}
	doc, err := s.insert(id, models.CollectionAccommodations, value, addedBy)
	if err != nil {
		return nil, err
	}
	idx := accommodationIndex(doc, accID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrInternal, "accommodation missing after insert")
	}
	acc := doc.Accommodations[idx]
	s.persister.Persist(doc)
	s.events.Emit(newEvent(models.EventAccommodationAdded, doc, addedBy, map[string]interface{}{"accommodationId": acc.ID, "title": acc.Title}))
	return &acc, nil
}

// GetDocument returns a copy of the document.
func (s *IEPService) GetDocument(ctx context.Context, id string) (*models.IEPDocument, error) {
	doc, ok := s.store.Get(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "iep document not found")
	}
	return doc, nil
}

// ListDocuments returns every document, or only those for one student.
func (s *IEPService) ListDocuments(ctx context.Context, studentID string) ([]models.IEPDocument, error) {
	return s.store.List(strings.TrimSpace(studentID)), nil
}

// GetHistory returns up to limit of the newest op-log entries.
func (s *IEPService) GetHistory(ctx context.Context, id string, limit int) ([]models.OperationRecord, error) {
	var history []models.OperationRecord
	_, err := s.store.WithDocument(id, func(txn *DocumentTxn) error {
		history = txn.Log().Tail(limit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// Archive retires an approved or rejected document.
func (s *IEPService) Archive(ctx context.Context, id, actor string) (*models.IEPDocument, error) {
	var previous models.IEPStatus
	doc, err := s.store.WithDocument(id, func(txn *DocumentTxn) error {
		previous = txn.Document().Status
		return s.lifecycle.Archive(txn.Document(), actor, txn.Now())
	})
	if err != nil {
		return nil, err
	}
	s.persister.Persist(doc)
	s.events.Emit(newEvent(models.EventIEPArchived, doc, actor, map[string]interface{}{"previousStatus": previous}))
	s.recordAudit(ctx, doc, models.AuditActionIEPArchive, actor, map[string]interface{}{"previousStatus": previous})
	return doc, nil
}

// Sync merges operations produced by another replica.
func (s *IEPService) Sync(ctx context.Context, id string, req dto.SyncRequest, actor string) (*dto.SyncResult, error) {
	return s.resolver.Sync(ctx, id, actor, req.Operations)
}

// ResolveConflicts reorders the document's op log by timestamp.
func (s *IEPService) ResolveConflicts(ctx context.Context, id string) error {
	return s.resolver.ResolveConflicts(ctx, id)
}

func (s *IEPService) insert(id string, collection models.Collection, value json.RawMessage, author string) (*models.IEPDocument, error) {
	if strings.TrimSpace(author) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "author is required")
	}
	doc, err := s.store.WithDocument(id, func(txn *DocumentTxn) error {
		return txn.Apply(models.Operation{
			Type:      models.OperationInsert,
			Path:      models.CollectionTarget(collection),
			Value:     value,
			Author:    author,
			Timestamp: txn.Now(),
		})
	})
	s.metrics.RecordOperation(string(models.OperationInsert), err)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *IEPService) recordAudit(ctx context.Context, doc *models.IEPDocument, action, actor string, payload map[string]interface{}) {
	if s.audit == nil {
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
		UserAgent:  "iep-service",
	}
	if actor != "" {
		entry.UserID = &actor
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("iep_id", doc.ID), zap.Error(err))
	}
}

func buildOperation(input dto.OperationInput, author string, now time.Time) (models.Operation, error) {
	if !input.OperationType.Valid() {
		return models.Operation{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported operation type %q", input.OperationType))
	}
	target, err := models.ParseTarget(input.Path)
	if err != nil {
		return models.Operation{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	return models.Operation{
		Type:      input.OperationType,
		Path:      target,
		Value:     input.Value,
		Position:  input.Position,
		Author:    author,
		Timestamp: now,
	}, nil
}
