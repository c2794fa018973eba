package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/iep-collab-api/internal/models"
)

// CreateIEPRequest seeds a new draft document.
type CreateIEPRequest struct {
	StudentID          string   `json:"studentId" validate:"required"`
	StudentName        string   `json:"studentName" validate:"required"`
	SchoolYear         string   `json:"schoolYear" validate:"required"`
	EffectiveDate      string   `json:"effectiveDate" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate         string   `json:"expiryDate" validate:"omitempty,datetime=2006-01-02"`
	PresentLevels      string   `json:"presentLevels"`
	TransitionServices string   `json:"transitionServices"`
	Placement          string   `json:"placement"`
	SpecialFactors     []string `json:"specialFactors" validate:"dive,required"`
}

// GoalInput is the payload for add_goal.
type GoalInput struct {
	Title              string `json:"title" validate:"required"`
	Description        string `json:"description" validate:"required"`
	MeasurableCriteria string `json:"measurableCriteria" validate:"required"`
	Domain             string `json:"domain"`
	TargetDate         string `json:"targetDate" validate:"omitempty,datetime=2006-01-02"`
}

// AccommodationInput is the payload for add_accommodation.
type AccommodationInput struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Category    string `json:"category"`
	Setting     string `json:"setting"`
}

// OperationInput is a client-submitted draft edit; author comes from the session.
type OperationInput struct {
	OperationType models.OperationType `json:"operationType"`
	Path          string               `json:"path"`
	Value         json.RawMessage      `json:"value,omitempty"`
	Position      *int                 `json:"position,omitempty"`
}

// SaveDraftRequest batches draft edits.
type SaveDraftRequest struct {
	Operations []OperationInput `json:"operations"`
}

// FailedOperation pairs an operation with the reason it was not applied.
type FailedOperation struct {
	OperationType models.OperationType `json:"operationType"`
	Path          string               `json:"path,omitempty"`
	Error         string               `json:"error"`
}

// SaveDraftResult enumerates per-operation outcomes; earlier successes are never rolled back.
type SaveDraftResult struct {
	Applied []models.OperationType `json:"applied"`
	Failed  []FailedOperation      `json:"failed"`
	Version uint64                 `json:"version"`
}

// SubmitResult holds either the approval request id or the completeness problems.
type SubmitResult struct {
	ApprovalRequestID string   `json:"approvalRequestId,omitempty"`
	ValidationErrors  []string `json:"validationErrors,omitempty"`
}

// SyncRequest carries operations produced by another replica.
type SyncRequest struct {
	Operations []models.OperationRecord `json:"operations"`
}

// SyncResult reports the outcome of replaying remote operations.
type SyncResult struct {
	Changed bool              `json:"changed"`
	Applied int               `json:"applied"`
	Skipped int               `json:"skipped"`
	Failed  []FailedOperation `json:"failed"`
	Version uint64            `json:"version"`
}

// ApprovalEventType enumerates inbound webhook kinds.
type ApprovalEventType string

const (
	ApprovalEventReceived  ApprovalEventType = "APPROVAL_RECEIVED"
	ApprovalEventCompleted ApprovalEventType = "APPROVAL_COMPLETED"
	ApprovalEventRejected  ApprovalEventType = "APPROVAL_REJECTED"
)

// ApprovalWebhook is the callback payload posted by the approval authority.
type ApprovalWebhook struct {
	EventType  ApprovalEventType   `json:"event_type"`
	DeliveryID string              `json:"delivery_id,omitempty"`
	Data       ApprovalWebhookData `json:"data"`
}

// ApprovalWebhookData identifies the resource and the decisions taken.
type ApprovalWebhookData struct {
	ResourceID string             `json:"resource_id"`
	RequestID  string             `json:"request_id,omitempty"`
	Approvals  []ApprovalDecision `json:"approvals"`
	Rejection  *RejectionDecision `json:"rejection,omitempty"`
}

// ApprovalDecision is one approver's sign-off.
type ApprovalDecision struct {
	ApproverID   string     `json:"approver_id"`
	ApproverRole string     `json:"approver_role"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	Comments     string     `json:"comments,omitempty"`
}

// RejectionDecision explains why the request was rejected.
type RejectionDecision struct {
	RejectedBy   string     `json:"rejected_by"`
	ApproverRole string     `json:"approver_role"`
	Reason       string     `json:"reason"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
}

// ExportFormat selects the rendering for document exports.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// AuditEntry is one audit trail row as returned by the API.
type AuditEntry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	Source    string          `json:"source,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
