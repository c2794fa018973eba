package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

// LifecycleStateMachine gates edits and drives the approval workflow of a document.
type LifecycleStateMachine struct {
	transitions map[models.IEPStatus][]models.IEPStatus
}

// NewLifecycleStateMachine builds the draft → pending_approval → approved|rejected → archived machine.
// rejected → draft is implicit: rejected documents are editable and may be resubmitted.
func NewLifecycleStateMachine() *LifecycleStateMachine {
	return &LifecycleStateMachine{
		transitions: map[models.IEPStatus][]models.IEPStatus{
			models.IEPStatusDraft:           {models.IEPStatusPendingApproval},
			models.IEPStatusPendingApproval: {models.IEPStatusApproved, models.IEPStatusRejected},
			models.IEPStatusApproved:        {models.IEPStatusArchived},
			models.IEPStatusRejected:        {models.IEPStatusDraft, models.IEPStatusPendingApproval, models.IEPStatusArchived},
		},
	}
}

// CanEdit reports whether operations may be applied in the given state.
func (m *LifecycleStateMachine) CanEdit(status models.IEPStatus) bool {
	return status == models.IEPStatusDraft || status == models.IEPStatusRejected
}

// CanTransition reports whether from → to is a legal transition.
func (m *LifecycleStateMachine) CanTransition(from, to models.IEPStatus) bool {
	for _, next := range m.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateCompleteness lists the reasons a document cannot be submitted yet.
func (m *LifecycleStateMachine) ValidateCompleteness(doc *models.IEPDocument) []string {
	var problems []string
	if strings.TrimSpace(doc.StudentName) == "" {
		problems = append(problems, "student name is required")
	}
	if strings.TrimSpace(doc.PresentLevels) == "" {
		problems = append(problems, "present levels of performance are required")
	}
	if len(doc.Goals) == 0 {
		problems = append(problems, "at least one goal is required")
	}
	for i, goal := range doc.Goals {
		if strings.TrimSpace(goal.Title) == "" {
			problems = append(problems, fmt.Sprintf("goal %d: title is required", i+1))
		}
		if strings.TrimSpace(goal.Description) == "" {
			problems = append(problems, fmt.Sprintf("goal %d: description is required", i+1))
		}
		if strings.TrimSpace(goal.MeasurableCriteria) == "" {
			problems = append(problems, fmt.Sprintf("goal %d: measurable criteria are required", i+1))
		}
	}
	if len(doc.Accommodations) == 0 {
		problems = append(problems, "at least one accommodation is required")
	}
	for i, acc := range doc.Accommodations {
		if strings.TrimSpace(acc.Title) == "" {
			problems = append(problems, fmt.Sprintf("accommodation %d: title is required", i+1))
		}
		if strings.TrimSpace(acc.Description) == "" {
			problems = append(problems, fmt.Sprintf("accommodation %d: description is required", i+1))
		}
	}
	return problems
}

// Submit moves a complete draft (or rejected document) into pending_approval.
func (m *LifecycleStateMachine) Submit(doc *models.IEPDocument, submittedBy, requestID string, now time.Time) error {
	if !m.CanTransition(doc.Status, models.IEPStatusPendingApproval) {
		return stateConflict(doc.Status, models.IEPStatusPendingApproval)
	}
	if problems := m.ValidateCompleteness(doc); len(problems) > 0 {
		return appErrors.Clone(appErrors.ErrValidation, strings.Join(problems, "; "))
	}
	if doc.RequiredApprovalCount <= 0 {
		doc.RequiredApprovalCount = models.DefaultRequiredApprovals
	}
	doc.Status = models.IEPStatusPendingApproval
	doc.PendingApprovalCount = doc.RequiredApprovalCount
	doc.ApprovalRequestID = requestID
	doc.SubmittedBy = &submittedBy
	doc.SubmittedAt = &now
	doc.UpdatedAt = now
	doc.UpdatedBy = submittedBy
	return nil
}

// RecordApproval appends a partial approval while the document stays pending.
func (m *LifecycleStateMachine) RecordApproval(doc *models.IEPDocument, record models.ApprovalRecord, now time.Time) error {
	if doc.Status != models.IEPStatusPendingApproval {
		return appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("document is %s, not pending approval", doc.Status))
	}
	if record.Status == models.ApprovalStatusApproved && hasApproved(doc, record.ApproverID) {
		return nil
	}
	doc.ApprovalRecords = append(doc.ApprovalRecords, record)
	m.recount(doc)
	doc.UpdatedAt = now
	return nil
}

// Complete appends the final approvals and marks the document approved.
// Approvers that already hold an approved record are not appended twice.
func (m *LifecycleStateMachine) Complete(doc *models.IEPDocument, records []models.ApprovalRecord, now time.Time) error {
	if !m.CanTransition(doc.Status, models.IEPStatusApproved) {
		return stateConflict(doc.Status, models.IEPStatusApproved)
	}
	seen := make(map[string]struct{}, len(doc.ApprovalRecords))
	for _, existing := range currentRound(doc) {
		if existing.Status == models.ApprovalStatusApproved {
			seen[existing.ApproverID] = struct{}{}
		}
	}
	for _, record := range records {
		if _, ok := seen[record.ApproverID]; ok {
			continue
		}
		seen[record.ApproverID] = struct{}{}
		doc.ApprovalRecords = append(doc.ApprovalRecords, record)
	}
	doc.Status = models.IEPStatusApproved
	doc.PendingApprovalCount = 0
	doc.ApprovedAt = &now
	doc.UpdatedAt = now
	return nil
}

// Reject records the rejection and reopens the document for edits.
func (m *LifecycleStateMachine) Reject(doc *models.IEPDocument, record models.ApprovalRecord, now time.Time) error {
	if !m.CanTransition(doc.Status, models.IEPStatusRejected) {
		return stateConflict(doc.Status, models.IEPStatusRejected)
	}
	doc.ApprovalRecords = append(doc.ApprovalRecords, record)
	doc.Status = models.IEPStatusRejected
	doc.PendingApprovalCount = 0
	doc.UpdatedAt = now
	return nil
}

// Archive retires an approved or rejected document.
func (m *LifecycleStateMachine) Archive(doc *models.IEPDocument, actor string, now time.Time) error {
	if !m.CanTransition(doc.Status, models.IEPStatusArchived) {
		return stateConflict(doc.Status, models.IEPStatusArchived)
	}
	doc.Status = models.IEPStatusArchived
	doc.PendingApprovalCount = 0
	doc.UpdatedAt = now
	doc.UpdatedBy = actor
	return nil
}

// recount counts distinct approvers of the current round.
func (m *LifecycleStateMachine) recount(doc *models.IEPDocument) {
	approvers := make(map[string]struct{})
	for _, record := range currentRound(doc) {
		if record.Status == models.ApprovalStatusApproved {
			approvers[record.ApproverID] = struct{}{}
		}
	}
	pending := doc.RequiredApprovalCount - len(approvers)
	if pending < 0 {
		pending = 0
	}
	doc.PendingApprovalCount = pending
}

func hasApproved(doc *models.IEPDocument, approverID string) bool {
	for _, record := range currentRound(doc) {
		if record.Status == models.ApprovalStatusApproved && record.ApproverID == approverID {
			return true
		}
	}
	return false
}

// currentRound returns the ledger entries requested by the latest submission; entries
// from earlier, rejected rounds stay in the ledger but no longer count.
func currentRound(doc *models.IEPDocument) []models.ApprovalRecord {
	if doc.SubmittedAt == nil {
		return doc.ApprovalRecords
	}
	out := make([]models.ApprovalRecord, 0, len(doc.ApprovalRecords))
	for _, record := range doc.ApprovalRecords {
		if !record.RequestedAt.Before(*doc.SubmittedAt) {
			out = append(out, record)
		}
	}
	return out
}

func stateConflict(from, to models.IEPStatus) error {
	return appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("cannot move document from %s to %s", from, to))
}
