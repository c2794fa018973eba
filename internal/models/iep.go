package models

import "time"

// IEPStatus captures the lifecycle state of an IEP document.
type IEPStatus string

const (
	IEPStatusDraft           IEPStatus = "draft"
	IEPStatusPendingApproval IEPStatus = "pending_approval"
	IEPStatusApproved        IEPStatus = "approved"
	IEPStatusRejected        IEPStatus = "rejected"
	IEPStatusArchived        IEPStatus = "archived"
)

// DefaultRequiredApprovals is the dual-approval minimum.
const DefaultRequiredApprovals = 2

// ApprovalStatus enumerates the states of a single approver decision.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// IEPDocument is the canonical collaborative compliance record.
type IEPDocument struct {
	ID                    string           `json:"id"`
	StudentID             string           `json:"studentId"`
	StudentName           string           `json:"studentName"`
	SchoolYear            string           `json:"schoolYear"`
	EffectiveDate         string           `json:"effectiveDate,omitempty"`
	ExpiryDate            string           `json:"expiryDate,omitempty"`
	PresentLevels         string           `json:"presentLevels"`
	TransitionServices    string           `json:"transitionServices,omitempty"`
	Placement             string           `json:"placement,omitempty"`
	SpecialFactors        []string         `json:"specialFactors"`
	Goals                 []Goal           `json:"goals"`
	Accommodations        []Accommodation  `json:"accommodations"`
	ApprovalRecords       []ApprovalRecord `json:"approvalRecords"`
	Status                IEPStatus        `json:"status"`
	Version               uint64           `json:"version"`
	VectorClock           VectorClock      `json:"vectorClock"`
	PendingApprovalCount  int              `json:"pendingApprovalCount"`
	RequiredApprovalCount int              `json:"requiredApprovalCount"`
	ApprovalRequestID     string           `json:"approvalRequestId,omitempty"`
	CreatedBy             string           `json:"createdBy"`
	UpdatedBy             string           `json:"updatedBy"`
	SubmittedBy           *string          `json:"submittedBy,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
	SubmittedAt           *time.Time       `json:"submittedAt,omitempty"`
	ApprovedAt            *time.Time       `json:"approvedAt,omitempty"`
}

// Goal is a measurable annual goal owned by an IEP document.
type Goal struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	MeasurableCriteria string      `json:"measurableCriteria"`
	Domain             string      `json:"domain,omitempty"`
	TargetDate         string      `json:"targetDate,omitempty"`
	Version            uint64      `json:"version"`
	VectorClock        VectorClock `json:"vectorClock"`
	CreatedBy          string      `json:"createdBy"`
	UpdatedBy          string      `json:"updatedBy"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// Accommodation describes a support provided to the student.
type Accommodation struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    string      `json:"category,omitempty"`
	Setting     string      `json:"setting,omitempty"`
	Version     uint64      `json:"version"`
	VectorClock VectorClock `json:"vectorClock"`
	CreatedBy   string      `json:"createdBy"`
	UpdatedBy   string      `json:"updatedBy"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ApprovalRecord is an append-only ledger entry written from approval callbacks.
type ApprovalRecord struct {
	ID              string         `json:"id"`
	ApproverID      string         `json:"approverId"`
	ApproverRole    string         `json:"approverRole"`
	Status          ApprovalStatus `json:"status"`
	RequestedAt     time.Time      `json:"requestedAt"`
	RespondedAt     *time.Time     `json:"respondedAt,omitempty"`
	RejectionReason *string        `json:"rejectionReason,omitempty"`
	Comments        string         `json:"comments,omitempty"`
}

// Clone returns a deep copy safe to hand out of the store.
func (d *IEPDocument) Clone() *IEPDocument {
	if d == nil {
		return nil
	}
	out := *d
	out.SpecialFactors = make([]string, len(d.SpecialFactors))
	copy(out.SpecialFactors, d.SpecialFactors)
	out.Goals = make([]Goal, len(d.Goals))
	for i, goal := range d.Goals {
		goal.VectorClock = goal.VectorClock.Clone()
		out.Goals[i] = goal
	}
	out.Accommodations = make([]Accommodation, len(d.Accommodations))
	for i, acc := range d.Accommodations {
		acc.VectorClock = acc.VectorClock.Clone()
		out.Accommodations[i] = acc
	}
	out.ApprovalRecords = make([]ApprovalRecord, len(d.ApprovalRecords))
	for i, record := range d.ApprovalRecords {
		out.ApprovalRecords[i] = record.Clone()
	}
	out.VectorClock = d.VectorClock.Clone()
	if d.SubmittedBy != nil {
		v := *d.SubmittedBy
		out.SubmittedBy = &v
	}
	if d.SubmittedAt != nil {
		v := *d.SubmittedAt
		out.SubmittedAt = &v
	}
	if d.ApprovedAt != nil {
		v := *d.ApprovedAt
		out.ApprovedAt = &v
	}
	return &out
}

// Clone copies the record including its optional fields.
func (r ApprovalRecord) Clone() ApprovalRecord {
	if r.RespondedAt != nil {
		v := *r.RespondedAt
		r.RespondedAt = &v
	}
	if r.RejectionReason != nil {
		v := *r.RejectionReason
		r.RejectionReason = &v
	}
	return r
}

// IEPFilter constrains listing queries.
type IEPFilter struct {
	StudentID string
	Status    []IEPStatus
}
