package models

import "time"

// EventType names an outbound notification.
type EventType string

const (
	EventIEPCreated         EventType = "IEP_CREATED"
	EventIEPUpdated         EventType = "IEP_UPDATED"
	EventIEPSubmitted       EventType = "IEP_SUBMITTED"
	EventIEPApproved        EventType = "IEP_APPROVED"
	EventIEPRejected        EventType = "IEP_REJECTED"
	EventIEPArchived        EventType = "IEP_ARCHIVED"
	EventGoalAdded          EventType = "GOAL_ADDED"
	EventGoalUpdated        EventType = "GOAL_UPDATED"
	EventAccommodationAdded EventType = "ACCOMMODATION_ADDED"
)

// Event is the envelope published to the event bus.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	ResourceID string                 `json:"resourceId"`
	StudentID  string                 `json:"studentId"`
	Actor      string                 `json:"actor"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// DocumentSnapshot is the persisted JSON image of a document.
type DocumentSnapshot struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"studentId"`
	Status    string    `db:"status" json:"status"`
	Version   int64     `db:"version" json:"version"`
	Payload   []byte    `db:"payload" json:"payload"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
