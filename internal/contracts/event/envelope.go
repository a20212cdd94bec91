package event

import "time"

// DomainEventEnvelope is the canonical envelope shared with the event-CRUD
// collaborator. message_id is optional for backward compatibility.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// EventCanceledPayload accepts both event_id and the legacy id field.
type EventCanceledPayload struct {
	EventID string `json:"event_id,omitempty"`
	ID      string `json:"id,omitempty"` // older producer
	Reason  string `json:"reason,omitempty"`
}

// MembershipChangedPayload announces a roster change (join, leave,
// activation flip) for a group.
type MembershipChangedPayload struct {
	GroupID string `json:"group_id"`
}

// ResponseRecordedPayload is what the outbox publishes for dashboards.
type ResponseRecordedPayload struct {
	GroupID  string  `json:"group_id"`
	EventID  string  `json:"event_id"`
	DateID   *string `json:"date_id,omitempty"`
	MemberID string  `json:"member_id"`
	Decision string  `json:"decision"`
}
