package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision is one member's answer for one (event, candidate date) pair.
// "maybe" is tolerated and stored, but only yes/no count as a committed
// answer: a maybe keeps the event on the member's pending list.
type Decision string

const (
	DecisionYes   Decision = "yes"
	DecisionNo    Decision = "no"
	DecisionMaybe Decision = "maybe"

	// DecisionNone marks a roster member with no stored row. Never persisted.
	DecisionNone Decision = ""
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionYes:
		return DecisionYes, nil
	case DecisionNo:
		return DecisionNo, nil
	case DecisionMaybe:
		return DecisionMaybe, nil
	default:
		return DecisionNone, ErrInvalidDecision
	}
}

// Committed reports whether the decision settles the prompt (yes or no).
func (d Decision) Committed() bool {
	return d == DecisionYes || d == DecisionNo
}

var (
	ErrGroupScopeRequired = errors.New("group scope required")
	ErrNotGroupMember     = errors.New("not an active group member")
	ErrInvalidDecision    = errors.New("invalid decision")
	ErrNoResponse         = errors.New("no response recorded")
	ErrEventNotFound      = errors.New("event not found")
	ErrEventNotInGroup    = errors.New("event does not belong to group")

	// ErrConstraintViolation is how the store surfaces integrity errors
	// (bad foreign keys, malformed rows). Never retried.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrRetriesExhausted terminates a write whose transient failures used up
	// the whole retry budget. Callers show "network issue, try again".
	ErrRetriesExhausted = errors.New("write retries exhausted")

	ErrCacheMiss = errors.New("cache miss")
)

// Response is one member's stored decision for one (event, date-or-nil) key.
// At most one row exists per (event, date-or-nil, member); the store's
// uniqueness constraint is the enforcement mechanism.
type Response struct {
	EventID  uuid.UUID
	DateID   *uuid.UUID // nil means the event's primary date
	MemberID uuid.UUID
	Decision Decision

	UpdatedAt time.Time
}

// CandidateDate is one of possibly several dates attached to an event.
type CandidateDate struct {
	ID      uuid.UUID
	EventID uuid.UUID
	Date    time.Time
}

// Event is the read-only view of the event-CRUD collaborator's table.
type Event struct {
	ID        uuid.UUID
	GroupID   uuid.UUID
	Name      string
	Date      time.Time
	StartTime string // "HH:MM", opaque to this service
	EndTime   string
	Location  string
	Confirmed bool
	CreatedAt time.Time
}

// PendingPrompt is an event still awaiting the member's committed answer.
type PendingPrompt struct {
	EventID   uuid.UUID
	GroupID   uuid.UUID
	Name      string
	Date      time.Time
	StartTime string
	EndTime   string
	Location  string
}

// ResponseSummary is derived per (event, date) and never cached: roster and
// responses can both change between reads.
type ResponseSummary struct {
	Yes          int `json:"yes"`
	No           int `json:"no"`
	NotResponded int `json:"not_responded"`
	Total        int `json:"total"`
}

// MatrixPrimaryKey keys the nil-date column of a decision matrix.
const MatrixPrimaryKey = "primary"

// DecisionMatrix maps date-id-or-"primary" -> member id -> decision.
// Every active roster member is present in every column; members without a
// row carry DecisionNone so absence is explicit rather than a missing key.
type DecisionMatrix map[string]map[uuid.UUID]Decision

// ResponseRepository is the durable response store. Every method is scoped by
// an explicit group id and fails closed when it is zero.
type ResponseRepository interface {
	UpsertResponse(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision Decision) error
	GetResponse(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID) (Response, error)

	// HasCommittedResponse reports whether the member holds a committed
	// (yes/no) row for the event on any candidate date. This is the same
	// settlement rule PendingEvents applies.
	HasCommittedResponse(ctx context.Context, groupID, eventID, memberID uuid.UUID) (bool, error)

	// ListEventResponses returns rows for one (event, date-or-nil) key.
	ListEventResponses(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID) ([]Response, error)
	// ListGroupResponses returns rows for many events in one pass (primary
	// date only), for batched dashboard summaries.
	ListGroupResponses(ctx context.Context, groupID uuid.UUID, eventIDs []uuid.UUID) ([]Response, error)
	// ListAllEventResponses returns every row for the event across all dates.
	ListAllEventResponses(ctx context.Context, groupID, eventID uuid.UUID) ([]Response, error)

	ListCandidateDates(ctx context.Context, groupID, eventID uuid.UUID) ([]CandidateDate, error)

	// PendingEvents lists tentative events with date >= from lacking a
	// committed (yes/no) response from the member, oldest first.
	PendingEvents(ctx context.Context, groupID, memberID uuid.UUID, from time.Time) ([]PendingPrompt, error)

	// PurgeEventResponses removes all responses and candidate dates for a
	// canceled event. Driven by the event.canceled consumer.
	PurgeEventResponses(ctx context.Context, traceID string, eventID uuid.UUID) error
}

// RosterRepository reads the roster collaborator's shared tables.
type RosterRepository interface {
	ActiveMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	IsActiveMember(ctx context.Context, groupID, memberID uuid.UUID) (bool, error)
}

// CacheRepository fronts the roster read and rate limiting. All methods are
// best-effort; callers fall through to the source of truth on miss or error.
type CacheRepository interface {
	GetRoster(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	SetRoster(ctx context.Context, groupID uuid.UUID, memberIDs []uuid.UUID) error
	InvalidateRoster(ctx context.Context, groupID uuid.UUID) error

	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}
