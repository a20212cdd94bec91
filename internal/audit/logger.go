package audit

import (
	"context"

	"github.com/gigplan/availability-service/internal/domain"
	appCtx "github.com/gigplan/availability-service/internal/pkg/context"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// DecisionRecorded logs a durably written availability decision.
func (l *Logger) DecisionRecorded(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision domain.Decision) {
	ev := l.log.Info().
		Str("action", "decision_recorded").
		Str("group_id", groupID.String()).
		Str("event_id", eventID.String()).
		Str("member_id", memberID.String()).
		Str("decision", string(decision)).
		Str("trace_id", appCtx.GetRequestID(ctx))
	if dateID != nil {
		ev = ev.Str("date_id", dateID.String())
	}
	ev.Msg("Member recorded availability")
}

// DecisionWriteFailed logs a write that failed after classification.
func (l *Logger) DecisionWriteFailed(ctx context.Context, groupID, eventID, memberID uuid.UUID, err error) {
	l.log.Warn().
		Str("action", "decision_write_failed").
		Str("group_id", groupID.String()).
		Str("event_id", eventID.String()).
		Str("member_id", memberID.String()).
		Err(err).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Availability write failed")
}

// ResponsesPurged logs the event.canceled cleanup.
func (l *Logger) ResponsesPurged(ctx context.Context, eventID uuid.UUID) {
	l.log.Info().
		Str("action", "responses_purged").
		Str("event_id", eventID.String()).
		Str("trace_id", appCtx.GetRequestID(ctx)).
		Msg("Responses purged for canceled event")
}
