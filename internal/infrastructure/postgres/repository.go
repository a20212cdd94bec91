package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gigplan/availability-service/internal/contracts/event"
	"github.com/gigplan/availability-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the tables this service owns. Collaborator tables (events,
// candidate_dates, group_members) are expected to exist already.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// translateErr folds driver-level integrity failures into the domain error
// the retry classifier keys on. Class 23 covers unique/check/foreign-key.
func translateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return domain.ErrConstraintViolation
	}
	return err
}

// verifyEventGroup enforces the group-isolation discipline: every write path
// crosses the group boundary only with an explicit, matching group id.
func verifyEventGroup(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, groupID, eventID uuid.UUID) error {
	var owner uuid.UUID
	err := q.QueryRow(ctx, eventGroupSQL, eventID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEventNotFound
		}
		return err
	}
	if owner != groupID {
		return domain.ErrEventNotInGroup
	}
	return nil
}

// UpsertResponse inserts or updates the member's decision in one statement.
// Atomicity rests on the unique index over (event, member, date-or-zero), not
// on any client-side check-then-insert. The outbox row rides the same tx.
func (r *Repository) UpsertResponse(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision domain.Decision) error {
	if groupID == uuid.Nil {
		return domain.ErrGroupScopeRequired
	}
	if !decision.Committed() && decision != domain.DecisionMaybe {
		return domain.ErrInvalidDecision
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := verifyEventGroup(ctx, tx, groupID, eventID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, upsertResponseSQL, groupID, eventID, dateID, memberID, string(decision)); err != nil {
		return translateErr(err)
	}

	var dateStr *string
	if dateID != nil {
		s := dateID.String()
		dateStr = &s
	}
	payload, _ := json.Marshal(event.DomainEventEnvelope[event.ResponseRecordedPayload]{
		Version:    1,
		Producer:   "availability-service",
		OccurredAt: time.Now().UTC(),
		Payload: event.ResponseRecordedPayload{
			GroupID:  groupID.String(),
			EventID:  eventID.String(),
			DateID:   dateStr,
			MemberID: memberID.String(),
			Decision: string(decision),
		},
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (message_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, NOW(), 'pending')`,
		uuid.New(), "response.recorded", payload,
	)

	return tx.Commit(ctx)
}

func (r *Repository) GetResponse(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID) (domain.Response, error) {
	if groupID == uuid.Nil {
		return domain.Response{}, domain.ErrGroupScopeRequired
	}

	var rec domain.Response
	var decision string
	err := r.pool.QueryRow(ctx, getResponseSQL, groupID, eventID, memberID, dateID).
		Scan(&rec.EventID, &rec.DateID, &rec.MemberID, &decision, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Response{}, domain.ErrNoResponse
		}
		return domain.Response{}, err
	}
	rec.Decision = domain.Decision(decision)
	return rec, nil
}

// -------------------------
// event.canceled hard path (tx):
// - delete responses for the event
// - delete its candidate dates
// - outbox response.purged
// -------------------------

func (r *Repository) PurgeEventResponses(ctx context.Context, traceID string, eventID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.PurgeEventResponsesTx(ctx, tx, traceID, eventID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PurgeEventResponsesTx is called from the consumer inside ProcessOnce(...).
// IMPORTANT: do not call ProcessOnce here; the caller already did.
func (r *Repository) PurgeEventResponsesTx(ctx context.Context, tx pgx.Tx, traceID string, eventID uuid.UUID) error {
	traceID = strings.TrimSpace(traceID)

	tag, err := tx.Exec(ctx, `DELETE FROM responses WHERE event_id = $1`, eventID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM candidate_dates WHERE event_id = $1`, eventID); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{
		"event_id": eventID,
		"removed":  tag.RowsAffected(),
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, $4, NOW(), 'pending')`,
		uuid.New(), traceID, "response.purged", payload,
	)
	return nil
}
