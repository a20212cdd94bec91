package postgres

import (
	"context"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/google/uuid"
)

func (r *Repository) ListEventResponses(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID) ([]domain.Response, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	rows, err := r.pool.Query(ctx, listEventResponsesSQL, groupID, eventID, dateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (r *Repository) HasCommittedResponse(ctx context.Context, groupID, eventID, memberID uuid.UUID) (bool, error) {
	if groupID == uuid.Nil {
		return false, domain.ErrGroupScopeRequired
	}
	var exists bool
	err := r.pool.QueryRow(ctx, hasCommittedResponseSQL, groupID, eventID, memberID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Repository) ListGroupResponses(ctx context.Context, groupID uuid.UUID, eventIDs []uuid.UUID) ([]domain.Response, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	if len(eventIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, listGroupResponsesSQL, groupID, eventIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (r *Repository) ListAllEventResponses(ctx context.Context, groupID, eventID uuid.UUID) ([]domain.Response, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	rows, err := r.pool.Query(ctx, listAllEventResponsesSQL, groupID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (r *Repository) ListCandidateDates(ctx context.Context, groupID, eventID uuid.UUID) ([]domain.CandidateDate, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	rows, err := r.pool.Query(ctx, listCandidateDatesSQL, groupID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CandidateDate
	for rows.Next() {
		var d domain.CandidateDate
		if err := rows.Scan(&d.ID, &d.EventID, &d.Date); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PendingEvents runs once per check cycle, not continuously. Sort order is
// the presentation order: (date ASC, start_time ASC, creation order).
func (r *Repository) PendingEvents(ctx context.Context, groupID, memberID uuid.UUID, from time.Time) ([]domain.PendingPrompt, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	rows, err := r.pool.Query(ctx, pendingEventsSQL, groupID, from, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingPrompt
	for rows.Next() {
		var p domain.PendingPrompt
		if err := rows.Scan(&p.EventID, &p.GroupID, &p.Name, &p.Date, &p.StartTime, &p.EndTime, &p.Location); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanResponses(rows rowScanner) ([]domain.Response, error) {
	var out []domain.Response
	for rows.Next() {
		var rec domain.Response
		var decision string
		if err := rows.Scan(&rec.EventID, &rec.DateID, &rec.MemberID, &decision, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Decision = domain.Decision(decision)
		out = append(out, rec)
	}
	return out, rows.Err()
}
