package service

import (
	"context"
	"errors"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/gigplan/availability-service/internal/pkg/logger"
	"github.com/google/uuid"
)

// AvailabilityService coordinates the response store, the roster collaborator
// and the retrying writer. Write paths fail closed (group scope, membership);
// read paths feeding dashboards degrade to empty results on query failure.
type AvailabilityService struct {
	responses domain.ResponseRepository
	roster    domain.RosterRepository
	cache     domain.CacheRepository
	writer    *RetryingWriter

	now func() time.Time
}

type Option func(*AvailabilityService)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *AvailabilityService) { s.now = now }
}

func New(responses domain.ResponseRepository, roster domain.RosterRepository, cache domain.CacheRepository, writer *RetryingWriter, opts ...Option) *AvailabilityService {
	s := &AvailabilityService{
		responses: responses,
		roster:    roster,
		cache:     cache,
		writer:    writer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordDecision is the single write entry point: membership guard, then the
// retrying upsert. The guard result is already classified (authorization
// errors are never retried).
func (s *AvailabilityService) RecordDecision(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID, decision domain.Decision) error {
	if groupID == uuid.Nil {
		return domain.ErrGroupScopeRequired
	}
	if !decision.Committed() && decision != domain.DecisionMaybe {
		return domain.ErrInvalidDecision
	}

	if err := s.EnsureActiveMember(ctx, groupID, memberID); err != nil {
		return err
	}

	return s.writer.Write(ctx, groupID, eventID, dateID, memberID, decision)
}

// EnsureActiveMember fails closed unless the member is on the group's active
// roster. Responses are group-internal data, so reads enforce this too.
func (s *AvailabilityService) EnsureActiveMember(ctx context.Context, groupID, memberID uuid.UUID) error {
	if groupID == uuid.Nil {
		return domain.ErrGroupScopeRequired
	}
	active, err := s.roster.IsActiveMember(ctx, groupID, memberID)
	if err != nil {
		return err
	}
	if !active {
		return domain.ErrNotGroupMember
	}
	return nil
}

// MyDecision returns the member's stored response for the key, if any.
func (s *AvailabilityService) MyDecision(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID, memberID uuid.UUID) (domain.Response, error) {
	return s.responses.GetResponse(ctx, groupID, eventID, dateID, memberID)
}

// HasResponded reports whether the member has a committed (yes/no) answer on
// any candidate date. A yes against one dated option settles the event here
// exactly as it removes it from the pending list.
func (s *AvailabilityService) HasResponded(ctx context.Context, groupID, eventID uuid.UUID, memberID uuid.UUID) (bool, error) {
	return s.responses.HasCommittedResponse(ctx, groupID, eventID, memberID)
}

// Summary computes yes/no/notResponded for one (event, date-or-nil) key.
// Query failures degrade to a zero summary: this path feeds best-effort UI.
func (s *AvailabilityService) Summary(ctx context.Context, groupID, eventID uuid.UUID, dateID *uuid.UUID) (domain.ResponseSummary, error) {
	if groupID == uuid.Nil {
		return domain.ResponseSummary{}, domain.ErrGroupScopeRequired
	}

	roster, err := s.rosterIDs(ctx, groupID)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("roster read failed; degrading summary to zero")
		return domain.ResponseSummary{}, nil
	}
	rows, err := s.responses.ListEventResponses(ctx, groupID, eventID, dateID)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("response read failed; degrading summary to zero")
		return domain.ResponseSummary{}, nil
	}
	return domain.BuildSummary(rows, roster), nil
}

// BulkSummaries fetches all relevant rows in one pass and groups by event,
// avoiding a round-trip per event on dashboards.
func (s *AvailabilityService) BulkSummaries(ctx context.Context, groupID uuid.UUID, eventIDs []uuid.UUID) (map[uuid.UUID]domain.ResponseSummary, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	if len(eventIDs) == 0 {
		return map[uuid.UUID]domain.ResponseSummary{}, nil
	}

	roster, err := s.rosterIDs(ctx, groupID)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("roster read failed; degrading bulk summaries")
		return map[uuid.UUID]domain.ResponseSummary{}, nil
	}
	rows, err := s.responses.ListGroupResponses(ctx, groupID, eventIDs)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("bulk response read failed; degrading")
		return map[uuid.UUID]domain.ResponseSummary{}, nil
	}
	return domain.BuildSummaries(rows, roster, eventIDs), nil
}

// Matrix lays out decision-or-absent per (date, member) for a multi-date
// event, pre-seeded with every active roster member.
func (s *AvailabilityService) Matrix(ctx context.Context, groupID, eventID uuid.UUID) (domain.DecisionMatrix, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}

	roster, err := s.rosterIDs(ctx, groupID)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("roster read failed; degrading matrix")
		return domain.DecisionMatrix{}, nil
	}
	dates, err := s.responses.ListCandidateDates(ctx, groupID, eventID)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("candidate date read failed; degrading matrix")
		return domain.DecisionMatrix{}, nil
	}
	rows, err := s.responses.ListAllEventResponses(ctx, groupID, eventID)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Msg("response read failed; degrading matrix")
		return domain.DecisionMatrix{}, nil
	}
	return domain.BuildMatrix(rows, dates, roster), nil
}

// PendingPrompts lists tentative events with date >= today still lacking the
// member's committed answer, oldest first. Unlike the summary reads this
// returns the error: the coordinator owns the degrade-to-empty policy for a
// check cycle.
func (s *AvailabilityService) PendingPrompts(ctx context.Context, groupID, memberID uuid.UUID) ([]domain.PendingPrompt, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	return s.responses.PendingEvents(ctx, groupID, memberID, today)
}

// rosterIDs is cache-first with DB fallback; redis trouble never fails a read.
func (s *AvailabilityService) rosterIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	if s.cache != nil {
		ids, err := s.cache.GetRoster(ctx, groupID)
		if err == nil {
			return ids, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			logger.WithCtx(ctx).Debug().Err(err).Msg("roster cache read failed; falling through")
		}
	}

	ids, err := s.roster.ActiveMemberIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetRoster(ctx, groupID, ids)
	}
	return ids, nil
}
