//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/gigplan/availability-service/internal/infrastructure/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Collaborator tables live on the shared DB in production; the scratch test
// database needs local copies.
var fixtureTables = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id         UUID PRIMARY KEY,
		group_id   UUID NOT NULL,
		name       TEXT NOT NULL DEFAULT '',
		date       DATE NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time   TEXT NOT NULL DEFAULT '',
		location   TEXT NOT NULL DEFAULT '',
		confirmed  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS candidate_dates (
		id       UUID PRIMARY KEY,
		event_id UUID NOT NULL,
		date     DATE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id  UUID NOT NULL,
		member_id UUID NOT NULL,
		active    BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (group_id, member_id)
	)`,
}

func setupRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := postgres.New(pool)
	require.NoError(t, repo.Migrate(context.Background()))

	for _, stmt := range fixtureTables {
		_, err := pool.Exec(context.Background(), stmt)
		require.NoError(t, err)
	}

	_, err = pool.Exec(context.Background(),
		"TRUNCATE TABLE responses, outbox, processed_messages, events, candidate_dates, group_members RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return repo, pool
}

func insertEvent(t *testing.T, pool *pgxpool.Pool, groupID uuid.UUID, date time.Time, confirmed bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO events (id, group_id, name, date, start_time, confirmed) VALUES ($1, $2, 'gig', $3, '19:00', $4)`,
		id, groupID, date, confirmed)
	require.NoError(t, err)
	return id
}

func TestUpsertResponse_Idempotent(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID, memberID := uuid.New(), uuid.New()
	eventID := insertEvent(t, pool, groupID, time.Now().AddDate(0, 0, 7), false)

	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, memberID, domain.DecisionYes))
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, memberID, domain.DecisionYes))

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM responses").Scan(&count))
	assert.Equal(t, 1, count, "repeating the same upsert never duplicates")

	// flip the decision in place
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, memberID, domain.DecisionNo))

	rec, err := repo.GetResponse(ctx, groupID, eventID, nil, memberID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNo, rec.Decision)

	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM responses").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUpsertResponse_PerDateIsolation(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID, memberID := uuid.New(), uuid.New()
	eventID := insertEvent(t, pool, groupID, time.Now().AddDate(0, 0, 7), false)
	dateID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO candidate_dates (id, event_id, date) VALUES ($1, $2, $3)`,
		dateID, eventID, time.Now().AddDate(0, 0, 8))
	require.NoError(t, err)

	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, memberID, domain.DecisionYes))
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, &dateID, memberID, domain.DecisionNo))

	primary, err := repo.GetResponse(ctx, groupID, eventID, nil, memberID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionYes, primary.Decision)

	dated, err := repo.GetResponse(ctx, groupID, eventID, &dateID, memberID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionNo, dated.Decision)
}

func TestUpsertResponse_GroupIsolation(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	ownerGroup, otherGroup, memberID := uuid.New(), uuid.New(), uuid.New()
	eventID := insertEvent(t, pool, ownerGroup, time.Now().AddDate(0, 0, 7), false)

	err := repo.UpsertResponse(ctx, otherGroup, eventID, nil, memberID, domain.DecisionYes)
	assert.ErrorIs(t, err, domain.ErrEventNotInGroup)

	err = repo.UpsertResponse(ctx, ownerGroup, uuid.New(), nil, memberID, domain.DecisionYes)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	err = repo.UpsertResponse(ctx, uuid.Nil, eventID, nil, memberID, domain.DecisionYes)
	assert.ErrorIs(t, err, domain.ErrGroupScopeRequired)
}

func TestUpsertResponse_WritesOutboxRow(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID, memberID := uuid.New(), uuid.New()
	eventID := insertEvent(t, pool, groupID, time.Now().AddDate(0, 0, 7), false)

	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, memberID, domain.DecisionYes))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM outbox WHERE routing_key = 'response.recorded' AND status = 'pending'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPendingEvents(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID, memberID := uuid.New(), uuid.New()
	today := time.Now().Truncate(24 * time.Hour)

	answered := insertEvent(t, pool, groupID, today.AddDate(0, 0, 3), false)
	maybed := insertEvent(t, pool, groupID, today.AddDate(0, 0, 5), false)
	open := insertEvent(t, pool, groupID, today.AddDate(0, 0, 7), false)
	confirmed := insertEvent(t, pool, groupID, today.AddDate(0, 0, 9), true)
	past := insertEvent(t, pool, groupID, today.AddDate(0, 0, -2), false)
	_ = confirmed
	_ = past

	require.NoError(t, repo.UpsertResponse(ctx, groupID, answered, nil, memberID, domain.DecisionNo))
	require.NoError(t, repo.UpsertResponse(ctx, groupID, maybed, nil, memberID, domain.DecisionMaybe))

	got, err := repo.PendingEvents(ctx, groupID, memberID, today)
	require.NoError(t, err)

	require.Len(t, got, 2, "maybe does not settle; confirmed and past events are excluded")
	assert.Equal(t, maybed, got[0].EventID, "oldest first")
	assert.Equal(t, open, got[1].EventID)
}

func TestHasCommittedResponse_AnyDateSettles(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID, memberID := uuid.New(), uuid.New()
	eventID := insertEvent(t, pool, groupID, time.Now().AddDate(0, 0, 7), false)
	dateID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO candidate_dates (id, event_id, date) VALUES ($1, $2, $3)`,
		dateID, eventID, time.Now().AddDate(0, 0, 8))
	require.NoError(t, err)

	got, err := repo.HasCommittedResponse(ctx, groupID, eventID, memberID)
	require.NoError(t, err)
	assert.False(t, got, "no rows yet")

	// maybe does not settle
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, memberID, domain.DecisionMaybe))
	got, err = repo.HasCommittedResponse(ctx, groupID, eventID, memberID)
	require.NoError(t, err)
	assert.False(t, got)

	// a yes against a single candidate date settles the event, and the flag
	// agrees with the pending list
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, &dateID, memberID, domain.DecisionYes))
	got, err = repo.HasCommittedResponse(ctx, groupID, eventID, memberID)
	require.NoError(t, err)
	assert.True(t, got)

	pending, err := repo.PendingEvents(ctx, groupID, memberID, time.Now().Truncate(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPurgeEventResponses(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID := uuid.New()
	eventID := insertEvent(t, pool, groupID, time.Now().AddDate(0, 0, 7), false)
	keepEvent := insertEvent(t, pool, groupID, time.Now().AddDate(0, 0, 8), false)

	m1, m2 := uuid.New(), uuid.New()
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, m1, domain.DecisionYes))
	require.NoError(t, repo.UpsertResponse(ctx, groupID, eventID, nil, m2, domain.DecisionNo))
	require.NoError(t, repo.UpsertResponse(ctx, groupID, keepEvent, nil, m1, domain.DecisionYes))

	require.NoError(t, repo.PurgeEventResponses(ctx, "trace-1", eventID))

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM responses WHERE event_id = $1", eventID).Scan(&count))
	assert.Zero(t, count)

	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM responses WHERE event_id = $1", keepEvent).Scan(&count))
	assert.Equal(t, 1, count, "other events untouched")

	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM outbox WHERE routing_key = 'response.purged'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestProcessOnce_Dedupes(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	calls := 0
	handler := func(tx pgx.Tx) error {
		calls++
		return nil
	}

	processed, err := repo.ProcessOnce(ctx, "msg-1", "event_canceled_purge", handler)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = repo.ProcessOnce(ctx, "msg-1", "event_canceled_purge", handler)
	require.NoError(t, err)
	assert.False(t, processed, "redelivery is a no-op")

	assert.Equal(t, 1, calls)
}

func TestRoster(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	groupID := uuid.New()
	active, inactive := uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO group_members (group_id, member_id, active) VALUES ($1, $2, TRUE), ($1, $3, FALSE)`,
		groupID, active, inactive)
	require.NoError(t, err)

	ids, err := repo.ActiveMemberIDs(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{active}, ids)

	ok, err := repo.IsActiveMember(ctx, groupID, active)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsActiveMember(ctx, groupID, inactive)
	require.NoError(t, err)
	assert.False(t, ok)
}
