package postgres

// zeroUUID stands in for a NULL date_id inside the uniqueness constraint, so
// "primary date" responses collide with each other instead of being treated
// as distinct NULLs.
const zeroUUID = "00000000-0000-0000-0000-000000000000"

// Tables owned by this service. events, candidate_dates and group_members are
// owned by the event-CRUD / roster collaborators on the shared DB; we only
// read them (and delete candidate_dates on event.canceled).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS responses (
		id          BIGSERIAL PRIMARY KEY,
		group_id    UUID NOT NULL,
		event_id    UUID NOT NULL,
		date_id     UUID NULL,
		member_id   UUID NOT NULL,
		decision    TEXT NOT NULL CHECK (decision IN ('yes','no','maybe')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS responses_event_member_date_uq
		ON responses (event_id, member_id, COALESCE(date_id, '` + zeroUUID + `'::uuid))`,

	`CREATE INDEX IF NOT EXISTS responses_group_event_idx
		ON responses (group_id, event_id)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id            BIGSERIAL PRIMARY KEY,
		message_id    UUID NOT NULL,
		trace_id      TEXT NOT NULL DEFAULT '',
		routing_key   TEXT NOT NULL,
		payload       JSONB NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		attempt       INT NOT NULL DEFAULT 0,
		last_error    TEXT NULL,
		occurred_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		next_retry_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS outbox_pending_idx
		ON outbox (next_retry_at) WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS processed_messages (
		message_id   TEXT NOT NULL,
		handler_name TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, handler_name)
	)`,
}

const upsertResponseSQL = `
INSERT INTO responses (group_id, event_id, date_id, member_id, decision, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
ON CONFLICT (event_id, member_id, COALESCE(date_id, '` + zeroUUID + `'::uuid))
DO UPDATE SET decision = EXCLUDED.decision, updated_at = NOW()
`

const getResponseSQL = `
SELECT event_id, date_id, member_id, decision, updated_at
FROM responses
WHERE group_id = $1 AND event_id = $2 AND member_id = $3
  AND COALESCE(date_id, '` + zeroUUID + `'::uuid) = COALESCE($4, '` + zeroUUID + `'::uuid)
`

const listEventResponsesSQL = `
SELECT event_id, date_id, member_id, decision, updated_at
FROM responses
WHERE group_id = $1 AND event_id = $2
  AND COALESCE(date_id, '` + zeroUUID + `'::uuid) = COALESCE($3, '` + zeroUUID + `'::uuid)
`

// Any committed row, on any candidate date, settles the event for the member.
// Must stay in lockstep with the NOT EXISTS subquery in pendingEventsSQL.
const hasCommittedResponseSQL = `
SELECT EXISTS (
	SELECT 1 FROM responses
	WHERE group_id = $1 AND event_id = $2 AND member_id = $3
	  AND decision IN ('yes', 'no')
)
`

const listGroupResponsesSQL = `
SELECT event_id, date_id, member_id, decision, updated_at
FROM responses
WHERE group_id = $1 AND event_id = ANY($2) AND date_id IS NULL
`

const listAllEventResponsesSQL = `
SELECT event_id, date_id, member_id, decision, updated_at
FROM responses
WHERE group_id = $1 AND event_id = $2
`

const listCandidateDatesSQL = `
SELECT cd.id, cd.event_id, cd.date
FROM candidate_dates cd
JOIN events e ON e.id = cd.event_id
WHERE e.group_id = $1 AND cd.event_id = $2
ORDER BY cd.date ASC
`

// Tentative events still awaiting a committed (yes/no) answer from the
// member. A stored 'maybe' does not settle the prompt.
const pendingEventsSQL = `
SELECT e.id, e.group_id, e.name, e.date, e.start_time, e.end_time, e.location
FROM events e
WHERE e.group_id = $1
  AND e.confirmed = FALSE
  AND e.date >= $2
  AND NOT EXISTS (
        SELECT 1 FROM responses r
        WHERE r.event_id = e.id
          AND r.member_id = $3
          AND r.decision IN ('yes', 'no')
  )
ORDER BY e.date ASC, e.start_time ASC, e.created_at ASC
`

const eventGroupSQL = `SELECT group_id FROM events WHERE id = $1`

const activeMemberIDsSQL = `
SELECT member_id FROM group_members
WHERE group_id = $1 AND active = TRUE
ORDER BY member_id
`

const isActiveMemberSQL = `
SELECT EXISTS (
	SELECT 1 FROM group_members
	WHERE group_id = $1 AND member_id = $2 AND active = TRUE
)
`
