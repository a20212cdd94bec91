package domain

import "github.com/google/uuid"

// BuildSummary partitions stored rows by decision against the current roster.
// notResponded clamps at zero: a member can leave the roster after answering
// and their stale row must not drive the count negative.
func BuildSummary(rows []Response, roster []uuid.UUID) ResponseSummary {
	s := ResponseSummary{Total: len(roster)}
	for _, r := range rows {
		switch r.Decision {
		case DecisionYes:
			s.Yes++
		case DecisionNo:
			s.No++
		}
		// maybe: neither bucket, stays in notResponded
	}
	s.NotResponded = s.Total - s.Yes - s.No
	if s.NotResponded < 0 {
		s.NotResponded = 0
	}
	return s
}

// BuildSummaries groups one bulk fetch by event id. Every requested event id
// gets an entry, so events with zero rows still report a full notResponded.
func BuildSummaries(rows []Response, roster []uuid.UUID, eventIDs []uuid.UUID) map[uuid.UUID]ResponseSummary {
	byEvent := make(map[uuid.UUID][]Response, len(eventIDs))
	for _, r := range rows {
		byEvent[r.EventID] = append(byEvent[r.EventID], r)
	}
	out := make(map[uuid.UUID]ResponseSummary, len(eventIDs))
	for _, id := range eventIDs {
		out[id] = BuildSummary(byEvent[id], roster)
	}
	return out
}

// BuildMatrix lays out every (date, member) cell for a multi-date event.
// Columns: each candidate date plus the "primary" nil-date column. Each column
// is pre-seeded with DecisionNone for every roster member.
func BuildMatrix(rows []Response, dates []CandidateDate, roster []uuid.UUID) DecisionMatrix {
	m := make(DecisionMatrix, len(dates)+1)

	seed := func(key string) {
		col := make(map[uuid.UUID]Decision, len(roster))
		for _, id := range roster {
			col[id] = DecisionNone
		}
		m[key] = col
	}

	seed(MatrixPrimaryKey)
	for _, d := range dates {
		seed(d.ID.String())
	}

	for _, r := range rows {
		key := MatrixPrimaryKey
		if r.DateID != nil {
			key = r.DateID.String()
		}
		col, ok := m[key]
		if !ok {
			// response for a date row that no longer exists; skip
			continue
		}
		col[r.MemberID] = r.Decision
	}
	return m
}
