package postgres

import (
	"context"

	"github.com/gigplan/availability-service/internal/domain"
	"github.com/google/uuid"
)

// Roster reads go against the roster collaborator's group_members table on
// the shared DB, same as the response reads: always group-scoped.

func (r *Repository) ActiveMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	if groupID == uuid.Nil {
		return nil, domain.ErrGroupScopeRequired
	}
	rows, err := r.pool.Query(ctx, activeMemberIDsSQL, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) IsActiveMember(ctx context.Context, groupID, memberID uuid.UUID) (bool, error) {
	if groupID == uuid.Nil {
		return false, domain.ErrGroupScopeRequired
	}
	var active bool
	if err := r.pool.QueryRow(ctx, isActiveMemberSQL, groupID, memberID).Scan(&active); err != nil {
		return false, err
	}
	return active, nil
}
