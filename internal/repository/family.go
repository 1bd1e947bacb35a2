package repository

import (
	"context"
	"fmt"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FamilyRepository handles database operations for family groups and memberships
type FamilyRepository struct {
	db *pgxpool.Pool
}

// NewFamilyRepository creates a new family repository
func NewFamilyRepository(db *pgxpool.Pool) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// GetGroupByOwner retrieves the family group owned by a user
func (r *FamilyRepository) GetGroupByOwner(ctx context.Context, ownerID string) (*models.FamilyGroup, error) {
	query := `
		SELECT id, owner_user_id, name, created_at
		FROM family_groups
		WHERE owner_user_id = $1
		ORDER BY created_at
		LIMIT 1
	`
	var g models.FamilyGroup
	err := r.db.QueryRow(ctx, query, ownerID).Scan(&g.ID, &g.OwnerUserID, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, notFound(err, "family group")
	}
	return &g, nil
}

// GroupIDsForUser returns the groups a user owns or is an active member of
func (r *FamilyRepository) GroupIDsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT id FROM family_groups WHERE owner_user_id = $1
		UNION
		SELECT group_id FROM family_memberships WHERE user_id = $1 AND status = 'active'
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get family groups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan family group id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating family groups: %w", err)
	}

	return ids, nil
}
