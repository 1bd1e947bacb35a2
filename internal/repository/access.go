package repository

import (
	"context"
	"fmt"
	"time"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AccessRepository handles database operations for temporary event access grants
type AccessRepository struct {
	db *pgxpool.Pool
}

// NewAccessRepository creates a new access repository
func NewAccessRepository(db *pgxpool.Pool) *AccessRepository {
	return &AccessRepository{db: db}
}

// Create inserts an access grant, replacing the user's previous grant for the event
// only once it has expired. It returns false when a live grant is already in place.
func (r *AccessRepository) Create(ctx context.Context, grant *models.SOSEventAccess) (bool, error) {
	query := `
		INSERT INTO sos_event_access (id, event_id, user_id, access_scope, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, user_id) DO UPDATE
		SET id = EXCLUDED.id,
			access_scope = EXCLUDED.access_scope,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
		WHERE sos_event_access.expires_at <= EXCLUDED.created_at
	`
	result, err := r.db.Exec(ctx, query,
		grant.ID, grant.EventID, grant.UserID, grant.AccessScope, grant.ExpiresAt, grant.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create sos event access: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetActive returns the latest grant for (event, user) that has not expired at the given time
func (r *AccessRepository) GetActive(ctx context.Context, eventID, userID string, at time.Time) (*models.SOSEventAccess, error) {
	query := `
		SELECT id, event_id, user_id, access_scope, expires_at, created_at
		FROM sos_event_access
		WHERE event_id = $1 AND user_id = $2 AND expires_at > $3
		ORDER BY expires_at DESC
		LIMIT 1
	`
	var g models.SOSEventAccess
	err := r.db.QueryRow(ctx, query, eventID, userID, at).Scan(
		&g.ID, &g.EventID, &g.UserID, &g.AccessScope, &g.ExpiresAt, &g.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "sos event access")
	}
	return &g, nil
}
