package repository

import (
	"context"
	"fmt"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectionRepository handles database operations for owner -> contact connections
type ConnectionRepository struct {
	db *pgxpool.Pool
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *pgxpool.Pool) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// ListActiveByOwner returns every active connection owned by a user
func (r *ConnectionRepository) ListActiveByOwner(ctx context.Context, ownerID string) ([]*models.Connection, error) {
	query := `
		SELECT id, owner_id, contact_user_id, type, status
		FROM connections
		WHERE owner_id = $1 AND status = 'active'
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		var c models.Connection
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ContactUserID, &c.Type, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		connections = append(connections, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}
