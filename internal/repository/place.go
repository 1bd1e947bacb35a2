package repository

import (
	"context"
	"fmt"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PlaceRepository handles database operations for geofenced places and their transitions
type PlaceRepository struct {
	db *pgxpool.Pool
}

// NewPlaceRepository creates a new place repository
func NewPlaceRepository(db *pgxpool.Pool) *PlaceRepository {
	return &PlaceRepository{db: db}
}

// ListByGroups returns every place belonging to one of the given family groups
func (r *PlaceRepository) ListByGroups(ctx context.Context, groupIDs []string) ([]*models.Place, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, family_group_id, name, lat, lng, radius_m
		FROM places
		WHERE family_group_id = ANY($1)
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get places: %w", err)
	}
	defer rows.Close()

	var places []*models.Place
	for rows.Next() {
		var p models.Place
		if err := rows.Scan(&p.ID, &p.FamilyGroupID, &p.Name, &p.Lat, &p.Lng, &p.RadiusM); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating places: %w", err)
	}

	return places, nil
}

// LatestEvent returns the most recent transition for (user, place)
func (r *PlaceRepository) LatestEvent(ctx context.Context, userID, placeID string) (*models.PlaceEvent, error) {
	query := `
		SELECT id, place_id, user_id, event_type, lat, lng, occurred_at
		FROM place_events
		WHERE user_id = $1 AND place_id = $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`
	var e models.PlaceEvent
	err := r.db.QueryRow(ctx, query, userID, placeID).Scan(
		&e.ID, &e.PlaceID, &e.UserID, &e.EventType, &e.Lat, &e.Lng, &e.OccurredAt,
	)
	if err != nil {
		return nil, notFound(err, "place event")
	}
	return &e, nil
}

// CreateEvent inserts a transition
func (r *PlaceRepository) CreateEvent(ctx context.Context, e *models.PlaceEvent) error {
	query := `
		INSERT INTO place_events (id, place_id, user_id, event_type, lat, lng, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query, e.ID, e.PlaceID, e.UserID, e.EventType, e.Lat, e.Lng, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to create place event: %w", err)
	}
	return nil
}
