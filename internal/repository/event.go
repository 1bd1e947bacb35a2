package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository handles database operations for SOS events and their child rows
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, user_id, group_id, lat, lng, emergency_type, source, status, created_at, resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.SOSEvent, error) {
	var e models.SOSEvent
	err := row.Scan(
		&e.ID, &e.UserID, &e.GroupID, &e.Lat, &e.Lng, &e.EmergencyType, &e.Source,
		&e.Status, &e.CreatedAt, &e.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// createAttempts bounds how often Create retries when the conflicting active event is
// resolved between the insert and the lookup
const createAttempts = 2

// Create inserts a new active event. If the user already has an active event the
// existing row is returned with created=false.
func (r *EventRepository) Create(ctx context.Context, event *models.SOSEvent) (*models.SOSEvent, bool, error) {
	query := `
		INSERT INTO sos_events (id, user_id, group_id, lat, lng, emergency_type, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) WHERE status = 'active' DO NOTHING
	`
	insert := func(ctx context.Context) (bool, error) {
		result, err := r.db.Exec(ctx, query,
			event.ID, event.UserID, event.GroupID, event.Lat, event.Lng,
			event.EmergencyType, event.Source, event.Status, event.CreatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to create sos event: %w", err)
		}
		return result.RowsAffected() == 1, nil
	}
	loadActive := func(ctx context.Context) (*models.SOSEvent, error) {
		return r.GetActiveByUser(ctx, event.UserID)
	}
	return createOrLoadActive(ctx, event, insert, loadActive)
}

func createOrLoadActive(
	ctx context.Context,
	event *models.SOSEvent,
	insert func(context.Context) (bool, error),
	loadActive func(context.Context) (*models.SOSEvent, error),
) (*models.SOSEvent, bool, error) {
	for attempt := 1; ; attempt++ {
		inserted, err := insert(ctx)
		if err != nil {
			return nil, false, err
		}
		if inserted {
			return event, true, nil
		}

		existing, err := loadActive(ctx)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) || attempt == createAttempts {
			return nil, false, err
		}
	}
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.SOSEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM sos_events WHERE id = $1`
	event, err := scanEvent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "sos event")
	}
	return event, nil
}

// GetActiveByUser retrieves the active event of a user
func (r *EventRepository) GetActiveByUser(ctx context.Context, userID string) (*models.SOSEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM sos_events WHERE user_id = $1 AND status = 'active'`
	event, err := scanEvent(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, notFound(err, "active sos event")
	}
	return event, nil
}

// GetForFamilyMember retrieves an event only if the user is an active member of the
// family group the event is tagged with
func (r *EventRepository) GetForFamilyMember(ctx context.Context, eventID, userID string) (*models.SOSEvent, error) {
	query := `
		SELECT e.id, e.user_id, e.group_id, e.lat, e.lng, e.emergency_type, e.source,
		       e.status, e.created_at, e.resolved_at
		FROM sos_events e
		JOIN family_groups g ON g.id = e.group_id
		JOIN family_memberships m ON m.group_id = g.id
		WHERE e.id = $1 AND m.user_id = $2 AND m.status = 'active'
		LIMIT 1
	`
	event, err := scanEvent(r.db.QueryRow(ctx, query, eventID, userID))
	if err != nil {
		return nil, notFound(err, "sos event")
	}
	return event, nil
}

// Resolve marks an active event as resolved. It returns ErrNotFound when no active
// event with that id exists.
func (r *EventRepository) Resolve(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sos_events SET status = 'resolved', resolved_at = $2 WHERE id = $1 AND status = 'active'`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to resolve sos event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("active sos event: %w", ErrNotFound)
	}
	return nil
}

// AddLocation inserts an immutable location sample
func (r *EventRepository) AddLocation(ctx context.Context, loc *models.SOSLocation) error {
	query := `
		INSERT INTO sos_locations (id, event_id, lat, lng, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, loc.ID, loc.EventID, loc.Lat, loc.Lng, loc.Accuracy, loc.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to create sos location: %w", err)
	}
	return nil
}

// ListLocations returns the location trail of an event, oldest first
func (r *EventRepository) ListLocations(ctx context.Context, eventID string) ([]*models.SOSLocation, error) {
	query := `
		SELECT id, event_id, lat, lng, accuracy, recorded_at
		FROM sos_locations
		WHERE event_id = $1
		ORDER BY recorded_at
	`
	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sos locations: %w", err)
	}
	defer rows.Close()

	var locations []*models.SOSLocation
	for rows.Next() {
		var l models.SOSLocation
		if err := rows.Scan(&l.ID, &l.EventID, &l.Lat, &l.Lng, &l.Accuracy, &l.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sos location: %w", err)
		}
		locations = append(locations, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sos locations: %w", err)
	}

	return locations, nil
}

// CreateRegional inserts the regional-operator mirror of an event
func (r *EventRepository) CreateRegional(ctx context.Context, re *models.RegionalEvent) error {
	query := `
		INSERT INTO regional_sos_events
			(id, organization_id, client_user_id, sos_event_id, emergency_type, status, priority, lat, lng, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		re.ID, re.OrganizationID, re.ClientUserID, re.SOSEventID, re.EmergencyType,
		re.Status, re.Priority, re.Lat, re.Lng, re.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create regional sos event: %w", err)
	}
	return nil
}
