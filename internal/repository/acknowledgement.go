package repository

import (
	"context"
	"errors"
	"fmt"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AcknowledgementRepository handles database operations for SOS acknowledgements
type AcknowledgementRepository struct {
	db *pgxpool.Pool
}

// NewAcknowledgementRepository creates a new acknowledgement repository
func NewAcknowledgementRepository(db *pgxpool.Pool) *AcknowledgementRepository {
	return &AcknowledgementRepository{db: db}
}

// CreateOnce inserts the acknowledgement unless (event_id, family_user_id) already has one.
// It returns the stored row and whether this call created it.
func (r *AcknowledgementRepository) CreateOnce(ctx context.Context, ack *models.SOSAcknowledgement) (*models.SOSAcknowledgement, bool, error) {
	query := `
		INSERT INTO sos_acknowledgements (id, event_id, family_user_id, message, acknowledged_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, family_user_id) DO NOTHING
		RETURNING id, event_id, family_user_id, message, acknowledged_at
	`
	var stored models.SOSAcknowledgement
	err := r.db.QueryRow(ctx, query,
		ack.ID, ack.EventID, ack.FamilyUserID, ack.Message, ack.AcknowledgedAt,
	).Scan(&stored.ID, &stored.EventID, &stored.FamilyUserID, &stored.Message, &stored.AcknowledgedAt)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create acknowledgement: %w", err)
	}

	existing, err := r.Get(ctx, ack.EventID, ack.FamilyUserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get retrieves the acknowledgement of a user for an event
func (r *AcknowledgementRepository) Get(ctx context.Context, eventID, userID string) (*models.SOSAcknowledgement, error) {
	query := `
		SELECT id, event_id, family_user_id, message, acknowledged_at
		FROM sos_acknowledgements
		WHERE event_id = $1 AND family_user_id = $2
	`
	var a models.SOSAcknowledgement
	err := r.db.QueryRow(ctx, query, eventID, userID).Scan(
		&a.ID, &a.EventID, &a.FamilyUserID, &a.Message, &a.AcknowledgedAt,
	)
	if err != nil {
		return nil, notFound(err, "acknowledgement")
	}
	return &a, nil
}
