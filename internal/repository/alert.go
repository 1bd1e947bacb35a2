package repository

import (
	"context"
	"fmt"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AlertRepository writes the family_alerts delivery log
type AlertRepository struct {
	db *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create appends a delivery log row
func (r *AlertRepository) Create(ctx context.Context, alert *models.FamilyAlert) error {
	query := `
		INSERT INTO family_alerts (id, event_id, family_user_id, alert_type, alert_data, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		alert.ID, alert.EventID, alert.FamilyUserID, alert.AlertType, alert.Data, alert.Status, alert.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create family alert: %w", err)
	}
	return nil
}
