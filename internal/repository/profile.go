package repository

import (
	"context"
	"fmt"

	"family-sos-backend/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository handles database operations for user profiles
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByUserID retrieves a profile together with its regional subscription flag
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	query := `
		SELECT p.user_id, p.first_name, p.last_name, p.phone, p.country_code, p.push_token,
		       p.organization_id,
		       EXISTS(SELECT 1 FROM regional_subscriptions s
		              WHERE s.user_id = p.user_id AND s.status = 'active')
		FROM profiles p
		WHERE p.user_id = $1
	`
	var p models.Profile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.FirstName, &p.LastName, &p.Phone, &p.CountryCode, &p.PushToken,
		&p.OrganizationID, &p.RegionalSubscription,
	)
	if err != nil {
		return nil, notFound(err, "profile")
	}
	return &p, nil
}

// PushToken returns the device token registered for a user
func (r *ProfileRepository) PushToken(ctx context.Context, userID string) (string, error) {
	query := `SELECT push_token FROM profiles WHERE user_id = $1`
	var token *string
	if err := r.db.QueryRow(ctx, query, userID).Scan(&token); err != nil {
		return "", notFound(err, "push token")
	}
	if token == nil || *token == "" {
		return "", fmt.Errorf("push token: %w", ErrNotFound)
	}
	return *token, nil
}
