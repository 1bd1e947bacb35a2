package services

import (
	"context"
	"fmt"
	"time"

	"family-sos-backend/internal/models"

	"github.com/google/uuid"
)

// AccessService issues time-boxed, scoped event access grants
type AccessService struct {
	store AccessStore
	ttl   time.Duration
	now   func() time.Time
}

// NewAccessService creates a new access service with the default grant ttl
func NewAccessService(store AccessStore, ttl time.Duration) *AccessService {
	return &AccessService{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// DefaultTTL returns the configured grant lifetime
func (s *AccessService) DefaultTTL() time.Duration {
	return s.ttl
}

// GrantAccess gives a contact access that expires ttl from now. A contact keeps at
// most one live grant per event: while one is unexpired it is returned as is and
// created is false.
func (s *AccessService) GrantAccess(ctx context.Context, eventID, contactUserID, scope string, ttl time.Duration) (grant *models.SOSEventAccess, created bool, err error) {
	if eventID == "" || contactUserID == "" {
		return nil, false, fmt.Errorf("%w: event id and contact user id are required", ErrInvalidRequest)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	grant = &models.SOSEventAccess{
		ID:          uuid.New().String(),
		EventID:     eventID,
		UserID:      contactUserID,
		AccessScope: scope,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}

	created, err = s.store.Create(ctx, grant)
	if err != nil {
		return nil, false, fmt.Errorf("failed to grant access: %w", err)
	}
	if created {
		return grant, true, nil
	}

	existing, err := s.store.GetActive(ctx, eventID, contactUserID, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing grant: %w", err)
	}
	return existing, false, nil
}

// ActiveGrant returns the user's unexpired grant for an event
func (s *AccessService) ActiveGrant(ctx context.Context, eventID, userID string) (*models.SOSEventAccess, error) {
	return s.store.GetActive(ctx, eventID, userID, s.now())
}
