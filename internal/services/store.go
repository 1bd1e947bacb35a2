package services

import (
	"context"
	"time"

	"family-sos-backend/internal/models"
)

// The interfaces below are satisfied by the pgx repositories in internal/repository.

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
}

type ConnectionStore interface {
	ListActiveByOwner(ctx context.Context, ownerID string) ([]*models.Connection, error)
}

type FamilyStore interface {
	GetGroupByOwner(ctx context.Context, ownerID string) (*models.FamilyGroup, error)
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)
}

type EventStore interface {
	Create(ctx context.Context, event *models.SOSEvent) (*models.SOSEvent, bool, error)
	GetByID(ctx context.Context, id string) (*models.SOSEvent, error)
	GetForFamilyMember(ctx context.Context, eventID, userID string) (*models.SOSEvent, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	AddLocation(ctx context.Context, loc *models.SOSLocation) error
	ListLocations(ctx context.Context, eventID string) ([]*models.SOSLocation, error)
	CreateRegional(ctx context.Context, re *models.RegionalEvent) error
}

// AccessStore keeps one grant per event and user. Create reports false without
// writing while the existing grant is unexpired at grant.CreatedAt.
type AccessStore interface {
	Create(ctx context.Context, grant *models.SOSEventAccess) (bool, error)
	GetActive(ctx context.Context, eventID, userID string, at time.Time) (*models.SOSEventAccess, error)
}

type AcknowledgementStore interface {
	CreateOnce(ctx context.Context, ack *models.SOSAcknowledgement) (*models.SOSAcknowledgement, bool, error)
}

type AlertStore interface {
	Create(ctx context.Context, alert *models.FamilyAlert) error
}

type PlaceStore interface {
	ListByGroups(ctx context.Context, groupIDs []string) ([]*models.Place, error)
	LatestEvent(ctx context.Context, userID, placeID string) (*models.PlaceEvent, error)
	CreateEvent(ctx context.Context, e *models.PlaceEvent) error
}

// CallSequencer tells the automated calling workflow to stand down. Pause reports
// false when the sequence had already finished and nothing was paused.
type CallSequencer interface {
	Pause(ctx context.Context, eventID, reason string) (bool, error)
}

// PushTokenStore resolves a user's device token
type PushTokenStore interface {
	PushToken(ctx context.Context, userID string) (string, error)
}
