package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"family-sos-backend/internal/metrics"
	"family-sos-backend/internal/models"
	"family-sos-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// IntakeRequest represents a request to trigger an SOS
type IntakeRequest struct {
	UserID        string               `json:"user_id" validate:"required"`
	Lat           *float64             `json:"lat" validate:"omitempty,latitude"`
	Lng           *float64             `json:"lng" validate:"omitempty,longitude"`
	EmergencyType models.EmergencyType `json:"emergency_type" validate:"omitempty,oneof=general medical other"`
	Source        models.TriggerSource `json:"source" validate:"omitempty,oneof=app device web"`
}

// IntakeResult is the outcome of a successful intake
type IntakeResult struct {
	Event               *models.SOSEvent         `json:"event"`
	Connections         []*models.Connection     `json:"-"`
	Grants              []*models.SOSEventAccess `json:"-"`
	ConnectionsNotified int                      `json:"connections_notified"`
	RegionalCreated     bool                     `json:"regional_created"`
	Deduplicated        bool                     `json:"deduplicated,omitempty"`
}

// EventService owns the SOS event lifecycle: intake, location trail and resolution
type EventService struct {
	profiles          ProfileStore
	connections       ConnectionStore
	families          FamilyStore
	events            EventStore
	access            *AccessService
	realtime          Broadcaster
	restrictedCountry string
	now               func() time.Time
}

// NewEventService creates a new event service
func NewEventService(
	profiles ProfileStore,
	connections ConnectionStore,
	families FamilyStore,
	events EventStore,
	access *AccessService,
	realtime Broadcaster,
	restrictedCountry string,
) *EventService {
	return &EventService{
		profiles:          profiles,
		connections:       connections,
		families:          families,
		events:            events,
		access:            access,
		realtime:          realtime,
		restrictedCountry: restrictedCountry,
		now:               time.Now,
	}
}

// violatesRegionalPolicy reports whether a user in the restricted country may not
// trigger an SOS: no active connection and no regional subscription
func (s *EventService) violatesRegionalPolicy(profile *models.Profile, activeConnections int) bool {
	if !strings.EqualFold(profile.CountryCode, s.restrictedCountry) {
		return false
	}
	return activeConnections == 0 && !profile.RegionalSubscription
}

// CreateEvent validates eligibility, persists the event and grants trusted contacts access
func (s *EventService) CreateEvent(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if req.EmergencyType == "" {
		req.EmergencyType = models.EmergencyGeneral
	}
	if req.Source == "" {
		req.Source = models.SourceApp
	}

	profile, err := s.profiles.GetByUserID(ctx, req.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			metrics.EventsCreated.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		profile = &models.Profile{UserID: req.UserID}
	}

	connections, err := s.connections.ListActiveByOwner(ctx, req.UserID)
	if err != nil {
		metrics.EventsCreated.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	if s.violatesRegionalPolicy(profile, len(connections)) {
		metrics.EventsCreated.WithLabelValues("rejected").Inc()
		log.Warn().Str("user_id", req.UserID).Str("country", profile.CountryCode).Msg("SOS rejected by regional policy")
		return nil, ErrSpainRule
	}

	var groupID *string
	group, err := s.families.GetGroupByOwner(ctx, req.UserID)
	switch {
	case err == nil:
		groupID = &group.ID
	case errors.Is(err, repository.ErrNotFound):
	default:
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("Failed to look up family group")
	}

	now := s.now()
	event, created, err := s.events.Create(ctx, &models.SOSEvent{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		GroupID:       groupID,
		Lat:           req.Lat,
		Lng:           req.Lng,
		EmergencyType: req.EmergencyType,
		Source:        req.Source,
		Status:        models.EventStatusActive,
		CreatedAt:     now,
	})
	if err != nil {
		metrics.EventsCreated.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	result := &IntakeResult{
		Event:               event,
		Connections:         connections,
		ConnectionsNotified: len(connections),
		Deduplicated:        !created,
	}

	// repeat triggers also record their position and grant newly trusted contacts
	s.recordLocation(ctx, event.ID, req, now)
	result.Grants = s.grantTrustedContacts(ctx, event.ID, connections)

	if !created {
		metrics.EventsCreated.WithLabelValues("deduplicated").Inc()
		log.Info().
			Str("user_id", req.UserID).
			Str("event_id", event.ID).
			Int("new_grants", len(result.Grants)).
			Msg("Active SOS event already exists")
		return result, nil
	}

	result.RegionalCreated = s.createRegional(ctx, profile, event)

	metrics.EventsCreated.WithLabelValues("created").Inc()
	log.Info().
		Str("user_id", req.UserID).
		Str("event_id", event.ID).
		Int("connections", len(connections)).
		Int("grants", len(result.Grants)).
		Bool("regional_created", result.RegionalCreated).
		Msg("SOS event created")

	return result, nil
}

func (s *EventService) recordLocation(ctx context.Context, eventID string, req IntakeRequest, at time.Time) {
	if req.Lat == nil || req.Lng == nil {
		return
	}
	loc := &models.SOSLocation{
		ID:         uuid.New().String(),
		EventID:    eventID,
		Lat:        *req.Lat,
		Lng:        *req.Lng,
		RecordedAt: at,
	}
	if err := s.events.AddLocation(ctx, loc); err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to store SOS location")
	}
}

// grantTrustedContacts returns the grants written by this call. Contacts that
// already hold a live grant for the event are skipped.
func (s *EventService) grantTrustedContacts(ctx context.Context, eventID string, connections []*models.Connection) []*models.SOSEventAccess {
	var grants []*models.SOSEventAccess
	for _, c := range connections {
		if c.Type != models.ConnectionTrustedContact || c.ContactUserID == nil || *c.ContactUserID == "" {
			continue
		}
		grant, created, err := s.access.GrantAccess(ctx, eventID, *c.ContactUserID, models.AccessScopeLiveOnly, s.access.DefaultTTL())
		if err != nil {
			log.Error().Err(err).Str("event_id", eventID).Str("contact_id", *c.ContactUserID).Msg("Failed to grant event access")
			continue
		}
		if created {
			grants = append(grants, grant)
		}
	}
	return grants
}

// createRegional mirrors the event for the regional operator. Failures never undo
// the primary event.
func (s *EventService) createRegional(ctx context.Context, profile *models.Profile, event *models.SOSEvent) bool {
	if !profile.RegionalSubscription || profile.OrganizationID == nil || *profile.OrganizationID == "" {
		return false
	}

	err := s.events.CreateRegional(ctx, &models.RegionalEvent{
		ID:             uuid.New().String(),
		OrganizationID: *profile.OrganizationID,
		ClientUserID:   event.UserID,
		SOSEventID:     event.ID,
		EmergencyType:  event.EmergencyType,
		Status:         "open",
		Priority:       "medium",
		Lat:            event.Lat,
		Lng:            event.Lng,
		CreatedAt:      s.now(),
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to create regional SOS event")
		return false
	}
	return true
}

// ownedEvent returns the event if callerID triggered it
func (s *EventService) ownedEvent(ctx context.Context, eventID, callerID string) (*models.SOSEvent, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if event.UserID != callerID {
		return nil, ErrNotAuthorized
	}
	return event, nil
}

// AuthorizeOwner fails with ErrNotAuthorized unless callerID triggered the event
func (s *EventService) AuthorizeOwner(ctx context.Context, eventID, callerID string) error {
	_, err := s.ownedEvent(ctx, eventID, callerID)
	return err
}

// ResolveEvent closes an active event on behalf of the user who triggered it
func (s *EventService) ResolveEvent(ctx context.Context, eventID, callerID string) (*models.SOSEvent, error) {
	event, err := s.ownedEvent(ctx, eventID, callerID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusActive {
		return nil, ErrEventNotActive
	}

	at := s.now()
	if err := s.events.Resolve(ctx, eventID, at); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotActive
		}
		return nil, fmt.Errorf("failed to resolve event: %w", err)
	}
	event.Status = models.EventStatusResolved
	event.ResolvedAt = &at

	if event.GroupID != nil {
		err := s.realtime.Broadcast(ctx, FamilyChannel(*event.GroupID), RealtimeMessage{
			Type:    "broadcast",
			Event:   "sos_resolved",
			Payload: event,
		})
		if err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("Failed to broadcast resolution")
		}
	}

	log.Info().Str("event_id", eventID).Str("user_id", callerID).Msg("SOS event resolved")
	return event, nil
}

// AddLocation appends a location sample to the caller's active event
func (s *EventService) AddLocation(ctx context.Context, eventID, callerID string, lat, lng float64, accuracy *float64) (*models.SOSLocation, error) {
	event, err := s.ownedEvent(ctx, eventID, callerID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusActive {
		return nil, ErrEventNotActive
	}

	loc := &models.SOSLocation{
		ID:         uuid.New().String(),
		EventID:    eventID,
		Lat:        lat,
		Lng:        lng,
		Accuracy:   accuracy,
		RecordedAt: s.now(),
	}
	if err := s.events.AddLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("failed to add location: %w", err)
	}
	return loc, nil
}

// ListLocations returns the trail to the event owner or to a contact holding an
// unexpired access grant
func (s *EventService) ListLocations(ctx context.Context, eventID, callerID string) ([]*models.SOSLocation, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}

	if event.UserID != callerID {
		if _, err := s.access.ActiveGrant(ctx, eventID, callerID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotAuthorized
			}
			return nil, err
		}
	}

	return s.events.ListLocations(ctx, eventID)
}
