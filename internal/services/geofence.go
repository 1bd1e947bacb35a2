package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"family-sos-backend/internal/metrics"
	"family-sos-backend/internal/models"
	"family-sos-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EarthRadiusM is the mean Earth radius used for great-circle distances
const EarthRadiusM = 6371000.0

// Haversine returns the great-circle distance in meters between two coordinates
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// GeofenceService detects enter/exit transitions for family places
type GeofenceService struct {
	families      FamilyStore
	places        PlaceStore
	defaultRadius float64
	now           func() time.Time
}

// NewGeofenceService creates a new geofence service
func NewGeofenceService(families FamilyStore, places PlaceStore, defaultRadius float64) *GeofenceService {
	return &GeofenceService{
		families:      families,
		places:        places,
		defaultRadius: defaultRadius,
		now:           time.Now,
	}
}

// Inside reports whether a position lies within a place; the boundary counts as inside
func (s *GeofenceService) Inside(place *models.Place, lat, lng float64) bool {
	radius := s.defaultRadius
	if place.RadiusM != nil && *place.RadiusM > 0 {
		radius = *place.RadiusM
	}
	return Haversine(lat, lng, place.Lat, place.Lng) <= radius
}

// transition decides which event, if any, the current state produces given the last one
func transition(prior *models.PlaceEvent, inside bool) (models.PlaceEventType, bool) {
	if prior == nil {
		if inside {
			return models.PlaceEnter, true
		}
		return "", false
	}

	wasInside := prior.EventType == models.PlaceEnter
	switch {
	case inside && !wasInside:
		return models.PlaceEnter, true
	case !inside && wasInside:
		return models.PlaceExit, true
	}
	return "", false
}

// DetectPlaceEvents records transitions for every place of the user's family groups
// and returns how many were created
func (s *GeofenceService) DetectPlaceEvents(ctx context.Context, userID string, lat, lng float64) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	groupIDs, err := s.families.GroupIDsForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load family groups: %w", err)
	}

	places, err := s.places.ListByGroups(ctx, groupIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load places: %w", err)
	}

	created := 0
	for _, place := range places {
		prior, err := s.places.LatestEvent(ctx, userID, place.ID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return created, fmt.Errorf("failed to load last place event: %w", err)
			}
			prior = nil
		}

		eventType, ok := transition(prior, s.Inside(place, lat, lng))
		if !ok {
			continue
		}

		err = s.places.CreateEvent(ctx, &models.PlaceEvent{
			ID:         uuid.New().String(),
			PlaceID:    place.ID,
			UserID:     userID,
			EventType:  eventType,
			Lat:        lat,
			Lng:        lng,
			OccurredAt: s.now(),
		})
		if err != nil {
			return created, fmt.Errorf("failed to record place event: %w", err)
		}
		created++
		metrics.PlaceEvents.WithLabelValues(string(eventType)).Inc()

		log.Info().
			Str("user_id", userID).
			Str("place_id", place.ID).
			Str("event_type", string(eventType)).
			Msg("Place transition recorded")
	}

	return created, nil
}
