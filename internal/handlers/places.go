package handlers

import (
	"net/http"

	"family-sos-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PlaceHandler handles geofence detection requests from internal callers
type PlaceHandler struct {
	geofenceService *services.GeofenceService
}

// NewPlaceHandler creates a new place handler
func NewPlaceHandler(geofenceService *services.GeofenceService) *PlaceHandler {
	return &PlaceHandler{
		geofenceService: geofenceService,
	}
}

// DetectPlaceEventsRequest represents the request body for geofence detection
type DetectPlaceEventsRequest struct {
	UserID string   `json:"user_id" validate:"required"`
	Lat    *float64 `json:"lat" validate:"required,latitude"`
	Lng    *float64 `json:"lng" validate:"required,longitude"`
}

// DetectPlaceEvents handles POST /functions/v1/detect-place-events
func (h *PlaceHandler) DetectPlaceEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DetectPlaceEventsRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.geofenceService.DetectPlaceEvents(ctx, req.UserID, *req.Lat, *req.Lng)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", req.UserID).
			Msg("Failed to detect place events")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"events_created": created})
}
