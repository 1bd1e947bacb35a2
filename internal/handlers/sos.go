package handlers

import (
	"net/http"

	"family-sos-backend/internal/middleware"
	"family-sos-backend/internal/models"
	"family-sos-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SOSHandler handles SOS event HTTP requests
type SOSHandler struct {
	eventService *services.EventService
}

// NewSOSHandler creates a new SOS handler
func NewSOSHandler(eventService *services.EventService) *SOSHandler {
	return &SOSHandler{
		eventService: eventService,
	}
}

type createEventResponse struct {
	Success bool `json:"success"`
	*services.IntakeResult
}

// CreateEvent handles POST /functions/v1/sos-create
func (h *SOSHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.IntakeRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Bearer callers may only raise an SOS for themselves
	if !middleware.IsInternal(ctx) && middleware.GetUserID(ctx) != req.UserID {
		respondError(w, "Forbidden", http.StatusForbidden)
		return
	}

	result, err := h.eventService.CreateEvent(ctx, req)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", req.UserID).
			Msg("Failed to create SOS event")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, createEventResponse{Success: true, IntakeResult: result})
}

// ResolveEvent handles POST /functions/v1/sos/{event_id}/resolve
func (h *SOSHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	event, err := h.eventService.ResolveEvent(ctx, eventID, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("event_id", eventID).
			Msg("Failed to resolve SOS event")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"event":   event,
	})
}

type addLocationRequest struct {
	Lat      *float64 `json:"lat" validate:"required,latitude"`
	Lng      *float64 `json:"lng" validate:"required,longitude"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

// AddLocation handles POST /functions/v1/sos/{event_id}/locations
func (h *SOSHandler) AddLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	var req addLocationRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	loc, err := h.eventService.AddLocation(ctx, eventID, userID, *req.Lat, *req.Lng, req.Accuracy)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("event_id", eventID).
			Msg("Failed to add SOS location")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, loc)
}

// ListLocations handles GET /functions/v1/sos/{event_id}/locations
func (h *SOSHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	eventID := chi.URLParam(r, "event_id")

	locations, err := h.eventService.ListLocations(ctx, eventID, userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if locations == nil {
		locations = []*models.SOSLocation{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"locations": locations,
	})
}
