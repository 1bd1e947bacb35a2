package handlers

import (
	"net/http"

	"family-sos-backend/internal/middleware"
	"family-sos-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// AlertHandler handles family alert fan-out requests
type AlertHandler struct {
	alertService *services.AlertService
	eventService *services.EventService
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(alertService *services.AlertService, eventService *services.EventService) *AlertHandler {
	return &AlertHandler{
		alertService: alertService,
		eventService: eventService,
	}
}

type fanoutResponse struct {
	Success bool `json:"success"`
	*services.FanoutReport
}

// SendFamilyAlerts handles POST /functions/v1/family-sos-alerts
func (h *AlertHandler) SendFamilyAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.FanoutRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !middleware.IsInternal(ctx) {
		userID := middleware.GetUserID(ctx)
		if err := h.eventService.AuthorizeOwner(ctx, req.EventID, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("event_id", req.EventID).Msg("Fan-out rejected")
			respondServiceError(w, err)
			return
		}
	}

	report := h.alertService.SendFamilyAlerts(ctx, req)

	respondJSON(w, http.StatusOK, fanoutResponse{Success: true, FanoutReport: report})
}
