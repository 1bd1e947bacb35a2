package handlers

import (
	"net/http"

	"family-sos-backend/internal/middleware"
	"family-sos-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// AcknowledgementHandler handles family acknowledgements
type AcknowledgementHandler struct {
	ackService *services.AcknowledgementService
}

// NewAcknowledgementHandler creates a new acknowledgement handler
func NewAcknowledgementHandler(ackService *services.AcknowledgementService) *AcknowledgementHandler {
	return &AcknowledgementHandler{
		ackService: ackService,
	}
}

// AcknowledgeRequest represents the request body for an acknowledgement
type AcknowledgeRequest struct {
	EventID string `json:"event_id" validate:"required"`
	Message string `json:"message" validate:"max=500"`
}

type acknowledgeResponse struct {
	Success bool `json:"success"`
	*services.AckResult
}

// Acknowledge handles POST /functions/v1/family-sos-acknowledge
func (h *AcknowledgementHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req AcknowledgeRequest
	if err := decodeRequest(r, &req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.ackService.Acknowledge(ctx, req.EventID, userID, req.Message)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("event_id", req.EventID).
			Msg("Failed to acknowledge SOS event")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, acknowledgeResponse{Success: true, AckResult: result})
}
