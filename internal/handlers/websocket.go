package handlers

import (
	"context"
	"net/http"

	"family-sos-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Mobile clients do not send a browser origin
	},
}

// GroupLister resolves the family groups a user belongs to
type GroupLister interface {
	GroupIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// WebSocketHandler handles realtime subscriptions
type WebSocketHandler struct {
	hub         *services.WSHub
	authService *services.AuthService
	families    GroupLister
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, authService *services.AuthService, families GroupLister) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		authService: authService,
		families:    families,
	}
}

// HandleWebSocket handles GET /realtime?token=
// The connection is subscribed to the user's own alert channel and to the channel of
// every family group they belong to. Inbound frames are read only to keep it alive.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.authService.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	channels := []string{services.FamilyMemberChannel(userID)}
	groupIDs, err := h.families.GroupIDsForUser(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load family groups for realtime")
	}
	for _, id := range groupIDs {
		channels = append(channels, services.FamilyChannel(id))
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := h.hub.Register(userID, conn, channels)
	defer h.hub.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			return
		}
	}
}
