package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"family-sos-backend/internal/config"
	"family-sos-backend/internal/memstore"
	"family-sos-backend/internal/middleware"
	"family-sos-backend/internal/models"
	"family-sos-backend/internal/services"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret      = "jwt-secret"
	testInternalSecret = "internal-secret"
)

type testServer struct {
	t      *testing.T
	store  *memstore.Store
	app    *app
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		JWT:      config.JWTConfig{Secret: testJWTSecret},
		Security: config.SecurityConfig{InternalSecret: testInternalSecret},
		SOS: config.SOSConfig{
			AccessTTL:           24 * time.Hour,
			ChannelTimeout:      time.Second,
			FanoutConcurrency:   4,
			DefaultPlaceRadiusM: 150,
			RestrictedCountry:   "ES",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	store := memstore.New()
	hub := services.NewWSHub()
	a := newApp(cfg, memoryBackend(store), hub, hub, services.DisabledPusher{})

	srv := httptest.NewServer(newRouter(cfg, a))
	t.Cleanup(srv.Close)

	return &testServer{t: t, store: store, app: a, server: srv}
}

func (s *testServer) token(userID string) string {
	s.t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(s.t, err)
	return token
}

type caller struct {
	userID   string
	internal bool
}

func asUser(id string) caller { return caller{userID: id} }

var asInternal = caller{internal: true}

func (s *testServer) do(method, path string, as caller, body interface{}) (int, map[string]interface{}) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if as.internal {
		req.Header.Set(middleware.InternalSecretHeader, testInternalSecret)
	}
	if as.userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(as.userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) seedFamily() {
	s.store.PutProfile(models.Profile{UserID: "ana", FirstName: "Ana", CountryCode: "ES"})
	s.store.PutConnection(models.Connection{
		ID: "c1", OwnerID: "ana", ContactUserID: strPtr("friend"),
		Type: models.ConnectionTrustedContact, Status: models.ConnectionStatusActive,
	})
	s.store.PutGroup(models.FamilyGroup{ID: "fam", OwnerUserID: "ana", Name: "Family"})
	s.store.PutMembership(models.FamilyMembership{ID: "m1", GroupID: "fam", UserID: "luis", Status: models.MembershipStatusActive})
	s.store.PutPlace(models.Place{ID: "home", FamilyGroupID: "fam", Name: "Home", Lat: 40.0, Lng: -3.0})
}

func strPtr(s string) *string { return &s }

func TestCreateSOS(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()

	status, body := s.do(http.MethodPost, "/functions/v1/sos-create", asUser("ana"), map[string]interface{}{
		"user_id": "ana", "lat": 40.0, "lng": -3.0, "emergency_type": "medical",
	})

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["connections_notified"])
	event := body["event"].(map[string]interface{})
	assert.Equal(t, "active", event["status"])
	assert.Equal(t, "fam", event["group_id"])
	assert.Len(t, s.store.Grants(), 1)
}

func TestCreateSOS_Errors(t *testing.T) {
	s := newTestServer(t)
	s.store.PutProfile(models.Profile{UserID: "lonely", CountryCode: "ES"})

	tests := []struct {
		name   string
		as     caller
		body   interface{}
		status int
		code   string
	}{
		{"no credentials", caller{}, map[string]string{"user_id": "lonely"}, http.StatusUnauthorized, ""},
		{"malformed body", asUser("lonely"), "{", http.StatusBadRequest, ""},
		{"missing user", asInternal, map[string]string{}, http.StatusBadRequest, ""},
		{"bad emergency type", asInternal, map[string]string{"user_id": "lonely", "emergency_type": "fire"}, http.StatusBadRequest, ""},
		{"latitude out of range", asInternal, map[string]interface{}{"user_id": "lonely", "lat": 91.0, "lng": 0.0}, http.StatusBadRequest, ""},
		{"someone else's SOS", asUser("mallory"), map[string]string{"user_id": "lonely"}, http.StatusForbidden, ""},
		{"regional policy", asUser("lonely"), map[string]string{"user_id": "lonely"}, http.StatusForbidden, services.SpainRuleCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(http.MethodPost, "/functions/v1/sos-create", tt.as, tt.body)

			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["error"])
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
			}
		})
	}
	assert.Empty(t, s.store.Events())
}

func TestCreateSOS_InternalCaller(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()

	status, first := s.do(http.MethodPost, "/functions/v1/sos-create", asInternal, map[string]string{"user_id": "ana"})
	require.Equal(t, http.StatusOK, status)
	status, second := s.do(http.MethodPost, "/functions/v1/sos-create", asInternal, map[string]string{"user_id": "ana"})
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, true, second["deduplicated"])
	assert.Equal(t,
		first["event"].(map[string]interface{})["id"],
		second["event"].(map[string]interface{})["id"])
}

func createEvent(t *testing.T, s *testServer) string {
	t.Helper()
	status, body := s.do(http.MethodPost, "/functions/v1/sos-create", asUser("ana"), map[string]string{"user_id": "ana"})
	require.Equal(t, http.StatusOK, status)
	return body["event"].(map[string]interface{})["id"].(string)
}

func TestFamilyAlerts(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()
	eventID := createEvent(t, s)

	req := map[string]interface{}{
		"event_id":       eventID,
		"family_members": []map[string]string{{"user_id": "luis"}, {"user_id": ""}},
		"location":       map[string]interface{}{"lat": 40.0, "lng": -3.0, "address": "Calle Mayor 1"},
		"user_profile":   map[string]string{"first_name": "Ana", "last_name": "García"},
	}

	status, _ := s.do(http.MethodPost, "/functions/v1/family-sos-alerts", asUser("luis"), req)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.do(http.MethodPost, "/functions/v1/family-sos-alerts", asUser("ana"), req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["alerts_sent"])
	assert.Equal(t, float64(2), body["total_family_members"])
	results := body["alert_results"].([]interface{})
	require.Len(t, results, 2)
	assert.Equal(t, "sent", results[0].(map[string]interface{})["status"])
	assert.Equal(t, "failed", results[1].(map[string]interface{})["status"])

	status, _ = s.do(http.MethodPost, "/functions/v1/family-sos-alerts", asInternal, req)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(http.MethodPost, "/functions/v1/family-sos-alerts", asInternal, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAcknowledge(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()
	eventID := createEvent(t, s)
	path := "/functions/v1/family-sos-acknowledge"

	status, _ := s.do(http.MethodPost, path, asInternal, map[string]string{"event_id": eventID})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(http.MethodPost, path, asUser("stranger"), map[string]string{"event_id": eventID})
	assert.Equal(t, http.StatusForbidden, status)

	status, body := s.do(http.MethodPost, path, asUser("luis"), map[string]string{"event_id": eventID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["call_sequence_paused"])
	ack := body["acknowledgement"].(map[string]interface{})
	assert.Equal(t, "Received & On It", ack["message"])

	status, _ = s.do(http.MethodPost, path, asUser("luis"), map[string]string{"event_id": eventID, "message": "again"})
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, s.store.Acknowledgements(), 1)

	status, _ = s.do(http.MethodPost, "/functions/v1/sos/"+eventID+"/resolve", asUser("ana"), nil)
	require.Equal(t, http.StatusOK, status)

	s.store.PutMembership(models.FamilyMembership{ID: "m2", GroupID: "fam", UserID: "marta", Status: models.MembershipStatusActive})
	status, _ = s.do(http.MethodPost, path, asUser("marta"), map[string]string{"event_id": eventID})
	assert.Equal(t, http.StatusConflict, status)
}

func TestLocations(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()
	eventID := createEvent(t, s)
	path := "/functions/v1/sos/" + eventID + "/locations"

	status, _ := s.do(http.MethodPost, path, asUser("ana"), map[string]float64{"lat": 40.1})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(http.MethodPost, path, asUser("ana"), map[string]float64{"lat": 40.1, "lng": -3.1})
	assert.Equal(t, http.StatusCreated, status)

	status, body := s.do(http.MethodGet, path, asUser("friend"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["locations"], 1)

	status, _ = s.do(http.MethodGet, path, asUser("stranger"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.do(http.MethodPost, "/functions/v1/sos/no-such-event/resolve", asUser("ana"), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, services.ErrNotAuthorized.Error(), body["error"])
}

func TestDetectPlaceEvents(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()
	path := "/functions/v1/detect-place-events"
	body := map[string]interface{}{"user_id": "luis", "lat": 40.0, "lng": -3.0}

	status, _ := s.do(http.MethodPost, path, asUser("luis"), body)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(http.MethodPost, path, asInternal, map[string]interface{}{"user_id": "luis", "lat": 40.0})
	assert.Equal(t, http.StatusBadRequest, status)

	status, out := s.do(http.MethodPost, path, asInternal, body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), out["events_created"])

	_, out = s.do(http.MethodPost, path, asInternal, body)
	assert.Equal(t, float64(0), out["events_created"])
}

func TestRealtimeReceivesAcknowledgement(t *testing.T) {
	s := newTestServer(t)
	s.seedFamily()
	eventID := createEvent(t, s)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/realtime?token=" + s.token("ana")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return s.app.hub.SubscriberCount(services.FamilyChannel("fam")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status, _ := s.do(http.MethodPost, "/functions/v1/family-sos-acknowledge", asUser("luis"), map[string]string{"event_id": eventID})
	require.Equal(t, http.StatusOK, status)

	seen := map[string]bool{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var msg services.RealtimeMessage
		require.NoError(t, conn.ReadJSON(&msg))
		seen[msg.Channel+"/"+msg.Event] = true
	}
	assert.True(t, seen[services.FamilyChannel("fam")+"/sos_acknowledged"])
	assert.True(t, seen[services.FamilyMemberChannel("ana")+"/"+models.AlertTypeAcknowledgement])
}

func TestRealtimeRequiresToken(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.server.URL + "/realtime")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(s.server.URL + "/realtime?token=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
