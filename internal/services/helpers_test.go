package services

import (
	"context"
	"sync"
	"time"

	"family-sos-backend/internal/memstore"
	"family-sos-backend/internal/models"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type sentMessage struct {
	Channel string
	Msg     RealtimeMessage
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, channel string, msg RealtimeMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{Channel: channel, Msg: msg})
	return b.err
}

func (b *recordingBroadcaster) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *recordingBroadcaster) channels() []string {
	var out []string
	for _, m := range b.messages() {
		out = append(out, m.Channel)
	}
	return out
}

type pushCall struct {
	UserID       string
	Notification PushNotification
}

type stubPusher struct {
	mu    sync.Mutex
	calls []pushCall
	fail  map[string]error
	block map[string]bool
}

func (p *stubPusher) Push(ctx context.Context, userID string, n PushNotification) error {
	p.mu.Lock()
	p.calls = append(p.calls, pushCall{UserID: userID, Notification: n})
	err := p.fail[userID]
	block := p.block[userID]
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *stubPusher) pushedTo() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		out = append(out, c.UserID)
	}
	return out
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

// fixture wires every service over one in-memory store
type fixture struct {
	store    *memstore.Store
	realtime *recordingBroadcaster
	pusher   *stubPusher
	access   *AccessService
	events   *EventService
	alerts   *AlertService
	acks     *AcknowledgementService
	geofence *GeofenceService
}

func newFixture() *fixture {
	store := memstore.New()
	realtime := &recordingBroadcaster{}
	pusher := &stubPusher{fail: map[string]error{}, block: map[string]bool{}}

	access := NewAccessService(store.AccessTable(), 24*time.Hour)
	access.now = fixedClock

	events := NewEventService(store.Profiles(), store.Connections(), store.Families(), store.EventTable(), access, realtime, "ES")
	events.now = fixedClock

	alerts := NewAlertService(store.AlertTable(), realtime, pusher, 200*time.Millisecond, 4)
	alerts.now = fixedClock

	acks := NewAcknowledgementService(store.EventTable(), store.AckTable(), alerts, realtime, store.CallSequences())
	acks.now = fixedClock

	geofence := NewGeofenceService(store.Families(), store.PlaceTable(), 150)
	geofence.now = fixedClock

	return &fixture{
		store:    store,
		realtime: realtime,
		pusher:   pusher,
		access:   access,
		events:   events,
		alerts:   alerts,
		acks:     acks,
		geofence: geofence,
	}
}

// seedFamily creates a group owned by ownerID with the given active members
func (f *fixture) seedFamily(groupID, ownerID string, members ...string) {
	f.store.PutGroup(models.FamilyGroup{ID: groupID, OwnerUserID: ownerID, Name: "Family", CreatedAt: testNow.Add(-time.Hour)})
	for i, m := range members {
		f.store.PutMembership(models.FamilyMembership{
			ID:          groupID + "-m" + string(rune('0'+i)),
			GroupID:     groupID,
			UserID:      m,
			Status:      models.MembershipStatusActive,
			BillingType: "owner_paid",
		})
	}
}

func (f *fixture) seedConnection(id, ownerID, contactID, connType string) {
	f.store.PutConnection(models.Connection{
		ID:            id,
		OwnerID:       ownerID,
		ContactUserID: strPtr(contactID),
		Type:          connType,
		Status:        models.ConnectionStatusActive,
	})
}
