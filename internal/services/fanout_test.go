package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"family-sos-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fanoutRequest(members ...string) FanoutRequest {
	req := FanoutRequest{
		EventID:     "event-1",
		Location:    &models.AlertLocation{Lat: 40.0, Lng: -3.0, Address: "Calle Mayor 1"},
		UserProfile: models.AlertProfile{FirstName: "Ana", LastName: "García"},
	}
	for _, m := range members {
		req.FamilyMembers = append(req.FamilyMembers, FamilyMember{UserID: m})
	}
	return req
}

func TestEmergencyMessage(t *testing.T) {
	profile := models.AlertProfile{FirstName: "Ana", LastName: "García"}

	assert.Equal(t, "🚨 EMERGENCY: Ana García needs help at Calle Mayor 1",
		EmergencyMessage(profile, &models.AlertLocation{Address: "Calle Mayor 1"}))
	assert.Equal(t, "🚨 EMERGENCY: Ana García needs help at their location",
		EmergencyMessage(profile, &models.AlertLocation{Lat: 1, Lng: 2}))
	assert.Equal(t, "🚨 EMERGENCY: Ana García needs help at their location",
		EmergencyMessage(profile, nil))
}

func TestSendFamilyAlerts_AllChannels(t *testing.T) {
	f := newFixture()

	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1", "m2", "m3"))

	assert.Equal(t, "event-1", report.EventID)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.AlertsSent)
	require.Len(t, report.Results, 3)
	for i, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, id, report.Results[i].UserID)
		assert.Equal(t, RecipientSent, report.Results[i].Status)
		assert.Equal(t, []string{ChannelDatabase, ChannelRealtime, ChannelPush}, report.Results[i].Methods)
	}

	alerts := f.store.Alerts()
	require.Len(t, alerts, 3)
	for _, a := range alerts {
		assert.Equal(t, models.AlertTypeSOSEmergency, a.AlertType)
		require.NotNil(t, a.Data.Emergency)
		assert.Equal(t, "event-1", a.Data.Emergency.EventID)
		assert.Contains(t, a.Data.Emergency.Message, "Calle Mayor 1")
	}

	assert.ElementsMatch(t,
		[]string{FamilyMemberChannel("m1"), FamilyMemberChannel("m2"), FamilyMemberChannel("m3")},
		f.realtime.channels())
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, f.pusher.pushedTo())
}

func TestSendFamilyAlerts_PushFailureDoesNotFailRecipient(t *testing.T) {
	f := newFixture()
	f.pusher.fail["m2"] = errors.New("device unregistered")

	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1", "m2", "m3"))

	assert.Equal(t, 3, report.AlertsSent)
	outcome := report.Results[1]
	assert.Equal(t, RecipientSent, outcome.Status)
	require.Len(t, outcome.Channels, 3)
	assert.NoError(t, outcome.Channels[0].Err)
	assert.NoError(t, outcome.Channels[1].Err)
	assert.EqualError(t, outcome.Channels[2].Err, "device unregistered")
}

func TestSendFamilyAlerts_ChannelErrorsAreIsolated(t *testing.T) {
	f := newFixture()
	f.store.AlertErr = errors.New("insert failed")
	f.realtime.err = errors.New("hub down")

	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1"))

	assert.Equal(t, 1, report.AlertsSent)
	assert.Equal(t, []string{"m1"}, f.pusher.pushedTo())
}

func TestSendFamilyAlerts_InvalidRecipient(t *testing.T) {
	f := newFixture()

	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1", "", "m3"))

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.AlertsSent)
	assert.Equal(t, RecipientFailed, report.Results[1].Status)
	assert.NotEmpty(t, report.Results[1].Error)
	assert.Len(t, f.store.Alerts(), 2)
}

func TestSendFamilyAlerts_StalledPushTimesOut(t *testing.T) {
	f := newFixture()
	f.pusher.block["m1"] = true

	start := time.Now()
	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1", "m2"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 2, report.AlertsSent)
	assert.ErrorIs(t, report.Results[0].Channels[2].Err, context.DeadlineExceeded)
}

func TestSendFamilyAlerts_PanickingChannel(t *testing.T) {
	f := newFixture()
	f.alerts.pusher = panicPusher{}

	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1"))

	assert.Equal(t, 1, report.AlertsSent)
	assert.ErrorContains(t, report.Results[0].Channels[2].Err, "panic")
}

func TestSendFamilyAlerts_EmptyFamily(t *testing.T) {
	f := newFixture()

	report := f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest())

	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0, report.AlertsSent)
	assert.Empty(t, report.Results)
}

func TestSendFamilyAlerts_Archives(t *testing.T) {
	f := newFixture()
	archiver := &recordingArchiver{}
	f.alerts.SetArchiver(archiver)

	f.alerts.SendFamilyAlerts(context.Background(), fanoutRequest("m1"))

	require.Len(t, archiver.reports, 1)
	assert.Equal(t, "alerts/event-1/"+strconv.FormatInt(testNow.Unix(), 10)+".json", ReportKey(archiver.reports[0]))
}

type panicPusher struct{}

func (panicPusher) Push(context.Context, string, PushNotification) error {
	panic("apns client exploded")
}

type recordingArchiver struct {
	mu      sync.Mutex
	reports []*FanoutReport
}

func (a *recordingArchiver) Archive(_ context.Context, report *FanoutReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, report)
	return nil
}
