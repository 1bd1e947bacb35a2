package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"family-sos-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEvent_RegionalPolicy(t *testing.T) {
	tests := []struct {
		name         string
		country      string
		connections  int
		subscription bool
		wantRejected bool
	}{
		{"spain without connections or subscription", "ES", 0, false, true},
		{"spain lowercase country code", "es", 0, false, true},
		{"spain with a connection", "ES", 1, false, false},
		{"spain with a subscription", "ES", 0, true, false},
		{"spain with both", "ES", 2, true, false},
		{"other country without anything", "FR", 0, false, false},
		{"no country without anything", "", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.PutProfile(models.Profile{
				UserID:               "user-1",
				CountryCode:          tt.country,
				RegionalSubscription: tt.subscription,
			})
			for i := 0; i < tt.connections; i++ {
				f.seedConnection("c"+string(rune('a'+i)), "user-1", "contact-"+string(rune('a'+i)), models.ConnectionFamily)
			}

			result, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})

			if tt.wantRejected {
				require.ErrorIs(t, err, ErrSpainRule)
				assert.Nil(t, result)
				assert.Empty(t, f.store.Events())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.EventStatusActive, result.Event.Status)
			assert.Len(t, f.store.Events(), 1)
		})
	}
}

func TestCreateEvent_GrantsTrustedContacts(t *testing.T) {
	f := newFixture()
	f.store.PutProfile(models.Profile{UserID: "user-1", CountryCode: "ES"})
	f.seedConnection("c1", "user-1", "trusted-1", models.ConnectionTrustedContact)
	f.seedConnection("c2", "user-1", "trusted-2", models.ConnectionTrustedContact)
	f.seedConnection("c3", "user-1", "relative-1", models.ConnectionFamily)
	f.seedFamily("group-1", "user-1", "relative-1")

	result, err := f.events.CreateEvent(context.Background(), IntakeRequest{
		UserID:        "user-1",
		Lat:           floatPtr(40.0),
		Lng:           floatPtr(-3.0),
		EmergencyType: models.EmergencyMedical,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ConnectionsNotified)
	assert.False(t, result.Deduplicated)
	require.NotNil(t, result.Event.GroupID)
	assert.Equal(t, "group-1", *result.Event.GroupID)
	assert.Equal(t, models.EmergencyMedical, result.Event.EmergencyType)
	assert.Equal(t, models.SourceApp, result.Event.Source)

	grants := f.store.Grants()
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, result.Event.ID, g.EventID)
		assert.Equal(t, models.AccessScopeLiveOnly, g.AccessScope)
		assert.WithinDuration(t, testNow.Add(24*time.Hour), g.ExpiresAt, time.Second)
	}
	assert.ElementsMatch(t, []string{"trusted-1", "trusted-2"}, []string{grants[0].UserID, grants[1].UserID})

	locs, err := f.store.EventTable().ListLocations(context.Background(), result.Event.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, 40.0, locs[0].Lat)
}

func TestCreateEvent_MissingProfileIsAllowed(t *testing.T) {
	f := newFixture()

	result, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "ghost"})

	require.NoError(t, err)
	assert.Equal(t, "ghost", result.Event.UserID)
	assert.Nil(t, result.Event.GroupID)
}

func TestCreateEvent_RequiresUserID(t *testing.T) {
	f := newFixture()

	_, err := f.events.CreateEvent(context.Background(), IntakeRequest{})

	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreateEvent_DeduplicatesActiveEvent(t *testing.T) {
	f := newFixture()
	f.store.PutProfile(models.Profile{UserID: "user-1", CountryCode: "FR"})
	f.seedConnection("c1", "user-1", "trusted-1", models.ConnectionTrustedContact)

	first, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
	require.NoError(t, err)
	second, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Len(t, f.store.Events(), 1)
	assert.Len(t, f.store.Grants(), 1)
	assert.Empty(t, second.Grants)
}

func TestCreateEvent_RepeatTriggerKeepsLocationAndGrantsNewContacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.PutProfile(models.Profile{UserID: "user-1", CountryCode: "FR"})
	f.seedConnection("c1", "user-1", "trusted-1", models.ConnectionTrustedContact)

	first, err := f.events.CreateEvent(ctx, IntakeRequest{UserID: "user-1", Lat: floatPtr(40), Lng: floatPtr(-3)})
	require.NoError(t, err)
	require.Len(t, first.Grants, 1)

	f.seedConnection("c2", "user-1", "trusted-2", models.ConnectionTrustedContact)

	second, err := f.events.CreateEvent(ctx, IntakeRequest{UserID: "user-1", Lat: floatPtr(41), Lng: floatPtr(-4)})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Event.ID, second.Event.ID)

	locs, err := f.store.EventTable().ListLocations(ctx, first.Event.ID)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.ElementsMatch(t, []float64{40, 41}, []float64{locs[0].Lat, locs[1].Lat})

	require.Len(t, second.Grants, 1)
	assert.Equal(t, "trusted-2", second.Grants[0].UserID)

	grants := f.store.Grants()
	require.Len(t, grants, 2)
	assert.ElementsMatch(t, []string{"trusted-1", "trusted-2"}, []string{grants[0].UserID, grants[1].UserID})
	assert.Empty(t, f.store.RegionalEvents())

	trail, err := f.events.ListLocations(ctx, first.Event.ID, "trusted-2")
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestCreateEvent_ConcurrentTriggersConverge(t *testing.T) {
	f := newFixture()
	f.store.PutProfile(models.Profile{UserID: "user-1", CountryCode: "FR"})
	f.seedConnection("c1", "user-1", "trusted-1", models.ConnectionTrustedContact)
	f.seedConnection("c2", "user-1", "trusted-2", models.ConnectionTrustedContact)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*IntakeResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
		}(i)
	}
	wg.Wait()

	created, granted := 0, 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Event.ID, results[i].Event.ID)
		if !results[i].Deduplicated {
			created++
		}
		granted += len(results[i].Grants)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 2, granted)
	assert.Len(t, f.store.Events(), 1)

	grants := f.store.Grants()
	require.Len(t, grants, 2)
	assert.ElementsMatch(t, []string{"trusted-1", "trusted-2"}, []string{grants[0].UserID, grants[1].UserID})
}

func TestCreateEvent_RegionalMirror(t *testing.T) {
	t.Run("created for subscribers", func(t *testing.T) {
		f := newFixture()
		f.store.PutProfile(models.Profile{
			UserID:               "user-1",
			CountryCode:          "ES",
			RegionalSubscription: true,
			OrganizationID:       strPtr("org-1"),
		})

		result, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
		require.NoError(t, err)

		assert.True(t, result.RegionalCreated)
		mirrors := f.store.RegionalEvents()
		require.Len(t, mirrors, 1)
		assert.Equal(t, "org-1", mirrors[0].OrganizationID)
		assert.Equal(t, result.Event.ID, mirrors[0].SOSEventID)
	})

	t.Run("failure keeps the event", func(t *testing.T) {
		f := newFixture()
		f.store.RegionalErr = errors.New("regional table unavailable")
		f.store.PutProfile(models.Profile{
			UserID:               "user-1",
			CountryCode:          "ES",
			RegionalSubscription: true,
			OrganizationID:       strPtr("org-1"),
		})

		result, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
		require.NoError(t, err)

		assert.False(t, result.RegionalCreated)
		assert.Len(t, f.store.Events(), 1)
	})
}

func TestResolveEvent(t *testing.T) {
	f := newFixture()
	f.seedFamily("group-1", "user-1", "relative-1")
	created, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
	require.NoError(t, err)

	_, err = f.events.ResolveEvent(context.Background(), created.Event.ID, "someone-else")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	resolved, err := f.events.ResolveEvent(context.Background(), created.Event.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = f.events.ResolveEvent(context.Background(), created.Event.ID, "user-1")
	assert.ErrorIs(t, err, ErrEventNotActive)

	assert.Contains(t, f.realtime.channels(), FamilyChannel("group-1"))

	// A resolved event frees the user to raise a new one
	again, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, again.Deduplicated)
	assert.NotEqual(t, created.Event.ID, again.Event.ID)
}

func TestLocationTrail(t *testing.T) {
	f := newFixture()
	f.seedConnection("c1", "user-1", "trusted-1", models.ConnectionTrustedContact)
	created, err := f.events.CreateEvent(context.Background(), IntakeRequest{UserID: "user-1"})
	require.NoError(t, err)
	eventID := created.Event.ID

	_, err = f.events.AddLocation(context.Background(), eventID, "trusted-1", 1, 1, nil)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	loc, err := f.events.AddLocation(context.Background(), eventID, "user-1", 40.1, -3.1, floatPtr(12))
	require.NoError(t, err)
	assert.Equal(t, eventID, loc.EventID)

	trail, err := f.events.ListLocations(context.Background(), eventID, "trusted-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)

	_, err = f.events.ListLocations(context.Background(), eventID, "stranger")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// Grants stop working once expired
	f.access.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	_, err = f.events.ListLocations(context.Background(), eventID, "trusted-1")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.events.ResolveEvent(context.Background(), eventID, "user-1")
	require.NoError(t, err)
	_, err = f.events.AddLocation(context.Background(), eventID, "user-1", 40.2, -3.2, nil)
	assert.ErrorIs(t, err, ErrEventNotActive)
}

func TestGrantAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, _, err := f.access.GrantAccess(ctx, "", "contact", models.AccessScopeLiveOnly, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	grant, created, err := f.access.GrantAccess(ctx, "event-1", "contact", models.AccessScopeLiveOnly, 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testNow.Add(24*time.Hour), grant.ExpiresAt)

	active, err := f.access.ActiveGrant(ctx, "event-1", "contact")
	require.NoError(t, err)
	assert.Equal(t, grant.ID, active.ID)

	again, created, err := f.access.GrantAccess(ctx, "event-1", "contact", models.AccessScopeLiveOnly, time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, grant.ID, again.ID)
	assert.Len(t, f.store.Grants(), 1)

	// an expired grant is replaced
	f.access.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	renewed, created, err := f.access.GrantAccess(ctx, "event-1", "contact", models.AccessScopeLiveOnly, time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, grant.ID, renewed.ID)
	assert.Equal(t, testNow.Add(26*time.Hour), renewed.ExpiresAt)
	assert.Len(t, f.store.Grants(), 1)
}
