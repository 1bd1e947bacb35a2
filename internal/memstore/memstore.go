// Package memstore is an in-process implementation of the repository contracts. It
// backs local runs without a database and the service and handler tests. Uniqueness
// rules mirror the constraints in repository/schema.sql.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"family-sos-backend/internal/models"
	"family-sos-backend/internal/repository"
)

// Store holds every table in memory
type Store struct {
	mu sync.Mutex

	profiles    map[string]*models.Profile
	connections []*models.Connection
	groups      map[string]*models.FamilyGroup
	memberships []*models.FamilyMembership
	events      map[string]*models.SOSEvent
	locations   []*models.SOSLocation
	regional    []*models.RegionalEvent
	grants      []*models.SOSEventAccess
	acks        []*models.SOSAcknowledgement
	alerts      []*models.FamilyAlert
	places      []*models.Place
	placeEvents []*models.PlaceEvent
	sequences   map[string]string
	pauses      map[string]string
	pauseCalls  int

	// RegionalErr, when set, is returned by CreateRegional
	RegionalErr error
	// AlertErr, when set, is returned by alert inserts
	AlertErr error
}

// New creates an empty store
func New() *Store {
	return &Store{
		profiles:  make(map[string]*models.Profile),
		groups:    make(map[string]*models.FamilyGroup),
		events:    make(map[string]*models.SOSEvent),
		sequences: make(map[string]string),
		pauses:    make(map[string]string),
	}
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
}

// Seeding

// PutProfile inserts or replaces a profile
func (s *Store) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

// PutConnection inserts a connection
func (s *Store) PutConnection(c models.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, &c)
}

// PutGroup inserts a family group
func (s *Store) PutGroup(g models.FamilyGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = &g
}

// PutMembership inserts a family membership
func (s *Store) PutMembership(m models.FamilyMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, &m)
}

// PutPlace inserts a place
func (s *Store) PutPlace(p models.Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places = append(s.places, &p)
}

// Inspection

// Events returns every stored event
func (s *Store) Events() []models.SOSEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SOSEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Grants returns every stored access grant
func (s *Store) Grants() []models.SOSEventAccess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SOSEventAccess, len(s.grants))
	for i, g := range s.grants {
		out[i] = *g
	}
	return out
}

// Acknowledgements returns every stored acknowledgement
func (s *Store) Acknowledgements() []models.SOSAcknowledgement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SOSAcknowledgement, len(s.acks))
	for i, a := range s.acks {
		out[i] = *a
	}
	return out
}

// Alerts returns every stored alert row
func (s *Store) Alerts() []models.FamilyAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FamilyAlert, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = *a
	}
	return out
}

// RegionalEvents returns every stored regional mirror
func (s *Store) RegionalEvents() []models.RegionalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RegionalEvent, len(s.regional))
	for i, r := range s.regional {
		out[i] = *r
	}
	return out
}

// PlaceEvents returns every stored place transition in insertion order
func (s *Store) PlaceEvents() []models.PlaceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PlaceEvent, len(s.placeEvents))
	for i, e := range s.placeEvents {
		out[i] = *e
	}
	return out
}

// PutCallSequence sets the status of an event's call sequence
func (s *Store) PutCallSequence(eventID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[eventID] = status
}

// PauseReason returns the recorded pause reason of an event's call sequence
func (s *Store) PauseReason(eventID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.pauses[eventID]
	return reason, ok
}

// PauseCalls returns how many pause signals were sent
func (s *Store) PauseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCalls
}

// Profiles

// Profiles is the profile table view
type Profiles struct{ s *Store }

// Profiles returns the profile table view
func (s *Store) Profiles() *Profiles { return &Profiles{s} }

// GetByUserID retrieves a profile
func (v *Profiles) GetByUserID(_ context.Context, userID string) (*models.Profile, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.profiles[userID]
	if !ok {
		return nil, notFound("profile")
	}
	cp := *p
	return &cp, nil
}

// PushToken returns the device token of a user
func (v *Profiles) PushToken(_ context.Context, userID string) (string, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.profiles[userID]
	if !ok || p.PushToken == nil || *p.PushToken == "" {
		return "", notFound("push token")
	}
	return *p.PushToken, nil
}

// Connections

// Connections is the connection table view
type Connections struct{ s *Store }

// Connections returns the connection table view
func (s *Store) Connections() *Connections { return &Connections{s} }

// ListActiveByOwner returns the active connections of an owner
func (v *Connections) ListActiveByOwner(_ context.Context, ownerID string) ([]*models.Connection, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []*models.Connection
	for _, c := range v.s.connections {
		if c.OwnerID == ownerID && c.Status == models.ConnectionStatusActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Families

// Families is the family group and membership view
type Families struct{ s *Store }

// Families returns the family view
func (s *Store) Families() *Families { return &Families{s} }

// GetGroupByOwner returns the oldest group owned by a user
func (v *Families) GetGroupByOwner(_ context.Context, ownerID string) (*models.FamilyGroup, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var found *models.FamilyGroup
	for _, g := range v.s.groups {
		if g.OwnerUserID != ownerID {
			continue
		}
		if found == nil || g.CreatedAt.Before(found.CreatedAt) {
			found = g
		}
	}
	if found == nil {
		return nil, notFound("family group")
	}
	cp := *found
	return &cp, nil
}

// GroupIDsForUser returns the groups a user owns or is an active member of
func (v *Families) GroupIDsForUser(_ context.Context, userID string) ([]string, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, g := range v.s.groups {
		if g.OwnerUserID == userID && !seen[g.ID] {
			seen[g.ID] = true
			ids = append(ids, g.ID)
		}
	}
	for _, m := range v.s.memberships {
		if m.UserID == userID && m.Status == models.MembershipStatusActive && !seen[m.GroupID] {
			seen[m.GroupID] = true
			ids = append(ids, m.GroupID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) isActiveMember(groupID, userID string) bool {
	for _, m := range s.memberships {
		if m.GroupID == groupID && m.UserID == userID && m.Status == models.MembershipStatusActive {
			return true
		}
	}
	return false
}

// Events

// EventTable is the SOS event, location and regional mirror view
type EventTable struct{ s *Store }

// EventTable returns the event view
func (s *Store) EventTable() *EventTable { return &EventTable{s} }

// Create inserts an active event unless the user already has one
func (v *EventTable) Create(_ context.Context, event *models.SOSEvent) (*models.SOSEvent, bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, e := range v.s.events {
		if e.UserID == event.UserID && e.Status == models.EventStatusActive {
			cp := *e
			return &cp, false, nil
		}
	}
	if _, exists := v.s.events[event.ID]; exists {
		return nil, false, fmt.Errorf("duplicate sos event id %s", event.ID)
	}
	stored := *event
	v.s.events[event.ID] = &stored
	return event, true, nil
}

// GetByID retrieves an event
func (v *EventTable) GetByID(_ context.Context, id string) (*models.SOSEvent, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.events[id]
	if !ok {
		return nil, notFound("sos event")
	}
	cp := *e
	return &cp, nil
}

// GetForFamilyMember retrieves an event tagged with a group the user actively belongs to
func (v *EventTable) GetForFamilyMember(_ context.Context, eventID, userID string) (*models.SOSEvent, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.events[eventID]
	if !ok || e.GroupID == nil || !v.s.isActiveMember(*e.GroupID, userID) {
		return nil, notFound("sos event")
	}
	cp := *e
	return &cp, nil
}

// Resolve marks an active event as resolved
func (v *EventTable) Resolve(_ context.Context, id string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.events[id]
	if !ok || e.Status != models.EventStatusActive {
		return notFound("active sos event")
	}
	e.Status = models.EventStatusResolved
	e.ResolvedAt = &at
	return nil
}

// AddLocation appends a location sample
func (v *EventTable) AddLocation(_ context.Context, loc *models.SOSLocation) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.events[loc.EventID]; !ok {
		return fmt.Errorf("sos location references unknown event %s", loc.EventID)
	}
	cp := *loc
	v.s.locations = append(v.s.locations, &cp)
	return nil
}

// ListLocations returns the trail of an event, oldest first
func (v *EventTable) ListLocations(_ context.Context, eventID string) ([]*models.SOSLocation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []*models.SOSLocation
	for _, l := range v.s.locations {
		if l.EventID == eventID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// CreateRegional stores the regional mirror of an event
func (v *EventTable) CreateRegional(_ context.Context, re *models.RegionalEvent) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.RegionalErr != nil {
		return v.s.RegionalErr
	}
	cp := *re
	v.s.regional = append(v.s.regional, &cp)
	return nil
}

// Access grants

// AccessTable is the event access grant view
type AccessTable struct{ s *Store }

// AccessTable returns the access grant view
func (s *Store) AccessTable() *AccessTable { return &AccessTable{s} }

// Create stores a grant unless the user holds one for the event that is still live at
// grant.CreatedAt. An expired grant is replaced in place.
func (v *AccessTable) Create(_ context.Context, grant *models.SOSEventAccess) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *grant
	for i, g := range v.s.grants {
		if g.EventID != grant.EventID || g.UserID != grant.UserID {
			continue
		}
		if g.ExpiresAt.After(grant.CreatedAt) {
			return false, nil
		}
		v.s.grants[i] = &cp
		return true, nil
	}
	v.s.grants = append(v.s.grants, &cp)
	return true, nil
}

// GetActive returns the latest-expiring grant of a user for an event that is still
// valid at the given time
func (v *AccessTable) GetActive(_ context.Context, eventID, userID string, at time.Time) (*models.SOSEventAccess, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var found *models.SOSEventAccess
	for _, g := range v.s.grants {
		if g.EventID != eventID || g.UserID != userID || !g.ExpiresAt.After(at) {
			continue
		}
		if found == nil || g.ExpiresAt.After(found.ExpiresAt) {
			found = g
		}
	}
	if found == nil {
		return nil, notFound("event access")
	}
	cp := *found
	return &cp, nil
}

// Acknowledgements

// AckTable is the acknowledgement view
type AckTable struct{ s *Store }

// AckTable returns the acknowledgement view
func (s *Store) AckTable() *AckTable { return &AckTable{s} }

// CreateOnce stores the acknowledgement unless the user already acknowledged the event
func (v *AckTable) CreateOnce(_ context.Context, ack *models.SOSAcknowledgement) (*models.SOSAcknowledgement, bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, a := range v.s.acks {
		if a.EventID == ack.EventID && a.FamilyUserID == ack.FamilyUserID {
			cp := *a
			return &cp, false, nil
		}
	}
	stored := *ack
	v.s.acks = append(v.s.acks, &stored)
	cp := stored
	return &cp, true, nil
}

// Alerts

// AlertTable is the family alert log view
type AlertTable struct{ s *Store }

// AlertTable returns the alert log view
func (s *Store) AlertTable() *AlertTable { return &AlertTable{s} }

// Create appends an alert row
func (v *AlertTable) Create(_ context.Context, alert *models.FamilyAlert) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.AlertErr != nil {
		return v.s.AlertErr
	}
	cp := *alert
	v.s.alerts = append(v.s.alerts, &cp)
	return nil
}

// Places

// PlaceTable is the place and place event view
type PlaceTable struct{ s *Store }

// PlaceTable returns the place view
func (s *Store) PlaceTable() *PlaceTable { return &PlaceTable{s} }

// ListByGroups returns the places of the given groups ordered by id
func (v *PlaceTable) ListByGroups(_ context.Context, groupIDs []string) ([]*models.Place, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	wanted := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		wanted[id] = true
	}
	var out []*models.Place
	for _, p := range v.s.places {
		if wanted[p.FamilyGroupID] {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LatestEvent returns the most recent transition for (user, place)
func (v *PlaceTable) LatestEvent(_ context.Context, userID, placeID string) (*models.PlaceEvent, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var found *models.PlaceEvent
	for _, e := range v.s.placeEvents {
		if e.UserID != userID || e.PlaceID != placeID {
			continue
		}
		if found == nil || !e.OccurredAt.Before(found.OccurredAt) {
			found = e
		}
	}
	if found == nil {
		return nil, notFound("place event")
	}
	cp := *found
	return &cp, nil
}

// CreateEvent appends a transition
func (v *PlaceTable) CreateEvent(_ context.Context, e *models.PlaceEvent) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *e
	v.s.placeEvents = append(v.s.placeEvents, &cp)
	return nil
}

// Call sequences

// CallSequences is the call sequence view
type CallSequences struct{ s *Store }

// CallSequences returns the call sequence view
func (s *Store) CallSequences() *CallSequences { return &CallSequences{s} }

// Pause records the pause signal for an event. A sequence seeded with another status
// than running or paused is left alone and Pause reports false.
func (v *CallSequences) Pause(_ context.Context, eventID, reason string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.pauseCalls++
	switch status := v.s.sequences[eventID]; status {
	case "", models.CallSequencePaused, models.CallSequenceRunning:
	default:
		return false, nil
	}
	v.s.sequences[eventID] = models.CallSequencePaused
	if _, ok := v.s.pauses[eventID]; !ok {
		v.s.pauses[eventID] = reason
	}
	return true, nil
}
