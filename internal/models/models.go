package models

import "time"

// EventStatus is the lifecycle state of an SOS event
type EventStatus string

const (
	EventStatusActive   EventStatus = "active"
	EventStatusResolved EventStatus = "resolved"
)

// Call sequence states as stored in sos_call_sequences.status
const (
	CallSequenceRunning   = "running"
	CallSequencePaused    = "paused"
	CallSequenceCompleted = "completed"
)

// EmergencyType classifies an SOS trigger
type EmergencyType string

const (
	EmergencyGeneral EmergencyType = "general"
	EmergencyMedical EmergencyType = "medical"
	EmergencyOther   EmergencyType = "other"
)

// TriggerSource tells where an SOS was raised from
type TriggerSource string

const (
	SourceApp    TriggerSource = "app"
	SourceDevice TriggerSource = "device"
	SourceWeb    TriggerSource = "web"
)

// Connection types and statuses
const (
	ConnectionTrustedContact = "trusted_contact"
	ConnectionFamily         = "family"
	ConnectionStatusActive   = "active"
)

// Membership statuses
const (
	MembershipStatusActive = "active"
)

// AccessScopeLiveOnly grants location visibility for the live emergency only
const AccessScopeLiveOnly = "live_only"

// Profile represents the user profile fields the SOS flow reads
type Profile struct {
	UserID               string  `json:"user_id"`
	FirstName            string  `json:"first_name"`
	LastName             string  `json:"last_name"`
	Phone                *string `json:"phone,omitempty"`
	CountryCode          string  `json:"country_code"`
	PushToken            *string `json:"-"`
	OrganizationID       *string `json:"organization_id,omitempty"`
	RegionalSubscription bool    `json:"regional_subscription"`
}

// SOSEvent represents one emergency trigger
type SOSEvent struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	GroupID       *string       `json:"group_id,omitempty"`
	Lat           *float64      `json:"lat,omitempty"`
	Lng           *float64      `json:"lng,omitempty"`
	EmergencyType EmergencyType `json:"emergency_type"`
	Source        TriggerSource `json:"source"`
	Status        EventStatus   `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}

// SOSLocation is an immutable coordinate sample tied to an event
type SOSLocation struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Connection is a directed owner -> contact relationship
type Connection struct {
	ID            string  `json:"id"`
	OwnerID       string  `json:"owner_id"`
	ContactUserID *string `json:"contact_user_id,omitempty"`
	Type          string  `json:"type"`
	Status        string  `json:"status"`
}

// FamilyGroup is a group owned by one user
type FamilyGroup struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// FamilyMembership links a user to a family group
type FamilyMembership struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	BillingType string `json:"billing_type"`
}

// SOSEventAccess is a temporary, scoped grant for a trusted contact
type SOSEventAccess struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	AccessScope string    `json:"access_scope"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// SOSAcknowledgement records that a family member responded to an event
type SOSAcknowledgement struct {
	ID             string    `json:"id"`
	EventID        string    `json:"event_id"`
	FamilyUserID   string    `json:"family_user_id"`
	Message        string    `json:"message"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// FamilyAlert is an append-only delivery log row
type FamilyAlert struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	FamilyUserID string    `json:"family_user_id"`
	AlertType    string    `json:"alert_type"`
	Data         AlertData `json:"alert_data"`
	Status       string    `json:"status"`
	SentAt       time.Time `json:"sent_at"`
}

// RegionalEvent mirrors an SOS event for the regional-operator workflow
type RegionalEvent struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	ClientUserID   string        `json:"client_user_id"`
	SOSEventID     string        `json:"sos_event_id"`
	EmergencyType  EmergencyType `json:"emergency_type"`
	Status         string        `json:"status"`
	Priority       string        `json:"priority"`
	Lat            *float64      `json:"lat,omitempty"`
	Lng            *float64      `json:"lng,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Place is a circular geofence scoped to a family group
type Place struct {
	ID            string   `json:"id"`
	FamilyGroupID string   `json:"family_group_id"`
	Name          string   `json:"name"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	RadiusM       *float64 `json:"radius_m,omitempty"`
}

// PlaceEventType is a geofence transition
type PlaceEventType string

const (
	PlaceEnter PlaceEventType = "enter"
	PlaceExit  PlaceEventType = "exit"
)

// PlaceEvent is a derived enter/exit transition
type PlaceEvent struct {
	ID         string         `json:"id"`
	PlaceID    string         `json:"place_id"`
	UserID     string         `json:"user_id"`
	EventType  PlaceEventType `json:"event_type"`
	Lat        float64        `json:"lat"`
	Lng        float64        `json:"lng"`
	OccurredAt time.Time      `json:"occurred_at"`
}
