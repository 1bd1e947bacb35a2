package models

import (
	"encoding/json"
	"fmt"
)

// Alert types written to family_alerts and sent over realtime channels
const (
	AlertTypeSOSEmergency    = "sos_emergency"
	AlertTypeAcknowledgement = "acknowledgement"
)

// AlertLocation is the trigger position attached to an alert
type AlertLocation struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// AlertProfile is the subset of the triggering user's profile shown to recipients
type AlertProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

// EmergencyAlert is the payload of an sos_emergency alert
type EmergencyAlert struct {
	EventID     string         `json:"event_id"`
	Location    *AlertLocation `json:"location,omitempty"`
	UserProfile AlertProfile   `json:"user_profile"`
	Timestamp   string         `json:"timestamp"`
	Message     string         `json:"message"`
}

// AcknowledgementAlert is the payload sent to the triggering user when family responds
type AcknowledgementAlert struct {
	EventID        string `json:"event_id"`
	AcknowledgedBy string `json:"acknowledged_by"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
}

// AlertData is the alert_data column. Exactly one of Emergency, Acknowledgement or Raw is set;
// Raw keeps payloads of types this build does not know about.
type AlertData struct {
	Type            string
	Emergency       *EmergencyAlert
	Acknowledgement *AcknowledgementAlert
	Raw             json.RawMessage
}

// NewEmergencyData wraps an emergency payload
func NewEmergencyData(a EmergencyAlert) AlertData {
	return AlertData{Type: AlertTypeSOSEmergency, Emergency: &a}
}

// NewAcknowledgementData wraps an acknowledgement payload
func NewAcknowledgementData(a AcknowledgementAlert) AlertData {
	return AlertData{Type: AlertTypeAcknowledgement, Acknowledgement: &a}
}

// Message returns the human readable text of the alert, if any
func (d AlertData) Message() string {
	switch {
	case d.Emergency != nil:
		return d.Emergency.Message
	case d.Acknowledgement != nil:
		return d.Acknowledgement.Message
	}
	return ""
}

// MarshalJSON flattens the variant under a "type" tag
func (d AlertData) MarshalJSON() ([]byte, error) {
	switch {
	case d.Emergency != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*EmergencyAlert
		}{d.Type, d.Emergency})
	case d.Acknowledgement != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*AcknowledgementAlert
		}{d.Type, d.Acknowledgement})
	case len(d.Raw) > 0:
		return d.Raw, nil
	}
	return json.Marshal(struct {
		Type string `json:"type"`
	}{d.Type})
}

// UnmarshalJSON dispatches on the "type" tag
func (d *AlertData) UnmarshalJSON(b []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &tag); err != nil {
		return fmt.Errorf("failed to read alert type: %w", err)
	}

	*d = AlertData{Type: tag.Type}
	switch tag.Type {
	case AlertTypeSOSEmergency:
		d.Emergency = &EmergencyAlert{}
		return json.Unmarshal(b, d.Emergency)
	case AlertTypeAcknowledgement:
		d.Acknowledgement = &AcknowledgementAlert{}
		return json.Unmarshal(b, d.Acknowledgement)
	default:
		d.Raw = append(json.RawMessage(nil), b...)
		return nil
	}
}
