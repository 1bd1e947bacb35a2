package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"family-sos-backend/internal/metrics"
	"family-sos-backend/internal/models"
	"family-sos-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultAckMessage     = "Received & On It"
	pauseReasonFamilyAckd = "family_acknowledged"
)

// AlertDispatcher is the single-recipient delivery primitive shared with fan-out
type AlertDispatcher interface {
	Deliver(ctx context.Context, eventID, recipientID string, data models.AlertData, push PushNotification) RecipientOutcome
}

// AckResult is the outcome of an acknowledgement request
type AckResult struct {
	Acknowledgement    *models.SOSAcknowledgement `json:"acknowledgement"`
	CallSequencePaused bool                       `json:"call_sequence_paused"`
	Created            bool                       `json:"-"`
}

// AcknowledgementService records family acknowledgements of SOS events
type AcknowledgementService struct {
	events   EventStore
	acks     AcknowledgementStore
	alerts   AlertDispatcher
	realtime Broadcaster
	callSeq  CallSequencer
	now      func() time.Time
}

// NewAcknowledgementService creates a new acknowledgement service
func NewAcknowledgementService(
	events EventStore,
	acks AcknowledgementStore,
	alerts AlertDispatcher,
	realtime Broadcaster,
	callSeq CallSequencer,
) *AcknowledgementService {
	return &AcknowledgementService{
		events:   events,
		acks:     acks,
		alerts:   alerts,
		realtime: realtime,
		callSeq:  callSeq,
		now:      time.Now,
	}
}

// Acknowledge records that callerID has seen the event. Repeated calls return the
// stored acknowledgement without re-running the downstream effects.
func (s *AcknowledgementService) Acknowledge(ctx context.Context, eventID, callerID, message string) (*AckResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event_id is required", ErrInvalidRequest)
	}

	event, err := s.events.GetForFamilyMember(ctx, eventID, callerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.Acknowledgements.WithLabelValues("rejected").Inc()
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	if event.Status != models.EventStatusActive {
		metrics.Acknowledgements.WithLabelValues("rejected").Inc()
		return nil, ErrEventNotActive
	}

	message = strings.TrimSpace(message)
	if message == "" {
		message = defaultAckMessage
	}

	ack, created, err := s.acks.CreateOnce(ctx, &models.SOSAcknowledgement{
		ID:             uuid.New().String(),
		EventID:        eventID,
		FamilyUserID:   callerID,
		Message:        message,
		AcknowledgedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store acknowledgement: %w", err)
	}

	result := &AckResult{Acknowledgement: ack, Created: created}
	if !created {
		metrics.Acknowledgements.WithLabelValues("duplicate").Inc()
		log.Info().Str("event_id", eventID).Str("user_id", callerID).Msg("Acknowledgement already recorded")
		return result, nil
	}
	metrics.Acknowledgements.WithLabelValues("created").Inc()

	s.broadcast(ctx, event, ack)
	s.notifyRequester(ctx, event, ack)
	result.CallSequencePaused = s.pauseCalls(ctx, event)

	log.Info().
		Str("event_id", eventID).
		Str("user_id", callerID).
		Bool("call_sequence_paused", result.CallSequencePaused).
		Msg("SOS acknowledged")

	return result, nil
}

func (s *AcknowledgementService) broadcast(ctx context.Context, event *models.SOSEvent, ack *models.SOSAcknowledgement) {
	if event.GroupID == nil {
		return
	}
	err := s.realtime.Broadcast(ctx, FamilyChannel(*event.GroupID), RealtimeMessage{
		Type:    "broadcast",
		Event:   "sos_acknowledged",
		Payload: ack,
	})
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to broadcast acknowledgement")
	}
}

func (s *AcknowledgementService) notifyRequester(ctx context.Context, event *models.SOSEvent, ack *models.SOSAcknowledgement) {
	data := models.NewAcknowledgementData(models.AcknowledgementAlert{
		EventID:        event.ID,
		AcknowledgedBy: ack.FamilyUserID,
		Message:        ack.Message,
		Timestamp:      ack.AcknowledgedAt.UTC().Format(time.RFC3339),
	})
	outcome := s.alerts.Deliver(ctx, event.ID, event.UserID, data, PushNotification{
		Title:    "✅ Family responded",
		Body:     ack.Message,
		Category: "SOS_ACK",
		Data: map[string]interface{}{
			"type":     models.AlertTypeAcknowledgement,
			"event_id": event.ID,
		},
	})
	if outcome.Status != RecipientSent {
		log.Warn().Str("event_id", event.ID).Str("error", outcome.Error).Msg("Failed to notify requester of acknowledgement")
	}
}

func (s *AcknowledgementService) pauseCalls(ctx context.Context, event *models.SOSEvent) bool {
	paused, err := s.callSeq.Pause(ctx, event.ID, pauseReasonFamilyAckd)
	if err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to pause call sequence")
		return false
	}
	if !paused {
		log.Info().Str("event_id", event.ID).Msg("Call sequence already finished, nothing to pause")
	}
	return paused
}
