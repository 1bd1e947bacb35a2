package services

import (
	"context"
	"fmt"
	"time"

	"family-sos-backend/internal/metrics"
	"family-sos-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Delivery channels
const (
	ChannelDatabase = "database"
	ChannelRealtime = "realtime"
	ChannelPush     = "push"
)

// Recipient statuses
const (
	RecipientSent   = "sent"
	RecipientFailed = "failed"
)

// FamilyMember is a resolved alert recipient
type FamilyMember struct {
	UserID       string `json:"user_id"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// FanoutRequest asks for an SOS alert to be delivered to every family member
type FanoutRequest struct {
	EventID       string                `json:"event_id" validate:"required"`
	FamilyMembers []FamilyMember        `json:"family_members"`
	Location      *models.AlertLocation `json:"location"`
	UserProfile   models.AlertProfile   `json:"user_profile"`
}

// ChannelResult is the outcome of one channel attempt
type ChannelResult struct {
	Channel string
	Err     error
}

// RecipientOutcome aggregates the channel attempts for one recipient
type RecipientOutcome struct {
	UserID   string          `json:"user_id"`
	Status   string          `json:"status"`
	Methods  []string        `json:"methods,omitempty"`
	Error    string          `json:"error,omitempty"`
	Channels []ChannelResult `json:"-"`
}

// FanoutReport is the batch result of one fan-out run
type FanoutReport struct {
	EventID     string             `json:"event_id"`
	AlertsSent  int                `json:"alerts_sent"`
	Total       int                `json:"total_family_members"`
	Results     []RecipientOutcome `json:"alert_results"`
	CompletedAt time.Time          `json:"completed_at"`
}

// AlertService dispatches alerts through the audit log, realtime and push channels
type AlertService struct {
	alerts      AlertStore
	realtime    Broadcaster
	pusher      Pusher
	archiver    ReportArchiver
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(alerts AlertStore, realtime Broadcaster, pusher Pusher, timeout time.Duration, concurrency int) *AlertService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AlertService{
		alerts:      alerts,
		realtime:    realtime,
		pusher:      pusher,
		timeout:     timeout,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetArchiver enables report archiving
func (s *AlertService) SetArchiver(a ReportArchiver) {
	s.archiver = a
}

// EmergencyMessage renders the text shown to recipients
func EmergencyMessage(profile models.AlertProfile, loc *models.AlertLocation) string {
	where := "their location"
	if loc != nil && loc.Address != "" {
		where = loc.Address
	}
	return fmt.Sprintf("🚨 EMERGENCY: %s %s needs help at %s", profile.FirstName, profile.LastName, where)
}

// SendFamilyAlerts delivers the SOS alert to every family member. Recipients are
// processed independently; the report keeps the input order.
func (s *AlertService) SendFamilyAlerts(ctx context.Context, req FanoutRequest) *FanoutReport {
	message := EmergencyMessage(req.UserProfile, req.Location)
	data := models.NewEmergencyData(models.EmergencyAlert{
		EventID:     req.EventID,
		Location:    req.Location,
		UserProfile: req.UserProfile,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Message:     message,
	})
	push := PushNotification{
		Title:    "🚨 SOS Alert",
		Body:     message,
		Category: "SOS_ALERT",
		Data: map[string]interface{}{
			"type":     models.AlertTypeSOSEmergency,
			"event_id": req.EventID,
		},
	}

	results := make([]RecipientOutcome, len(req.FamilyMembers))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, member := range req.FamilyMembers {
		i, member := i, member
		g.Go(func() error {
			results[i] = s.Deliver(ctx, req.EventID, member.UserID, data, push)
			return nil
		})
	}
	g.Wait()

	report := &FanoutReport{
		EventID:     req.EventID,
		Total:       len(req.FamilyMembers),
		Results:     results,
		CompletedAt: s.now(),
	}
	for _, r := range results {
		if r.Status == RecipientSent {
			report.AlertsSent++
		}
	}

	log.Info().
		Str("event_id", req.EventID).
		Int("alerts_sent", report.AlertsSent).
		Int("total_family_members", report.Total).
		Msg("Family alerts dispatched")

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, report); err != nil {
			log.Warn().Err(err).Str("event_id", req.EventID).Msg("Failed to archive delivery report")
		}
	}

	return report
}

// Deliver sends one alert to one recipient over every channel. Channel failures are
// logged and do not change the outcome; only a failure before the audit write does.
func (s *AlertService) Deliver(ctx context.Context, eventID, recipientID string, data models.AlertData, push PushNotification) (outcome RecipientOutcome) {
	outcome.UserID = recipientID
	defer func() {
		if r := recover(); r != nil {
			outcome.Status = RecipientFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
		}
		metrics.RecipientOutcomes.WithLabelValues(outcome.Status).Inc()
		if outcome.Status == RecipientFailed {
			log.Error().Str("event_id", eventID).Str("user_id", recipientID).Str("error", outcome.Error).
				Msg("Failed to alert family member")
		}
	}()

	if recipientID == "" {
		outcome.Status = RecipientFailed
		outcome.Error = "recipient user_id is required"
		return outcome
	}

	alert := &models.FamilyAlert{
		ID:           uuid.New().String(),
		EventID:      eventID,
		FamilyUserID: recipientID,
		AlertType:    data.Type,
		Data:         data,
		Status:       RecipientSent,
		SentAt:       s.now(),
	}

	attempts := []struct {
		channel string
		fn      func(context.Context) error
	}{
		{ChannelDatabase, func(ctx context.Context) error {
			return s.alerts.Create(ctx, alert)
		}},
		{ChannelRealtime, func(ctx context.Context) error {
			return s.realtime.Broadcast(ctx, FamilyMemberChannel(recipientID), RealtimeMessage{
				Type:    "broadcast",
				Event:   data.Type,
				Payload: data,
			})
		}},
		{ChannelPush, func(ctx context.Context) error {
			return s.pusher.Push(ctx, recipientID, push)
		}},
	}

	for _, a := range attempts {
		err := s.attempt(ctx, a.fn)
		outcome.Methods = append(outcome.Methods, a.channel)
		outcome.Channels = append(outcome.Channels, ChannelResult{Channel: a.channel, Err: err})
		metrics.ChannelDeliveries.WithLabelValues(a.channel, metrics.Result(err)).Inc()
		if err != nil {
			log.Warn().
				Err(err).
				Str("event_id", eventID).
				Str("user_id", recipientID).
				Str("channel", a.channel).
				Msg("Alert channel failed")
		}
	}

	outcome.Status = RecipientSent
	return outcome
}

// attempt runs fn with the per-channel timeout. A stalled or panicking channel
// becomes an error.
func (s *AlertService) attempt(ctx context.Context, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
