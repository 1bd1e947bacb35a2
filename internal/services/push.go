package services

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushNotification is a device notification addressed to a user
type PushNotification struct {
	Title    string
	Body     string
	Category string
	Data     map[string]interface{}
}

// Pusher delivers a push notification to a user's device
type Pusher interface {
	Push(ctx context.Context, userID string, n PushNotification) error
}

// APNsPusher sends notifications through Apple Push Notification service
type APNsPusher struct {
	client *apns2.Client
	topic  string
	tokens PushTokenStore
}

// NewAPNsPusher creates a token-authenticated APNs pusher
func NewAPNsPusher(keyPath, keyID, teamID, topic string, production bool, tokens PushTokenStore) (*APNsPusher, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsPusher{
		client: client,
		topic:  topic,
		tokens: tokens,
	}, nil
}

// Push sends n to the device registered for userID
func (p *APNsPusher) Push(ctx context.Context, userID string, n PushNotification) error {
	deviceToken, err := p.tokens.PushToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("no device for user %s: %w", userID, err)
	}

	pl := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("default")
	if n.Category != "" {
		pl.Category(n.Category)
	}
	for k, v := range n.Data {
		pl.Custom(k, v)
	}

	res, err := p.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload:     pl,
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
	})
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}

	return nil
}

// DisabledPusher is used when no push credentials are configured
type DisabledPusher struct{}

// Push always fails with ErrPushDisabled
func (DisabledPusher) Push(context.Context, string, PushNotification) error {
	return ErrPushDisabled
}
