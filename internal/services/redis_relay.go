package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const relayPrefix = "realtime:"

// RedisRelay fans realtime messages out across instances. Broadcast publishes to
// redis; Run relays every published message to this instance's hub.
type RedisRelay struct {
	client *redis.Client
	hub    *WSHub
}

// NewRedisRelay creates a relay for the given hub
func NewRedisRelay(client *redis.Client, hub *WSHub) *RedisRelay {
	return &RedisRelay{client: client, hub: hub}
}

// Broadcast publishes the message for every instance to deliver
func (r *RedisRelay) Broadcast(ctx context.Context, channel string, msg RealtimeMessage) error {
	msg.Channel = channel
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := r.client.Publish(ctx, relayPrefix+channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish realtime message: %w", err)
	}
	return nil
}

// Run relays published messages to local subscribers until ctx is cancelled
func (r *RedisRelay) Run(ctx context.Context) {
	pubsub := r.client.PSubscribe(ctx, relayPrefix+"*")
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			channel := strings.TrimPrefix(m.Channel, relayPrefix)
			if err := r.hub.deliver(channel, []byte(m.Payload)); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("Failed to relay realtime message")
			}
		}
	}
}
