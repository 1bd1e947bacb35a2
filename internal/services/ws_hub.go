package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsWriteWait = 5 * time.Second

// RealtimeMessage is the envelope pushed to websocket subscribers
type RealtimeMessage struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel"`
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Broadcaster delivers a message to every subscriber of a channel
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, msg RealtimeMessage) error
}

// FamilyMemberChannel is the per-recipient alert channel
func FamilyMemberChannel(userID string) string {
	return "family_member:" + userID
}

// FamilyChannel is the group-wide channel
func FamilyChannel(groupID string) string {
	return "family:" + groupID
}

// Subscriber is a websocket connection registered with a WSHub. It is the handle
// passed back to Unregister.
type Subscriber struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	userID   string
	channels []string
}

// UserID returns the user the connection was opened for
func (c *Subscriber) UserID() string { return c.userID }

// Channels returns a copy of the channels the connection is subscribed to
func (c *Subscriber) Channels() []string {
	return append([]string(nil), c.channels...)
}

func (c *Subscriber) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages websocket subscriptions on this instance
type WSHub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}
}

// NewWSHub creates a new websocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		channels: make(map[string]map[*Subscriber]struct{}),
	}
}

// Register subscribes a connection to the given channels
func (h *WSHub) Register(userID string, conn *websocket.Conn, channels []string) *Subscriber {
	c := &Subscriber{conn: conn, userID: userID, channels: append([]string(nil), channels...)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		subs, ok := h.channels[ch]
		if !ok {
			subs = make(map[*Subscriber]struct{})
			h.channels[ch] = subs
		}
		subs[c] = struct{}{}
	}

	log.Info().Str("user_id", userID).Strs("channels", channels).Msg("WebSocket connection registered")
	return c
}

// Unregister removes a connection from all its channels and closes it
func (h *WSHub) Unregister(c *Subscriber) {
	h.mu.Lock()
	removed := false
	for _, ch := range c.channels {
		if subs, ok := h.channels[ch]; ok {
			if _, present := subs[c]; present {
				removed = true
				delete(subs, c)
			}
			if len(subs) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	h.mu.Unlock()

	if removed {
		c.conn.Close()
		log.Info().Str("user_id", c.userID).Msg("WebSocket connection unregistered")
	}
}

// SubscriberCount returns the number of local subscribers of a channel
func (h *WSHub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Broadcast sends a message to the local subscribers of a channel.
// A channel without subscribers is not an error.
func (h *WSHub) Broadcast(_ context.Context, channel string, msg RealtimeMessage) error {
	msg.Channel = channel
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return h.deliver(channel, data)
}

// deliver writes an encoded message to every local subscriber of a channel
func (h *WSHub) deliver(channel string, data []byte) error {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		log.Debug().Str("channel", channel).Msg("No subscribers for realtime message")
		return nil
	}

	var errs []error
	for _, c := range subs {
		if err := c.write(data); err != nil {
			h.Unregister(c)
			errs = append(errs, fmt.Errorf("failed to send message to %s: %w", c.userID, err))
		}
	}

	// One healthy subscriber is enough for the message to count as delivered
	if len(errs) == len(subs) {
		return errors.Join(errs...)
	}
	return nil
}
