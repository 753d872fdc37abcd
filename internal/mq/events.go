package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mytube/apiserver/internal/logging"
)

// Well-known message attributes.
const (
	AttrContentType = "content-type"
	AttrEventType   = "event-type"
	AttrUserID      = "user-id"
)

// User event types.
const (
	EventUserRegistered = "user.registered"
	EventUserSignedIn   = "user.signed_in"
)

// UserEvent describes a change to a user account.
type UserEvent struct {
	Type     string            `json:"type"`
	UserID   string            `json:"userId"`
	Username string            `json:"username"`
	Email    string            `json:"email"`
	Detail   map[string]string `json:"detail,omitempty"`
	At       time.Time         `json:"at"`
}

// EventPublisher publishes user events as JSON to a single channel.
type EventPublisher struct {
	mq      *MQ
	channel string
}

// NewEventPublisher constructs a publisher writing to channel.
func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: channel}
}

// Channel returns the destination queue or topic.
func (p *EventPublisher) Channel() string {
	return p.channel
}

// PublishUserEvent encodes and sends the event.
func (p *EventPublisher) PublishUserEvent(ctx context.Context, event UserEvent) error {
	if strings.TrimSpace(event.Type) == "" {
		return errors.New("event type is required")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode user event: %w", err)
	}
	_, err = p.mq.Publish(ctx, p.channel, data, map[string]string{
		AttrContentType: "application/json",
		AttrEventType:   event.Type,
		AttrUserID:      event.UserID,
	})
	return err
}

// SubscribeUserEvents decodes each message on the channel and passes it to fn.
// Messages that cannot be decoded are logged and discarded.
func (p *EventPublisher) SubscribeUserEvents(ctx context.Context, logger *slog.Logger, fn func(context.Context, UserEvent) error) error {
	if logger == nil {
		logger = logging.Discard()
	}
	return p.mq.Subscribe(ctx, p.channel, func(ctx context.Context, msg Message) error {
		event, err := DecodeUserEvent(msg)
		if err != nil {
			logger.WarnContext(ctx, "discarding undecodable user event",
				"channel", p.channel,
				"message_id", msg.ID,
				"error", err,
			)
			return fmt.Errorf("%w: %w", ErrDiscard, err)
		}
		return fn(ctx, event)
	})
}

// DecodeUserEvent parses a message produced by PublishUserEvent.
func DecodeUserEvent(msg Message) (UserEvent, error) {
	var event UserEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return UserEvent{}, fmt.Errorf("decode user event %s: %w", msg.ID, err)
	}
	if event.Type == "" {
		event.Type = msg.Attributes[AttrEventType]
	}
	return event, nil
}
