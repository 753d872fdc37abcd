package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mytube/apiserver/config"
)

const defaultPublishTimeout = 10 * time.Second

// ErrDiscard marks a handler failure that redelivery cannot fix. Backends
// drop such messages instead of requeueing them.
var ErrDiscard = errors.New("message discarded")

// Message is a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Returning an error requeues it unless the
// error wraps ErrDiscard.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ wraps a backend and bounds how long a publish may block.
type MQ struct {
	backend        Backend
	publishTimeout time.Duration
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend) *MQ {
	return &MQ{backend: backend, publishTimeout: defaultPublishTimeout}
}

// Open connects to the broker selected by MQ_BACKEND. It returns nil when
// events are disabled.
func Open(ctx context.Context, cfg config.Config) (*MQ, error) {
	switch cfg.MQ.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		return New(client), nil
	case "pubsub":
		client, err := NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub: %w", err)
		}
		return New(client), nil
	default:
		return nil, fmt.Errorf("unsupported MQ_BACKEND %q", cfg.MQ.Backend)
	}
}

// Publish sends a message to the named channel and returns its broker ID.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if m.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.publishTimeout)
		defer cancel()
	}
	id, err := m.backend.Publish(ctx, channel, data, attrs)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return id, nil
}

// Subscribe consumes messages from the named channel until ctx is done.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	err := m.backend.Subscribe(ctx, channel, handler)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return ctx.Err()
	}
	return err
}

// requeue reports whether a message whose handler failed with err should be
// delivered again.
func requeue(err error) bool {
	return !errors.Is(err, ErrDiscard)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
