package mq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mytube/apiserver/config"
)

type recordingBackend struct {
	channel string
	data    []byte
	attrs   map[string]string
	err     error
	inbox   []Message
	// dropped records messages whose handler asked for them to be discarded.
	dropped []Message
}

func (r *recordingBackend) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.channel, r.data, r.attrs = channel, data, attrs
	r.inbox = append(r.inbox, Message{ID: "m1", Data: data, Attributes: attrs})
	return "m1", nil
}

func (r *recordingBackend) Subscribe(ctx context.Context, _ string, handler Handler) error {
	for _, msg := range r.inbox {
		if err := handler(ctx, msg); err != nil {
			if requeue(err) {
				return err
			}
			r.dropped = append(r.dropped, msg)
		}
	}
	return nil
}

func (r *recordingBackend) Close() error { return nil }

func TestPublishAndSubscribeUserEvent(t *testing.T) {
	backend := &recordingBackend{}
	pub := NewEventPublisher(New(backend), "user-events")
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	err := pub.PublishUserEvent(context.Background(), UserEvent{
		Type:   EventUserRegistered,
		UserID: "u1",
		Email:  "ann@x.com",
		At:     at,
	})
	require.NoError(t, err)
	assert.Equal(t, "user-events", backend.channel)
	assert.Equal(t, "application/json", backend.attrs[AttrContentType])
	assert.Equal(t, EventUserRegistered, backend.attrs[AttrEventType])
	assert.Equal(t, "u1", backend.attrs[AttrUserID])

	var got []UserEvent
	err = pub.SubscribeUserEvents(context.Background(), nil, func(_ context.Context, e UserEvent) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.True(t, at.Equal(got[0].At))
}

func TestSubscribeUserEventsDiscardsUndecodable(t *testing.T) {
	backend := &recordingBackend{inbox: []Message{
		{ID: "bad", Data: []byte("not json")},
		{ID: "good", Data: []byte(`{"type":"user.registered","userId":"u3"}`)},
	}}
	pub := NewEventPublisher(New(backend), "user-events")

	var got []UserEvent
	err := pub.SubscribeUserEvents(context.Background(), nil, func(_ context.Context, e UserEvent) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, backend.dropped, 1)
	assert.Equal(t, "bad", backend.dropped[0].ID)
	require.Len(t, got, 1)
	assert.Equal(t, "u3", got[0].UserID)
}

func TestSubscribeUserEventsRequeuesHandlerFailure(t *testing.T) {
	backend := &recordingBackend{inbox: []Message{{ID: "m1", Data: []byte(`{"type":"user.registered"}`)}}}
	pub := NewEventPublisher(New(backend), "user-events")
	boom := errors.New("downstream unavailable")

	err := pub.SubscribeUserEvents(context.Background(), nil, func(context.Context, UserEvent) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, backend.dropped)
}

type recordingAcknowledger struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(uint64, bool) error { return nil }

func TestSettleDelivery(t *testing.T) {
	cases := map[string]struct {
		err         error
		wantAcked   int
		wantNacked  int
		wantRequeue bool
	}{
		"handled":     {wantAcked: 1},
		"failed":      {err: errors.New("db down"), wantNacked: 1, wantRequeue: true},
		"undecodable": {err: fmt.Errorf("%w: bad json", ErrDiscard), wantNacked: 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ack := &recordingAcknowledger{}
			require.NoError(t, settle(amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}, tc.err))
			assert.Equal(t, tc.wantAcked, ack.acked)
			assert.Equal(t, tc.wantNacked, ack.nacked)
			assert.Equal(t, tc.wantRequeue, ack.requeue)
		})
	}
}

func TestPublishUserEventRequiresType(t *testing.T) {
	pub := NewEventPublisher(New(&recordingBackend{}), "c")
	assert.Error(t, pub.PublishUserEvent(context.Background(), UserEvent{UserID: "u1"}))
}

func TestPublishUserEventBackendError(t *testing.T) {
	pub := NewEventPublisher(New(&recordingBackend{err: errors.New("broker down")}), "c")
	err := pub.PublishUserEvent(context.Background(), UserEvent{Type: EventUserSignedIn})
	assert.ErrorContains(t, err, "broker down")
}

func TestDecodeUserEventFallsBackToAttribute(t *testing.T) {
	event, err := DecodeUserEvent(Message{
		Data:       []byte(`{"userId":"u2"}`),
		Attributes: map[string]string{AttrEventType: EventUserSignedIn},
	})
	require.NoError(t, err)
	assert.Equal(t, EventUserSignedIn, event.Type)

	_, err = DecodeUserEvent(Message{ID: "bad", Data: []byte("{")})
	assert.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"s": "text",
		"b": []byte("raw"),
		"n": int32(7),
	})
	assert.Equal(t, map[string]string{"s": "text", "b": "raw", "n": "7"}, attrs)
}

func TestDeliveryMessage(t *testing.T) {
	msg := deliveryMessage(amqp.Delivery{
		MessageId:   "m1",
		ContentType: "application/json",
		Type:        EventUserSignedIn,
		Body:        []byte("{}"),
	})
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "application/json", msg.Attributes[AttrContentType])
	assert.Equal(t, EventUserSignedIn, msg.Attributes[AttrEventType])
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, EventUserRegistered, routingKey(map[string]string{AttrEventType: EventUserRegistered}))
	assert.Equal(t, "event", routingKey(nil))
}

func TestMQWrapsPublishErrors(t *testing.T) {
	m := New(&recordingBackend{err: errors.New("broker down")})
	_, err := m.Publish(context.Background(), "user-events", []byte("x"), nil)
	assert.ErrorContains(t, err, "publish to user-events")
}

func TestOpenDisabled(t *testing.T) {
	m, err := Open(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = Open(context.Background(), config.Config{MQ: config.MQConfig{Backend: "kafka"}})
	assert.Error(t, err)
}
