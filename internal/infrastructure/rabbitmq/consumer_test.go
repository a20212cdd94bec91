package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gigplan/availability-service/internal/audit"
	"github.com/gigplan/availability-service/internal/contracts/event"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCanceledPayload(t *testing.T) {
	log := zerolog.Nop()
	eventID := uuid.New()

	t.Run("event_id field", func(t *testing.T) {
		raw, _ := json.Marshal(event.EventCanceledPayload{EventID: eventID.String()})
		got, ok := parseCanceledPayload(raw, log)
		require.True(t, ok)
		assert.Equal(t, eventID, got)
	})

	t.Run("legacy id field", func(t *testing.T) {
		raw := []byte(`{"id":"` + eventID.String() + `"}`)
		got, ok := parseCanceledPayload(raw, log)
		require.True(t, ok)
		assert.Equal(t, eventID, got)
	})

	t.Run("missing id drops", func(t *testing.T) {
		_, ok := parseCanceledPayload([]byte(`{}`), log)
		assert.False(t, ok)
	})

	t.Run("malformed uuid drops", func(t *testing.T) {
		_, ok := parseCanceledPayload([]byte(`{"event_id":"nope"}`), log)
		assert.False(t, ok)
	})

	t.Run("invalid json drops", func(t *testing.T) {
		_, ok := parseCanceledPayload([]byte(`{`), log)
		assert.False(t, ok)
	})
}

type fakePurgeStore struct {
	processed map[string]bool
	purged    []uuid.UUID
	purgeErr  error
}

func newFakePurgeStore() *fakePurgeStore {
	return &fakePurgeStore{processed: map[string]bool{}}
}

func (f *fakePurgeStore) ProcessOnce(ctx context.Context, messageID, handlerName string, fn func(tx pgx.Tx) error) (bool, error) {
	if f.processed[messageID] {
		return false, nil
	}
	if err := fn(nil); err != nil {
		return false, err
	}
	f.processed[messageID] = true
	return true, nil
}

func (f *fakePurgeStore) PurgeEventResponsesTx(ctx context.Context, tx pgx.Tx, traceID string, eventID uuid.UUID) error {
	if f.purgeErr != nil {
		return f.purgeErr
	}
	f.purged = append(f.purged, eventID)
	return nil
}

type fakeInvalidator struct {
	invalidated []uuid.UUID
	err         error
}

func (f *fakeInvalidator) InvalidateRoster(ctx context.Context, groupID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.invalidated = append(f.invalidated, groupID)
	return nil
}

func envelopeBody(t *testing.T, messageID string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(event.DomainEventEnvelope[json.RawMessage]{
		Version:   1,
		Producer:  "event-service",
		MessageID: messageID,
		Payload:   raw,
	})
	require.NoError(t, err)
	return body
}

func newTestConsumer(store *fakePurgeStore, cache *fakeInvalidator, auditSink *bytes.Buffer) *Consumer {
	return NewConsumer("amqp://unused", "band.events", store, cache, audit.New(zerolog.New(auditSink)))
}

func TestHandleDelivery_PurgesOnceAndAudits(t *testing.T) {
	store := newFakePurgeStore()
	cache := &fakeInvalidator{}
	var auditSink bytes.Buffer
	c := newTestConsumer(store, cache, &auditSink)

	eventID := uuid.New()
	d := amqp.Delivery{
		RoutingKey: rkEventCanceled,
		Body:       envelopeBody(t, "msg-1", event.EventCanceledPayload{EventID: eventID.String()}),
	}

	require.NoError(t, c.handleDelivery(context.Background(), d))
	require.NoError(t, c.handleDelivery(context.Background(), d), "redelivery acks without re-purging")

	assert.Equal(t, []uuid.UUID{eventID}, store.purged)
	assert.Equal(t, 1, bytes.Count(auditSink.Bytes(), []byte("responses_purged")))
	assert.Contains(t, auditSink.String(), eventID.String())
}

func TestHandleDelivery_TransientPurgeFailureRequeues(t *testing.T) {
	store := newFakePurgeStore()
	store.purgeErr = errors.New("db down")
	var auditSink bytes.Buffer
	c := newTestConsumer(store, &fakeInvalidator{}, &auditSink)

	d := amqp.Delivery{
		RoutingKey: rkEventCanceled,
		Body:       envelopeBody(t, "msg-1", event.EventCanceledPayload{EventID: uuid.New().String()}),
	}

	assert.Error(t, c.handleDelivery(context.Background(), d))
	assert.NotContains(t, auditSink.String(), "responses_purged")
}

func TestHandleDelivery_MembershipChangeInvalidatesRoster(t *testing.T) {
	store := newFakePurgeStore()
	cache := &fakeInvalidator{}
	c := newTestConsumer(store, cache, &bytes.Buffer{})

	groupID := uuid.New()
	d := amqp.Delivery{
		RoutingKey: rkMembershipChanged,
		Body:       envelopeBody(t, "msg-2", event.MembershipChangedPayload{GroupID: groupID.String()}),
	}

	require.NoError(t, c.handleDelivery(context.Background(), d))
	assert.Equal(t, []uuid.UUID{groupID}, cache.invalidated)
	assert.Empty(t, store.purged)
}

func TestHandleDelivery_InvalidationFailureDoesNotRequeue(t *testing.T) {
	cache := &fakeInvalidator{err: errors.New("redis down")}
	c := newTestConsumer(newFakePurgeStore(), cache, &bytes.Buffer{})

	d := amqp.Delivery{
		RoutingKey: rkMembershipChanged,
		Body:       envelopeBody(t, "msg-3", event.MembershipChangedPayload{GroupID: uuid.New().String()}),
	}

	assert.NoError(t, c.handleDelivery(context.Background(), d), "snapshot TTL covers a failed invalidation")
}

func TestHandleDelivery_PoisonDropped(t *testing.T) {
	store := newFakePurgeStore()
	c := newTestConsumer(store, &fakeInvalidator{}, &bytes.Buffer{})

	for _, body := range [][]byte{
		[]byte(`not json`),
		envelopeBody(t, "msg-4", event.EventCanceledPayload{EventID: "not-a-uuid"}),
		[]byte(`{"version":99,"payload":{}}`),
	} {
		d := amqp.Delivery{RoutingKey: rkEventCanceled, Body: body}
		assert.NoError(t, c.handleDelivery(context.Background(), d), "poison acks, never requeues")
	}
	assert.Empty(t, store.purged)
}
