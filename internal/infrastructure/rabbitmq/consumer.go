package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gigplan/availability-service/internal/audit"
	"github.com/gigplan/availability-service/internal/contracts/event"
	"github.com/gigplan/availability-service/internal/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	supportedVersion = 1

	rkEventCanceled     = "event.canceled"
	rkMembershipChanged = "group.membership.changed"

	handlerName = "event_canceled_purge"

	queueName = "availability-service.events"
)

// PurgeStore is the slice of the postgres repository the consumer needs:
// the idempotency fence plus the transactional purge.
type PurgeStore interface {
	ProcessOnce(ctx context.Context, messageID, handlerName string, fn func(tx pgx.Tx) error) (bool, error)
	PurgeEventResponsesTx(ctx context.Context, tx pgx.Tx, traceID string, eventID uuid.UUID) error
}

// RosterInvalidator drops a group's cached roster snapshot.
type RosterInvalidator interface {
	InvalidateRoster(ctx context.Context, groupID uuid.UUID) error
}

// Consumer handles inbound collaborator events: event.canceled purges the
// event's responses (redeliveries are no-ops; the dedupe fence and the purge
// share one DB transaction), and group.membership.changed invalidates the
// roster snapshot so membership guards see the change before the TTL expires.
type Consumer struct {
	rabbitURL string
	exchange  string
	store     PurgeStore
	cache     RosterInvalidator
	audit     *audit.Logger
}

func NewConsumer(rabbitURL, exchange string, store PurgeStore, cache RosterInvalidator, auditLog *audit.Logger) *Consumer {
	return &Consumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		exchange:  strings.TrimSpace(exchange),
		store:     store,
		cache:     cache,
		audit:     auditLog,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "rabbitmq_consumer").Logger()

	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// Ensure exchange exists (idempotent)
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	for _, rk := range []string{rkEventCanceled, rkMembershipChanged} {
		if err := ch.QueueBind(q.Name, rk, c.exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "availability-service", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	go func() {
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				if err := c.handleDelivery(ctx, d); err != nil {
					_ = d.Nack(false, true) // transient => requeue
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	log.Info().Str("queue", q.Name).Msg("consumer started")
	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	baseLog := logger.Logger.With().
		Str("component", "rabbitmq_consumer").
		Str("routing_key", d.RoutingKey).
		Logger()

	var env event.DomainEventEnvelope[json.RawMessage]
	if err := json.Unmarshal(d.Body, &env); err != nil {
		baseLog.Warn().Err(err).Msg("invalid envelope json; dropping")
		return nil // poison => drop
	}

	if env.Version != supportedVersion {
		baseLog.Warn().Int("version", env.Version).Msg("unsupported envelope version; dropping")
		return nil
	}

	// message_id: prefer envelope.message_id, then AMQP MessageId, else hash fallback
	msgID := strings.TrimSpace(env.MessageID)
	if msgID == "" {
		msgID = strings.TrimSpace(d.MessageId)
	}
	if msgID == "" {
		h := sha256.Sum256(append([]byte(d.RoutingKey+"\n"), d.Body...))
		msgID = "hash:" + hex.EncodeToString(h[:])
	}

	log := baseLog.With().
		Str("message_id", msgID).
		Str("trace_id", strings.TrimSpace(env.TraceID)).
		Logger()

	switch d.RoutingKey {
	case rkEventCanceled:
		return c.handleEventCanceled(ctx, msgID, env, log)
	case rkMembershipChanged:
		return c.handleMembershipChanged(ctx, env.Payload, log)
	default:
		log.Warn().Msg("unexpected routing key; dropping")
		return nil
	}
}

func (c *Consumer) handleEventCanceled(ctx context.Context, msgID string, env event.DomainEventEnvelope[json.RawMessage], log zerolog.Logger) error {
	eventID, ok := parseCanceledPayload(env.Payload, log)
	if !ok {
		return nil // malformed payload => drop, never requeue poison
	}

	processed, err := c.store.ProcessOnce(ctx, msgID, handlerName, func(tx pgx.Tx) error {
		return c.store.PurgeEventResponsesTx(ctx, tx, strings.TrimSpace(env.TraceID), eventID)
	})
	if err != nil {
		log.Error().Err(err).Msg("purge failed (requeue)")
		return err
	}
	if !processed {
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	c.audit.ResponsesPurged(ctx, eventID)
	log.Info().Str("event_id", eventID.String()).Msg("responses purged for canceled event")
	return nil
}

// handleMembershipChanged drops the roster snapshot. Invalidation is
// idempotent, so no dedupe fence. A failed delete is logged and not
// requeued; the snapshot TTL bounds the staleness.
func (c *Consumer) handleMembershipChanged(ctx context.Context, raw json.RawMessage, log zerolog.Logger) error {
	groupID, ok := parseMembershipPayload(raw, log)
	if !ok {
		return nil
	}

	if err := c.cache.InvalidateRoster(ctx, groupID); err != nil {
		log.Warn().Err(err).Str("group_id", groupID.String()).Msg("roster invalidation failed; snapshot expires by TTL")
		return nil
	}

	log.Info().Str("group_id", groupID.String()).Msg("roster snapshot invalidated")
	return nil
}

func parseCanceledPayload(raw json.RawMessage, log zerolog.Logger) (uuid.UUID, bool) {
	var p event.EventCanceledPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return uuid.Nil, false
	}

	id := strings.TrimSpace(p.EventID)
	if id == "" {
		id = strings.TrimSpace(p.ID)
	}
	if id == "" {
		log.Warn().Msg("missing event_id; dropping")
		return uuid.Nil, false
	}

	eid, err := uuid.Parse(id)
	if err != nil {
		log.Warn().Err(err).Msg("invalid event_id; dropping")
		return uuid.Nil, false
	}
	return eid, true
}

func parseMembershipPayload(raw json.RawMessage, log zerolog.Logger) (uuid.UUID, bool) {
	var p event.MembershipChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return uuid.Nil, false
	}

	gid, err := uuid.Parse(strings.TrimSpace(p.GroupID))
	if err != nil {
		log.Warn().Err(err).Msg("invalid group_id; dropping")
		return uuid.Nil, false
	}
	return gid, true
}
