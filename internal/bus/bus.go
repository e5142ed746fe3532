// Package bus is the cross-instance event transport. Every gateway instance publishes to and subscribes from a
// single shared topic; the channel kind travels inside the message, so one subscription covers tables, chat,
// timers, and the lobby. Each message is stamped with the publishing instance's id and receivers drop their own
// echoes, so an instance never double-delivers to its local sockets.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Topic is the shared pub/sub topic all instances use.
const Topic = "gateway:ws:events"

// Kind discriminates the hub a message belongs to.
type Kind string

const (
	KindTable Kind = "table"
	KindChat  Kind = "chat"
	KindTimer Kind = "timer"
	KindLobby Kind = "lobby"
)

// Message is the wire envelope on the shared topic. TableID is the literal "lobby" for lobby messages. Source is
// never empty on a well-formed message; it is how receivers suppress their own echoes.
type Message struct {
	Kind    Kind           `json:"kind"`
	TableID string         `json:"table_id"`
	Payload map[string]any `json:"payload"`
	Source  string         `json:"source"`
}

// Handler processes one received message for its kind.
type Handler func(ctx context.Context, msg Message)

// Bus publishes and receives cross-instance gateway events.
type Bus struct {
	rdb        *redis.Client
	instanceID string
	log        zerolog.Logger

	handlers map[Kind]Handler

	mu     sync.Mutex
	sub    *redis.PubSub
	closed bool
}

// New creates a bus for this instance.
func New(rdb *redis.Client, instanceID string, logger zerolog.Logger) *Bus {
	return &Bus{
		rdb:        rdb,
		instanceID: instanceID,
		log:        logger.With().Str("component", "bus").Logger(),
		handlers:   make(map[Kind]Handler),
	}
}

// Init registers the per-kind handlers. It must be called before Run.
func (b *Bus) Init(handlers map[Kind]Handler) {
	b.handlers = handlers
}

// Publish stamps the message with this instance's id and writes it to the shared topic.
func (b *Bus) Publish(ctx context.Context, kind Kind, tableID string, payload map[string]any) error {
	msg := Message{Kind: kind, TableID: tableID, Payload: payload, Source: b.instanceID}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	if err := b.rdb.Publish(ctx, Topic, raw).Err(); err != nil {
		return fmt.Errorf("publish bus message: %w", err)
	}
	return nil
}

// Run subscribes to the shared topic and dispatches received messages until the context is cancelled or the
// subscription fails. Messages whose source id matches this instance are dropped without invoking any handler.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	sub := b.rdb.Subscribe(ctx, Topic)
	b.sub = sub
	b.mu.Unlock()

	b.log.Info().Str("topic", Topic).Msg("Bus subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			b.dispatch(ctx, raw.Payload)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.log.Warn().Err(err).Msg("Invalid bus message")
		return
	}

	if msg.Source == "" {
		b.log.Warn().Str("kind", string(msg.Kind)).Msg("Bus message without source id dropped")
		return
	}
	if msg.Source == b.instanceID {
		return
	}

	handler, ok := b.handlers[msg.Kind]
	if !ok {
		b.log.Warn().Str("kind", string(msg.Kind)).Msg("No handler for bus message kind")
		return
	}
	handler(ctx, msg)
}

// Close tears down the subscription. It is idempotent; publishing after Close fails only at the store client,
// which the owner closes separately.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.sub != nil {
		if err := b.sub.Close(); err != nil {
			return fmt.Errorf("close bus subscription: %w", err)
		}
	}
	return nil
}
