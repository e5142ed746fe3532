package gateway

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/bus"
	"github.com/riverpile/riverpile-gateway/internal/metrics"
	"github.com/riverpile/riverpile-gateway/internal/registry"
	"github.com/riverpile/riverpile-gateway/internal/subscription"
)

// Broadcaster is the delivery engine. Local fans a payload out to this instance's subscribed sockets, serializing
// exactly once; Broadcast additionally publishes to the bus so every other instance runs its own local fan-out.
// Conn ids owned by other instances are silently skipped here — their owners deliver them.
type Broadcaster struct {
	index *subscription.Index
	local *registry.Local
	bus   *bus.Bus
	met   *metrics.Metrics
	log   zerolog.Logger
}

// NewBroadcaster creates the delivery engine.
func NewBroadcaster(index *subscription.Index, local *registry.Local, b *bus.Bus, met *metrics.Metrics, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		index: index,
		local: local,
		bus:   b,
		met:   met,
		log:   logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Local delivers the payload to every locally owned subscriber of the channel. Send failures are ignored; the
// socket's own error path closes broken connections.
func (b *Broadcaster) Local(ctx context.Context, channel string, payload any) {
	subscribers := b.index.Subscribers(ctx, channel)
	if len(subscribers) == 0 {
		return
	}

	raw := marshal(payload)
	if raw == nil {
		b.log.Error().Str("channel", channel).Msg("Failed to serialize broadcast payload")
		return
	}

	for _, connID := range subscribers {
		if b.local.SendText(connID, raw) {
			b.met.Delivered.Inc()
		}
	}
}

// Broadcast delivers locally and publishes to the bus for remote instances. The channel string is explicitly
// mapped to the publisher's kind-tagged form; unknown channel shapes are a programming error and stay local.
func (b *Broadcaster) Broadcast(ctx context.Context, channel string, payload map[string]any) {
	b.Local(ctx, channel, payload)

	kind, tableID, ok := splitChannel(channel)
	if !ok {
		b.log.Error().Str("channel", channel).Msg("Refusing to publish unknown channel shape")
		return
	}

	if err := b.bus.Publish(ctx, kind, tableID, payload); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("Bus publish failed")
		return
	}
	b.met.BusPublished.Inc()
}

// splitChannel maps a subscription channel name onto the bus kind and table id.
func splitChannel(channel string) (bus.Kind, string, bool) {
	switch {
	case channel == subscription.Lobby:
		return bus.KindLobby, subscription.Lobby, true
	case strings.HasPrefix(channel, "table:"):
		return bus.KindTable, strings.TrimPrefix(channel, "table:"), true
	case strings.HasPrefix(channel, "chat:"):
		return bus.KindChat, strings.TrimPrefix(channel, "chat:"), true
	default:
		return "", "", false
	}
}
