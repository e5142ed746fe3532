package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/metrics"
)

// HandlerFunc processes one decoded client message on behalf of a connection.
type HandlerFunc func(ctx context.Context, c *Client, msg *ClientMessage)

// Router dispatches inbound frames to per-hub handlers by the message's type tag. It is hub-agnostic: hubs
// register their handler tables at construction and the router only decodes, validates, and routes. Malformed or
// unknown frames are dropped silently; a handler panic is logged and never closes the socket.
type Router struct {
	handlers map[string]HandlerFunc
	hubNames map[string]string
	met      *metrics.Metrics
	log      zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(met *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		hubNames: make(map[string]string),
		met:      met,
		log:      logger.With().Str("component", "router").Logger(),
	}
}

// Register binds a message type tag to a handler. hub names the owning hub for failure accounting.
func (r *Router) Register(hub, msgType string, h HandlerFunc) {
	r.handlers[msgType] = h
	r.hubNames[msgType] = hub
}

// Dispatch decodes a raw frame and invokes its handler. Frames that are not JSON objects, have no known type tag,
// or fail schema validation are dropped.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.log.Debug().Str("conn_id", c.ConnID()).Msg("Dropping non-object frame")
		return
	}
	if msg.Type == "" {
		return
	}

	handler, ok := r.handlers[msg.Type]
	if !ok {
		r.log.Debug().Str("conn_id", c.ConnID()).Str("type", msg.Type).Msg("Dropping frame with unknown type")
		return
	}

	if requiresTableID(msg.Type) && msg.TableID == "" {
		r.log.Debug().Str("conn_id", c.ConnID()).Str("type", msg.Type).Msg("Dropping frame without table id")
		return
	}

	event := r.log.Debug().Str("conn_id", c.ConnID()).Str("type", msg.Type)
	if msg.TableID != "" {
		event = event.Str("table_id", msg.TableID)
	}
	event.Msg("Dispatching frame")

	defer func() {
		if rec := recover(); rec != nil {
			r.met.HandlerFailures.WithLabelValues(r.hubNames[msg.Type]).Inc()
			r.log.Error().Any("panic", rec).Str("conn_id", c.ConnID()).Str("type", msg.Type).
				Msg("Handler panicked")
		}
	}()
	handler(ctx, c, &msg)
}

// requiresTableID reports whether the message type's schema demands a non-empty tableId.
func requiresTableID(msgType string) bool {
	switch msgType {
	case TypeSubscribeTable, TypeUnsubscribeTable, TypeResyncTable, TypeJoinSeat, TypeLeaveTable, TypeAction,
		TypeSubscribeChat, TypeUnsubscribeChat, TypeChatSend:
		return true
	default:
		return false
	}
}
