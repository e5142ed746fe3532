package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const eventService = "/riverpile.event.v1.EventService/"

// Session lifecycle event types published through the event service.
const (
	EventSessionStarted = "SESSION_STARTED"
	EventSessionEnded   = "SESSION_ENDED"
)

// Event is a domain event published on behalf of a user session.
type Event struct {
	Type    string         `json:"type"`
	UserID  string         `json:"user_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventClient calls the event service.
type EventClient struct {
	cc *grpc.ClientConn
}

// NewEventClient wraps a client connection to the event service.
func NewEventClient(cc *grpc.ClientConn) *EventClient {
	return &EventClient{cc: cc}
}

// PublishEvent publishes a single event. Best-effort; session lifecycle callers swallow failures.
func (c *EventClient) PublishEvent(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.cc.Invoke(ctx, eventService+"PublishEvent", &ev, &struct{}{})
}
