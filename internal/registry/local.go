// Package registry tracks WebSocket connections: a local socket table owned by this process and a shared directory
// in the key-value store so any gateway instance can address any connection.
package registry

import (
	"sync"

	"github.com/rs/zerolog"
)

// Sender delivers one serialized frame to a socket. Send reports false when the frame could not be queued; callers
// treat that as a no-op because the socket's own error path will close it.
type Sender interface {
	Send(payload []byte) bool
}

// Closer is implemented by senders that can announce a server shutdown to their peer before closing.
type Closer interface {
	CloseGoingAway()
}

// Entry is the local record for one connection.
type Entry struct {
	Sender Sender
	UserID string
	IP     string
}

// Local is the in-process socket table. Each entry is written only by the goroutine that owns the socket; readers
// are the delivery paths.
type Local struct {
	mu    sync.RWMutex
	conns map[string]Entry
	log   zerolog.Logger
}

// NewLocal creates an empty local socket table.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		conns: make(map[string]Entry),
		log:   logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a connection to the table.
func (l *Local) Register(connID string, e Entry) {
	l.mu.Lock()
	l.conns[connID] = e
	total := len(l.conns)
	l.mu.Unlock()
	l.log.Debug().Str("conn_id", connID).Str("user_id", e.UserID).Int("total", total).Msg("Connection registered")
}

// Unregister removes a connection from the table.
func (l *Local) Unregister(connID string) {
	l.mu.Lock()
	delete(l.conns, connID)
	total := len(l.conns)
	l.mu.Unlock()
	l.log.Debug().Str("conn_id", connID).Int("total", total).Msg("Connection unregistered")
}

// Meta returns the entry for a connection id.
func (l *Local) Meta(connID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.conns[connID]
	return e, ok
}

// SendText delivers a serialized frame to a locally owned connection. Unknown conn ids and send failures are
// swallowed: stale index entries are expected and the socket's error path handles broken connections.
func (l *Local) SendText(connID string, payload []byte) bool {
	l.mu.RLock()
	e, ok := l.conns[connID]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	return e.Sender.Send(payload)
}

// CloseAll tells every connection the server is going away. Senders that cannot announce the close are left to the
// listener teardown.
func (l *Local) CloseAll() {
	l.mu.RLock()
	senders := make([]Sender, 0, len(l.conns))
	for _, e := range l.conns {
		senders = append(senders, e.Sender)
	}
	l.mu.RUnlock()

	for _, s := range senders {
		if c, ok := s.(Closer); ok {
			c.CloseGoingAway()
		}
	}
}

// Count returns the number of locally owned connections.
func (l *Local) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.conns)
}
