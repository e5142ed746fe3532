package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound frame.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// sendBuffer is the per-socket outbound queue. The underlying socket buffer is the only other queue; when both
	// fill, the connection is closed rather than stalling delivery.
	sendBuffer = 256
)

// Conn is the slice of a WebSocket connection the gateway uses. *websocket.Conn implements it; tests substitute
// an in-memory pipe.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one WebSocket connection. Two goroutines serve it (readPump and writePump); the session fields are
// written once during authentication and read by the delivery paths afterwards.
type Client struct {
	gw   *Gateway
	conn Conn
	send chan []byte
	done chan struct{}
	log  zerolog.Logger

	ip         string
	clientType string // "web" or "mobile"

	mu            sync.RWMutex
	connID        string
	userID        string
	displayName   string
	authenticated bool
	connectedAt   time.Time

	authTimer *time.Timer
	closeOnce sync.Once
}

func newClient(gw *Gateway, conn Conn, ip, clientType string, logger zerolog.Logger) *Client {
	return &Client{
		gw:         gw,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		log:        logger,
		ip:         ip,
		clientType: clientType,
	}
}

// ConnID returns the connection id assigned at authentication, or "" before it.
func (c *Client) ConnID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// UserID returns the authenticated user id.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IP returns the remote address recorded at accept time.
func (c *Client) IP() string { return c.ip }

// IsAuthenticated reports whether the handshake has completed.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// Send queues a serialized frame for delivery. It reports false when the client is closed or its buffer is full;
// a full buffer closes the connection so a slow consumer cannot stall the hub.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn().Str("conn_id", c.ConnID()).Msg("Send buffer full, closing connection")
		c.gw.met.DroppedSends.Inc()
		c.shutdown()
		return false
	}
}

// sendMessage serializes and queues a server message.
func (c *Client) sendMessage(v any) {
	if raw := marshal(v); raw != nil {
		c.Send(raw)
	}
}

// shutdown closes the connection and wakes the write pump. Idempotent; the read pump's exit runs the lifecycle
// cleanup.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// CloseGoingAway announces a server shutdown to the peer and closes the socket.
func (c *Client) CloseGoingAway() {
	c.closeWithCode(websocket.CloseGoingAway, "Server shutting down")
}

// closeWithCode sends a close frame with the given code and reason, then closes the connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.shutdown()
}

// readPump reads frames and routes them. It owns the connection teardown: when the loop exits for any reason the
// session cleanup runs exactly once.
func (c *Client) readPump() {
	defer func() {
		c.gw.onClose(c)
		c.shutdown()
	}()

	heartbeat := c.gw.cfg.HeartbeatInterval
	c.conn.SetReadLimit(maxMessageSize)
	// Allow slightly more than one heartbeat interval before timing out, so a single missed pong does not
	// immediately sever the connection.
	_ = c.conn.SetReadDeadline(time.Now().Add(heartbeat + heartbeat/2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(heartbeat + heartbeat/2))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("conn_id", c.ConnID()).Msg("WebSocket read error")
			}
			return
		}

		if !c.IsAuthenticated() {
			if !c.gw.handleAuthFrame(c, raw) {
				return
			}
			continue
		}

		c.gw.router.Dispatch(c.gw.baseCtx, c, raw)
	}
}

// writePump writes queued frames and periodic pings until the client shuts down.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Str("conn_id", c.ConnID()).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
