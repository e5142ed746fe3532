// Package gateway is the realtime core: it owns WebSocket sessions from authentication to teardown, routes typed
// client frames to the table, chat, and lobby hubs, and fans service events out to subscribed sockets on every
// instance.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/auth"
	"github.com/riverpile/riverpile-gateway/internal/bus"
	"github.com/riverpile/riverpile-gateway/internal/config"
	"github.com/riverpile/riverpile-gateway/internal/metrics"
	"github.com/riverpile/riverpile-gateway/internal/presence"
	"github.com/riverpile/riverpile-gateway/internal/registry"
	"github.com/riverpile/riverpile-gateway/internal/rpc"
	"github.com/riverpile/riverpile-gateway/internal/subscription"
)

// lifecycleTimeout bounds the store and service calls made during session setup and teardown.
const lifecycleTimeout = 5 * time.Second

// AuthStatus classifies the pre-upgrade token check.
type AuthStatus int

const (
	// AuthMissing means no token was presented; the client gets one in-band attempt.
	AuthMissing AuthStatus = iota
	// AuthOK means the token verified and the session starts authenticated.
	AuthOK
	// AuthInvalid means a token was presented and rejected; the connection is closed immediately.
	AuthInvalid
)

// AuthResult is the outcome of the query-parameter token check performed before the upgrade.
type AuthResult struct {
	Status AuthStatus
	Claims *auth.Claims
}

// Gateway wires the session lifecycle, the hubs, and the delivery engine together.
type Gateway struct {
	cfg         *config.Config
	verifier    *auth.Verifier
	local       *registry.Local
	directory   *registry.Directory
	index       *subscription.Index
	broadcaster *Broadcaster
	presence    *presence.Store
	events      EventService
	players     PlayerService
	router      *Router
	met         *metrics.Metrics
	log         zerolog.Logger

	instanceID string
	baseCtx    context.Context

	tables *TableHub
	chat   *ChatHub
	lobby  *LobbyHub
}

// New builds the gateway and registers all hub handlers on its router.
func New(
	ctx context.Context,
	cfg *config.Config,
	verifier *auth.Verifier,
	local *registry.Local,
	directory *registry.Directory,
	index *subscription.Index,
	broadcaster *Broadcaster,
	limiter RateLimiter,
	presenceStore *presence.Store,
	game GameService,
	players PlayerService,
	events EventService,
	history ChatHistory,
	instanceID string,
	met *metrics.Metrics,
	logger zerolog.Logger,
) *Gateway {
	g := &Gateway{
		cfg:         cfg,
		verifier:    verifier,
		local:       local,
		directory:   directory,
		index:       index,
		broadcaster: broadcaster,
		presence:    presenceStore,
		events:      events,
		players:     players,
		router:      NewRouter(met, logger),
		met:         met,
		log:         logger.With().Str("component", "gateway").Logger(),
		instanceID:  instanceID,
		baseCtx:     ctx,
	}

	g.tables = NewTableHub(index, broadcaster, game, limiter, met, logger)
	g.chat = NewChatHub(index, broadcaster, game, players, history, limiter, met, logger)
	g.lobby = NewLobbyHub(index, broadcaster, game, logger)

	g.tables.RegisterHandlers(g.router)
	g.chat.RegisterHandlers(g.router)

	return g
}

// ServeConn runs one accepted WebSocket connection to completion. pre carries the result of the query-parameter
// token check; a missing token arms the in-band authentication window. The call blocks until the connection
// closes.
func (g *Gateway) ServeConn(conn Conn, pre AuthResult, ip, clientType string) {
	c := newClient(g, conn, ip, clientType, g.log)
	go c.writePump()

	switch pre.Status {
	case AuthInvalid:
		c.closeWithCode(ClosePolicyViolation, ReasonUnauthorized)
		return
	case AuthOK:
		if !g.authenticate(c, pre.Claims) {
			c.closeWithCode(CloseInternalError, ReasonInternal)
			return
		}
	case AuthMissing:
		c.authTimer = time.AfterFunc(g.cfg.AuthTimeout, func() {
			if !c.IsAuthenticated() {
				g.log.Debug().Str("ip", c.ip).Msg("Authentication window expired")
				c.closeWithCode(ClosePolicyViolation, ReasonAuthRequired)
			}
		})
	}

	c.readPump()
}

// handleAuthFrame processes the first frame of an unauthenticated connection. It must be a well-formed
// Authenticate message with a valid token; anything else closes the socket. Returns false when the connection was
// closed.
func (g *Gateway) handleAuthFrame(c *Client, raw []byte) bool {
	msg, err := decodeClientMessage(raw)
	if err != nil || msg.Type != TypeAuthenticate || msg.Token == "" {
		c.closeWithCode(ClosePolicyViolation, ReasonInvalidAuthPayload)
		return false
	}

	ctx, cancel := context.WithTimeout(g.baseCtx, lifecycleTimeout)
	defer cancel()

	claims, err := g.verifier.Verify(ctx, msg.Token)
	if err != nil {
		g.log.Debug().Err(err).Str("ip", c.ip).Msg("In-band authentication rejected")
		c.closeWithCode(ClosePolicyViolation, ReasonUnauthorized)
		return false
	}

	if !g.authenticate(c, claims) {
		c.closeWithCode(CloseInternalError, ReasonInternal)
		return false
	}
	return true
}

// authenticate promotes a connection to an authenticated session: assigns its id, registers it locally and in the
// shared directory, marks the user online, announces the session, and sends the Welcome frame.
func (g *Gateway) authenticate(c *Client, claims *auth.Claims) bool {
	now := time.Now()
	connID := uuid.NewString()
	userID := claims.UserID()
	displayName := claims.DisplayName()

	c.mu.Lock()
	if c.authenticated {
		c.mu.Unlock()
		return true
	}
	c.connID = connID
	c.userID = userID
	c.displayName = displayName
	c.authenticated = true
	c.connectedAt = now
	timer := c.authTimer
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	g.local.Register(connID, registry.Entry{Sender: c, UserID: userID, IP: c.ip})
	g.met.Connections.Inc()

	ctx, cancel := context.WithTimeout(g.baseCtx, lifecycleTimeout)
	defer cancel()

	if err := g.directory.Save(ctx, registry.ConnInfo{
		ID:          connID,
		UserID:      userID,
		IP:          c.ip,
		ClientType:  c.clientType,
		InstanceID:  g.instanceID,
		ConnectedAt: now,
	}); err != nil {
		g.log.Warn().Err(err).Str("conn_id", connID).Msg("Failed to save connection to directory")
	}

	if err := g.presence.SetOnline(ctx, userID); err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to mark user online")
	}

	go g.publishSessionEvent(rpc.EventSessionStarted, userID, map[string]any{
		"connection_id": connID,
		"client_type":   c.clientType,
		"timestamp":     now.UTC().Format(time.RFC3339),
	})

	c.sendMessage(Welcome{
		Type:                TypeWelcome,
		UserID:              userID,
		ConnectionID:        connID,
		HeartbeatIntervalMS: int(g.cfg.HeartbeatInterval / time.Millisecond),
	})

	g.lobby.OnAttach(ctx, c)

	if displayName != "" {
		go func() {
			ctx, cancel := context.WithTimeout(g.baseCtx, lifecycleTimeout)
			defer cancel()
			if err := g.players.SyncUsername(ctx, userID, displayName); err != nil {
				g.log.Debug().Err(err).Str("user_id", userID).Msg("Username sync failed")
			}
		}()
	}

	g.log.Info().
		Str("conn_id", connID).
		Str("user_id", userID).
		Str("client_type", c.clientType).
		Str("ip", c.ip).
		Msg("Session authenticated")
	return true
}

// onClose tears a session down. Unauthenticated connections have no session state; authenticated ones are removed
// from the local registry, the subscription index, and the shared directory, and the user goes offline when this
// was their last connection anywhere.
func (g *Gateway) onClose(c *Client) {
	c.mu.Lock()
	timer := c.authTimer
	authenticated := c.authenticated
	connID := c.connID
	userID := c.userID
	connectedAt := c.connectedAt
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if !authenticated {
		return
	}

	g.local.Unregister(connID)
	g.met.Connections.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()

	g.index.UnsubscribeAll(ctx, connID)

	if err := g.directory.Delete(ctx, connID, userID); err != nil {
		g.log.Warn().Err(err).Str("conn_id", connID).Msg("Failed to delete connection from directory")
	}

	remaining, err := g.directory.ByUser(ctx, userID)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to check remaining connections")
	} else if len(remaining) == 0 {
		if err := g.presence.SetOffline(ctx, userID); err != nil {
			g.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to mark user offline")
		}
	}

	go g.publishSessionEvent(rpc.EventSessionEnded, userID, map[string]any{
		"connection_id": connID,
		"duration_ms":   time.Since(connectedAt).Milliseconds(),
	})

	g.log.Info().
		Str("conn_id", connID).
		Str("user_id", userID).
		Dur("duration", time.Since(connectedAt)).
		Msg("Session closed")
}

// publishSessionEvent announces a lifecycle event to the event service. Failures are logged and never affect the
// session.
func (g *Gateway) publishSessionEvent(eventType, userID string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(g.baseCtx, lifecycleTimeout)
	defer cancel()

	if err := g.events.PublishEvent(ctx, rpc.Event{Type: eventType, UserID: userID, Payload: payload}); err != nil {
		g.log.Debug().Err(err).Str("event", eventType).Str("user_id", userID).Msg("Session event publish failed")
	}
}

// BusHandlers returns the per-kind handlers for cross-instance messages. Table and timer events share a delivery
// channel; chat and lobby have their own.
func (g *Gateway) BusHandlers() map[bus.Kind]bus.Handler {
	tableHandler := func(ctx context.Context, msg bus.Message) {
		g.met.BusReceived.Inc()
		g.broadcaster.Local(ctx, subscription.TableChannel(msg.TableID), msg.Payload)
	}

	return map[bus.Kind]bus.Handler{
		bus.KindTable: tableHandler,
		bus.KindTimer: tableHandler,
		bus.KindChat: func(ctx context.Context, msg bus.Message) {
			g.met.BusReceived.Inc()
			g.broadcaster.Local(ctx, subscription.ChatChannel(msg.TableID), msg.Payload)
		},
		bus.KindLobby: func(ctx context.Context, msg bus.Message) {
			g.met.BusReceived.Inc()
			g.lobby.DeliverBusUpdate(ctx, msg.Payload)
		},
	}
}
