// Package api holds the HTTP surface: the WebSocket upgrade endpoint and the health probe.
package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/auth"
	"github.com/riverpile/riverpile-gateway/internal/gateway"
)

// GatewayHandler serves the WebSocket upgrade endpoint.
type GatewayHandler struct {
	gw       *gateway.Gateway
	verifier *auth.Verifier
	log      zerolog.Logger
}

// NewGatewayHandler creates the upgrade handler.
func NewGatewayHandler(gw *gateway.Gateway, verifier *auth.Verifier, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{gw: gw, verifier: verifier, log: logger.With().Str("component", "api").Logger()}
}

// Upgrade handles GET /ws. A token query parameter is verified before the upgrade so the session can start
// authenticated; without one the connection gets a single in-band authentication attempt. The upgrade itself never
// fails on a bad token — the close frame carries the rejection, which browsers can read where an HTTP 401 on a
// WebSocket request is opaque.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	pre := gateway.AuthResult{Status: gateway.AuthMissing}
	if token := c.Query("token"); token != "" {
		claims, err := h.verifier.Verify(c.Context(), token)
		if err != nil {
			h.log.Debug().Err(err).Str("ip", c.IP()).Msg("Query token rejected")
			pre = gateway.AuthResult{Status: gateway.AuthInvalid}
		} else {
			pre = gateway.AuthResult{Status: gateway.AuthOK, Claims: claims}
		}
	}

	clientType := c.Query("client", "web")
	if clientType != "mobile" {
		clientType = "web"
	}
	ip := c.IP()

	return websocket.New(func(conn *websocket.Conn) {
		h.gw.ServeConn(conn.Conn, pre, ip, clientType)
	})(c)
}
