package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/riverpile/riverpile-gateway/internal/auth"
	"github.com/riverpile/riverpile-gateway/internal/config"
)

func TestUpgradeRequiresWebSocketHandshake(t *testing.T) {
	t.Parallel()

	verifier, err := auth.NewVerifier(&config.Config{JWTHS256Secret: "s3cret"})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	app := fiber.New()
	handler := NewGatewayHandler(nil, verifier, zerolog.Nop())
	app.Get("/ws", handler.Upgrade)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426 for a plain GET", resp.StatusCode)
	}
}
