package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves the load balancer health probe.
type HealthHandler struct {
	rdb *redis.Client
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(rdb *redis.Client) *HealthHandler {
	return &HealthHandler{rdb: rdb}
}

// Health handles GET /healthz. It pings the shared store; an instance that cannot reach it cannot route, so the
// probe reports degraded and the balancer drains it.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	storeStatus := "ok"
	overall := "ok"
	status := fiber.StatusOK
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		storeStatus = "unavailable"
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"valkey": storeStatus,
	})
}
