package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	store   Pinger
	cache   HealthChecker
	gateway interface{ State() string }
	version string
}

// NewHealthHandler builds the /health check. cache and gateway may be nil.
func NewHealthHandler(store Pinger, cache HealthChecker, gateway interface{ State() string }, version string) *HealthHandler {
	return &HealthHandler{store: store, cache: cache, gateway: gateway, version: version}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	services := fiber.Map{"database": "connected"}
	if err := h.store.Ping(ctx); err != nil {
		services["database"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	}
	if h.cache != nil {
		services["redis"] = "connected"
		if err := h.cache.HealthCheck(ctx); err != nil {
			// the cache is an accelerator only
			services["redis"] = "unavailable"
		}
	}
	if h.gateway != nil {
		services["gateway_circuit"] = h.gateway.State()
	}

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"version":  h.version,
		"services": services,
	})
}
