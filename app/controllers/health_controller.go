package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/flowkitio/flowkit/internal/pkg/database"
)

// HealthController answers liveness probes with a store ping.
type HealthController struct {
	ping func(c *fiber.Ctx) error
}

func NewHealthController() *HealthController {
	return &HealthController{ping: pingDatabase}
}

func pingDatabase(c *fiber.Ctx) error {
	return database.Ping(c.Context())
}

// HandleHealth reports service and store health.
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	status := "ok"
	dbStatus := "ok"
	if err := hc.ping(c); err != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().UTC().Format(timeFormat),
	})
}
