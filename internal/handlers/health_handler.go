package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"harmonia/internal/database"
	"harmonia/internal/llm"
	"harmonia/internal/processing"
	"harmonia/internal/search"
)

// HealthHandler serves health and statistics endpoints.
type HealthHandler struct {
	router  *database.Router
	client  *llm.Client
	engine  *search.Engine
	manager *processing.Manager
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(router *database.Router, client *llm.Client, engine *search.Engine, manager *processing.Manager) *HealthHandler {
	return &HealthHandler{
		router:  router,
		client:  client,
		engine:  engine,
		manager: manager,
		started: time.Now(),
	}
}

// Handle reports full component health. The overall status is the worst
// component status: database errors make it unhealthy, LLM trouble only
// degrades it since stored memories stay readable.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	llmReport := h.client.Health(c.Context())

	dbStatus := "healthy"
	dbErrors := map[string]string{}
	for userID, err := range h.router.Health(c.Context()) {
		if err != nil {
			dbStatus = "unhealthy"
			dbErrors[userID] = err.Error()
		}
	}

	status := "healthy"
	if llmReport.Status != "healthy" {
		status = "degraded"
	}
	if dbStatus != "healthy" {
		status = "unhealthy"
	}

	dbComponent := fiber.Map{
		"status":       dbStatus,
		"open_handles": h.router.OpenHandles(),
	}
	if len(dbErrors) > 0 {
		dbComponent["errors"] = dbErrors
	}

	statusCode := fiber.StatusOK
	if status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(fiber.Map{
		"success":   status != "unhealthy",
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"components": fiber.Map{
			"llm":      llmReport,
			"database": dbComponent,
		},
	})
}

// Simple is the cheap liveness probe.
func (h *HealthHandler) Simple(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats aggregates processing, LLM, search and storage statistics.
func (h *HealthHandler) Stats(c *fiber.Ctx) error {
	userStats, err := h.router.Stats()
	if err != nil {
		return failFromError(c, err)
	}
	return ok(c, fiber.Map{
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"processing":     h.manager.Stats(),
		"llm":            h.client.Stats(),
		"search":         h.engine.Stats(),
		"storage": fiber.Map{
			"open_handles": h.router.OpenHandles(),
			"users":        userStats,
		},
	})
}
