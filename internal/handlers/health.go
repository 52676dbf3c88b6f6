package handlers

import (
	"time"

	"redline/internal/services"
	"redline/internal/tools"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	tools       *tools.Registry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, toolRegistry *tools.Registry) *HealthHandler {
	return &HealthHandler{connManager: connManager, tools: toolRegistry}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"connections": h.connManager.Count(),
		"tools":       h.tools.Count(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
