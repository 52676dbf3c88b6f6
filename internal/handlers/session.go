package handlers

import (
	"errors"
	"log"

	"redline/internal/database"
	"redline/internal/models"
	"redline/internal/orchestrator"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SessionHandler serves the REST surface for sessions. Everything that
// mutates a live conversation goes through the WebSocket; REST covers
// creation, listing, snapshots, and the memory scratchpad.
type SessionHandler struct {
	db       *database.DB
	registry *orchestrator.Registry
	config   SessionConfig
}

// SessionConfig carries the defaults new sessions inherit
type SessionConfig struct {
	DefaultModel        string
	AutonomousByDefault bool
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(db *database.DB, registry *orchestrator.Registry, cfg SessionConfig) *SessionHandler {
	return &SessionHandler{db: db, registry: registry, config: cfg}
}

type createSessionRequest struct {
	Name       string `json:"name"`
	Model      string `json:"model,omitempty"`
	Autonomous *bool  `json:"autonomous,omitempty"`
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	model := req.Model
	if model == "" {
		model = h.config.DefaultModel
	}

	session, err := models.NewSession(uuid.New().String(), req.Name, model)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Autonomous != nil {
		session.Autonomous = *req.Autonomous
	} else {
		session.Autonomous = h.config.AutonomousByDefault
	}

	if err := h.db.CreateSession(session); err != nil {
		log.Printf("❌ Failed to create session: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create session"})
	}

	log.Printf("🆕 Session created: %s (%s)", session.ID, session.Name)
	return c.Status(fiber.StatusCreated).JSON(session)
}

// List handles GET /api/sessions
func (h *SessionHandler) List(c *fiber.Ctx) error {
	sessions, err := h.db.ListSessions()
	if err != nil {
		log.Printf("❌ Failed to list sessions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list sessions"})
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

// Get handles GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	session, err := h.db.GetSession(c.Params("id"))
	if errors.Is(err, database.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load session"})
	}
	return c.JSON(session)
}

// State handles GET /api/sessions/:id/state. Opening the orchestrator here
// also triggers crash recovery for the session if the server restarted
// mid-turn.
func (h *SessionHandler) State(c *fiber.Ctx) error {
	o, err := h.registry.Open(c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	state, err := o.State()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(state)
}

// Compact handles POST /api/sessions/:id/compact
func (h *SessionHandler) Compact(c *fiber.Ctx) error {
	o, err := h.registry.Open(c.Params("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if err := o.RequestCompaction(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "compaction started"})
}

// GetMemory handles GET /api/sessions/:id/memory
func (h *SessionHandler) GetMemory(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, err := h.db.GetSession(sessionID); errors.Is(err, database.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	memory, err := h.db.GetMemory(sessionID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load memory"})
	}
	return c.JSON(memory)
}

// PutMemory handles PUT /api/sessions/:id/memory. The operator can rewrite
// the scratchpad directly; the agent edits it through the memory tool.
func (h *SessionHandler) PutMemory(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if _, err := h.db.GetSession(sessionID); errors.Is(err, database.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	}

	var memory models.Memory
	if err := c.BodyParser(&memory); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	memory.SessionID = sessionID

	if err := h.db.PutMemory(&memory); err != nil {
		log.Printf("❌ Failed to store memory for %s: %v", sessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store memory"})
	}
	return c.JSON(memory)
}
