package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"redline/internal/models"
	"redline/internal/orchestrator"
	"redline/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Read deadline allows for multi-minute tool executions between client
// messages; pings keep the connection alive meanwhile.
const (
	wsReadDeadline = 360 * time.Second
	wsPingInterval = 30 * time.Second
)

var errMissingValue = errors.New("value is required")

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	registry    *orchestrator.Registry
	metrics     *services.Metrics
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(connManager *services.ConnectionManager, registry *orchestrator.Registry, metrics *services.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		registry:    registry,
		metrics:     metrics,
	}
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	operatorID, _ := c.Locals("operator_id").(string)

	done := make(chan struct{})

	userConn := &models.UserConnection{
		ConnID:    connID,
		UserID:    operatorID,
		Conn:      c,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ServerMessage, 100),
	}

	h.connManager.Add(userConn)
	defer func() {
		close(done)
		h.connManager.Remove(connID)
	}()

	c.SetReadDeadline(time.Now().Add(wsReadDeadline))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	go h.pingLoop(userConn, done)
	go h.writeLoop(userConn)

	userConn.WriteChan <- models.ServerMessage{
		Type:    "connected",
		Content: "WebSocket connected. Subscribe to a session to receive events.",
	}

	h.readLoop(userConn)
}

// pingLoop keeps the connection alive during long tool executions
func (h *WebSocketHandler) pingLoop(userConn *models.UserConnection, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			userConn.Mutex.Lock()
			err := userConn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			userConn.Mutex.Unlock()
			if err != nil {
				log.Printf("⚠️ Ping failed for %s: %v", userConn.ConnID, err)
				return
			}
		}
	}
}

// readLoop handles incoming messages from the client
func (h *WebSocketHandler) readLoop(userConn *models.UserConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in readLoop: %v", r)
		}
	}()

	for {
		_, msg, err := userConn.Conn.ReadMessage()
		if err != nil {
			log.Printf("🔌 WebSocket closed for %s: %v", userConn.ConnID, err)
			break
		}
		userConn.Conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		var clientMsg models.ClientMessage
		if err := json.Unmarshal(msg, &clientMsg); err != nil {
			log.Printf("⚠️  Invalid message format from %s: %v", userConn.ConnID, err)
			userConn.SafeSend(models.ServerMessage{
				Type:         "error",
				ErrorCode:    "invalid_format",
				ErrorMessage: "Invalid message format",
			})
			continue
		}
		if h.metrics != nil {
			h.metrics.WebSocketMessages.WithLabelValues(clientMsg.Type, "inbound").Inc()
		}

		switch clientMsg.Type {
		case "ping":
			userConn.SafeSend(models.ServerMessage{Type: "pong"})
		case "subscribe":
			h.handleSubscribe(userConn, clientMsg)
		case "start_turn":
			h.handleStartTurn(userConn, clientMsg)
		case "approve_tool":
			h.handleApproveTool(userConn, clientMsg)
		case "deny_tool":
			h.handleDenyTool(userConn, clientMsg)
		case "set_autonomous":
			h.handleSetAutonomous(userConn, clientMsg)
		case "get_state":
			h.handleGetState(userConn, clientMsg)
		case "compact":
			h.handleCompact(userConn, clientMsg)
		default:
			log.Printf("⚠️  Unknown message type: %s", clientMsg.Type)
			userConn.SafeSend(models.ServerMessage{
				Type:         "error",
				ErrorCode:    "unknown_type",
				ErrorMessage: "Unknown message type: " + clientMsg.Type,
			})
		}
	}
}

// open resolves the orchestrator for a client message, reporting failures
// back over the socket. Every session-scoped message implicitly keeps the
// connection subscribed to that session.
func (h *WebSocketHandler) open(userConn *models.UserConnection, clientMsg models.ClientMessage) *orchestrator.Orchestrator {
	if clientMsg.SessionID == "" {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			ErrorCode:    "missing_session",
			ErrorMessage: "session_id is required",
		})
		return nil
	}

	o, err := h.registry.Open(clientMsg.SessionID)
	if err != nil {
		userConn.SafeSend(models.ServerMessage{
			Type:         "error",
			SessionID:    clientMsg.SessionID,
			ErrorCode:    "session_unavailable",
			ErrorMessage: err.Error(),
		})
		return nil
	}

	if userConn.SessionID != clientMsg.SessionID {
		h.connManager.Subscribe(userConn.ConnID, clientMsg.SessionID)
	}
	return o
}

func (h *WebSocketHandler) handleSubscribe(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	// Subscribing always answers with a full snapshot so the client can
	// replace whatever stale timeline it holds.
	h.handleGetState(userConn, clientMsg)
}

func (h *WebSocketHandler) handleStartTurn(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	o := h.open(userConn, clientMsg)
	if o == nil {
		return
	}

	turnID, err := o.StartTurn(clientMsg.Content, clientMsg.Model)
	if err != nil {
		h.sendError(userConn, clientMsg.SessionID, "turn_rejected", err)
		return
	}
	if h.metrics != nil {
		h.metrics.TurnsStarted.Inc()
	}
	userConn.SafeSend(models.ServerMessage{
		Type:      "turn_started",
		SessionID: clientMsg.SessionID,
		TurnID:    turnID,
	})
}

func (h *WebSocketHandler) handleApproveTool(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	o := h.open(userConn, clientMsg)
	if o == nil {
		return
	}
	if err := o.ApproveTool(clientMsg.Position); err != nil {
		h.sendError(userConn, clientMsg.SessionID, "approval_rejected", err)
	}
}

func (h *WebSocketHandler) handleDenyTool(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	o := h.open(userConn, clientMsg)
	if o == nil {
		return
	}
	if err := o.DenyTool(clientMsg.Position, clientMsg.Reason); err != nil {
		h.sendError(userConn, clientMsg.SessionID, "denial_rejected", err)
	}
}

func (h *WebSocketHandler) handleSetAutonomous(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	o := h.open(userConn, clientMsg)
	if o == nil {
		return
	}
	if clientMsg.Value == nil {
		h.sendError(userConn, clientMsg.SessionID, "missing_value", errMissingValue)
		return
	}
	if err := o.SetAutonomous(*clientMsg.Value); err != nil {
		h.sendError(userConn, clientMsg.SessionID, "autonomy_rejected", err)
	}
}

func (h *WebSocketHandler) handleGetState(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	o := h.open(userConn, clientMsg)
	if o == nil {
		return
	}
	state, err := o.State()
	if err != nil {
		h.sendError(userConn, clientMsg.SessionID, "state_unavailable", err)
		return
	}
	userConn.SafeSend(models.ServerMessage{
		Type:      "state",
		SessionID: clientMsg.SessionID,
		State:     state,
	})
}

func (h *WebSocketHandler) handleCompact(userConn *models.UserConnection, clientMsg models.ClientMessage) {
	o := h.open(userConn, clientMsg)
	if o == nil {
		return
	}
	if err := o.RequestCompaction(); err != nil {
		h.sendError(userConn, clientMsg.SessionID, "compaction_rejected", err)
	}
}

func (h *WebSocketHandler) sendError(userConn *models.UserConnection, sessionID, code string, err error) {
	userConn.SafeSend(models.ServerMessage{
		Type:         "error",
		SessionID:    sessionID,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	})
}

// writeLoop drains the write channel onto the socket
func (h *WebSocketHandler) writeLoop(userConn *models.UserConnection) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in writeLoop: %v", r)
		}
	}()

	for msg := range userConn.WriteChan {
		if h.metrics != nil {
			h.metrics.WebSocketMessages.WithLabelValues(msg.Type, "outbound").Inc()
		}
		userConn.Mutex.Lock()
		err := userConn.Conn.WriteJSON(msg)
		userConn.Mutex.Unlock()
		if err != nil {
			log.Printf("❌ WebSocket write error for %s: %v", userConn.ConnID, err)
			return
		}
	}
}
