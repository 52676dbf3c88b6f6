package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type      string `json:"type"` // "ping", "subscribe", "start_turn", "approve_tool", "deny_tool", "set_autonomous", "get_state", "compact"
	SessionID string `json:"session_id"`
	Content   string `json:"content,omitempty"`  // prompt text for start_turn
	Model     string `json:"model,omitempty"`    // optional model override for this turn
	Position  int    `json:"position,omitempty"` // entry position for approve_tool/deny_tool
	Reason    string `json:"reason,omitempty"`   // denial reason
	Value     *bool  `json:"value,omitempty"`    // set_autonomous flag
}

// ServerMessage represents a message sent to the client
type ServerMessage struct {
	Type         string `json:"type"` // "connected", "turn_started", "turn_status", "entry_created", "entry_delta", "entry_done", "tool_status", "console_output", "state", "error"
	SessionID    string `json:"session_id,omitempty"`
	TurnID       int64  `json:"turn_id,omitempty"`
	TurnStatus   string `json:"turn_status,omitempty"`
	Position     int    `json:"position,omitempty"`
	EntryType    string `json:"entry_type,omitempty"`
	Role         string `json:"role,omitempty"`
	MessageType  string `json:"message_type,omitempty"`
	Content      string `json:"content,omitempty"`
	HTML         string `json:"html,omitempty"` // rendered markdown preview
	ToolName     string `json:"tool_name,omitempty"`
	ToolStatus   string `json:"tool_status,omitempty"`
	Arguments    string `json:"arguments,omitempty"`
	Result       string `json:"result,omitempty"`
	Reason       string `json:"reason,omitempty"`
	State        any    `json:"state,omitempty"` // full chat state snapshot
	ErrorCode    string `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
}

// UserConnection represents a single WebSocket connection subscribed to a session
type UserConnection struct {
	ConnID    string
	UserID    string
	SessionID string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage
	Mutex     sync.Mutex
	closed    bool
}

// SafeSend sends a message to WriteChan safely, returning false if the channel is closed
func (uc *UserConnection) SafeSend(msg ServerMessage) bool {
	uc.Mutex.Lock()
	if uc.closed {
		uc.Mutex.Unlock()
		return false
	}
	uc.Mutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			// Channel was closed under us, mark connection as closed
			uc.Mutex.Lock()
			uc.closed = true
			uc.Mutex.Unlock()
		}
	}()

	uc.WriteChan <- msg
	return true
}

// MarkClosed marks the connection as closed
func (uc *UserConnection) MarkClosed() {
	uc.Mutex.Lock()
	uc.closed = true
	uc.Mutex.Unlock()
}

// IsClosed returns true if the connection has been marked as closed
func (uc *UserConnection) IsClosed() bool {
	uc.Mutex.Lock()
	defer uc.Mutex.Unlock()
	return uc.closed
}
