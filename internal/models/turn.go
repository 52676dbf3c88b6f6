package models

import (
	"fmt"
	"strings"
	"time"
)

// TurnStatus represents the lifecycle state of one agentic turn.
type TurnStatus string

const (
	TurnStatusPending         TurnStatus = "pending"
	TurnStatusStreaming       TurnStatus = "streaming"
	TurnStatusPendingApproval TurnStatus = "pending_approval"
	TurnStatusExecutingTools  TurnStatus = "executing_tools"
	TurnStatusFinished        TurnStatus = "finished"
	TurnStatusError           TurnStatus = "error"
	TurnStatusInterrupted     TurnStatus = "interrupted"
)

// ParseTurnStatus converts a stored string into a TurnStatus, failing closed
// on unknown input.
func ParseTurnStatus(s string) (TurnStatus, error) {
	switch TurnStatus(strings.ToLower(s)) {
	case TurnStatusPending, TurnStatusStreaming, TurnStatusPendingApproval,
		TurnStatusExecutingTools, TurnStatusFinished, TurnStatusError,
		TurnStatusInterrupted:
		return TurnStatus(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown turn status %q", s)
}

// IsTerminal returns true once a turn can no longer change.
func (s TurnStatus) IsTerminal() bool {
	return s == TurnStatusFinished || s == TurnStatusError || s == TurnStatusInterrupted
}

// Turn is one complete agentic loop: user prompt, zero or more tool rounds,
// final answer or error. Model and autonomous mode are snapshotted at creation
// so later configuration changes never affect an in-flight turn.
type Turn struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	Position    int        `json:"position"` // 1-based, monotonic per session
	Trigger     string     `json:"trigger"`  // "user" for prompts issued via the UI
	Status      TurnStatus `json:"status"`
	Model       string     `json:"model"`
	Autonomous  bool       `json:"autonomous"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LLMResponse records one API round-trip to the model within a turn.
type LLMResponse struct {
	ID           int64     `json:"id"`
	TurnID       int64     `json:"turn_id"`
	RequestID    string    `json:"request_id"` // stream correlation token
	StopReason   string    `json:"stop_reason"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}
