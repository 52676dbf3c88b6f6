package models

import (
	"fmt"
	"strings"
	"time"
)

// EntryType selects which content payload an entry carries.
type EntryType string

const (
	EntryTypeMessage        EntryType = "message"
	EntryTypeToolInvocation EntryType = "tool_invocation"
	EntryTypeConsoleContext EntryType = "console_context"
)

// ParseEntryType converts a stored string into an EntryType, failing closed.
func ParseEntryType(s string) (EntryType, error) {
	switch EntryType(strings.ToLower(s)) {
	case EntryTypeMessage, EntryTypeToolInvocation, EntryTypeConsoleContext:
		return EntryType(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown entry type %q", s)
}

// Message roles and types.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MessageTypePrompt   = "prompt"
	MessageTypeThinking = "thinking"
	MessageTypeResponse = "response"
)

// Entry is one immutable timeline slot. Position is session-unique, strictly
// increasing, and the only ordering signal. Entries are never deleted;
// compaction only hides old entries from LLM context.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Position  int       `json:"position"`
	Type      EntryType `json:"entry_type"`
	TurnID    *int64    `json:"turn_id,omitempty"` // nil for console-context entries
	CreatedAt time.Time `json:"created_at"`

	// Exactly one of these is non-nil, selected by Type.
	Message        *Message        `json:"message,omitempty"`
	ToolInvocation *ToolInvocation `json:"tool_invocation,omitempty"`
	ConsoleContext *ConsoleContext `json:"console_context,omitempty"`
}

// Message is conversational text. Content may be mutated in place only while
// Streaming is still true.
type Message struct {
	Role        string `json:"role"`         // user | assistant
	MessageType string `json:"message_type"` // prompt | thinking | response
	Content     string `json:"content"`
	Streaming   bool   `json:"streaming"`
}

// ToolStatus represents the lifecycle state of one requested tool call.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusApproved  ToolStatus = "approved"
	ToolStatusDenied    ToolStatus = "denied"
	ToolStatusExecuting ToolStatus = "executing"
	ToolStatusSuccess   ToolStatus = "success"
	ToolStatusError     ToolStatus = "error"
	ToolStatusTimeout   ToolStatus = "timeout"
	// ToolStatusCancelled is representable in storage and LLM context but is
	// never produced by the approval state machine itself.
	ToolStatusCancelled ToolStatus = "cancelled"
)

// ParseToolStatus converts a stored string into a ToolStatus, failing closed.
func ParseToolStatus(s string) (ToolStatus, error) {
	switch ToolStatus(strings.ToLower(s)) {
	case ToolStatusPending, ToolStatusApproved, ToolStatusDenied,
		ToolStatusExecuting, ToolStatusSuccess, ToolStatusError,
		ToolStatusTimeout, ToolStatusCancelled:
		return ToolStatus(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown tool status %q", s)
}

// IsTerminal returns true once an invocation can no longer change.
func (s ToolStatus) IsTerminal() bool {
	switch s {
	case ToolStatusDenied, ToolStatusSuccess, ToolStatusError,
		ToolStatusTimeout, ToolStatusCancelled:
		return true
	}
	return false
}

// ToolInvocation is one requested tool call and its outcome, combined into a
// single record rather than separate call/result entries. The owning entry's
// position is the lookup key used everywhere: it is known to the UI and to the
// execution engine before any persistence id exists.
type ToolInvocation struct {
	ToolCallID   string     `json:"tool_call_id"` // correlates call/result for the model
	ToolName     string     `json:"tool_name"`
	Arguments    string     `json:"arguments"` // raw JSON as sent by the model
	Status       ToolStatus `json:"status"`
	Result       string     `json:"result,omitempty"`
	ErrorReason  string     `json:"error_reason,omitempty"`
	DenialReason string     `json:"denial_reason,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
}

// ConsoleContext snapshots console interaction the user performed manually,
// injected into the timeline for model awareness. Not turn-scoped.
type ConsoleContext struct {
	Kind    string `json:"kind"` // startup | command
	Command string `json:"command,omitempty"`
	Output  string `json:"output"`
}
