package llm

import "encoding/json"

// EventType identifies one streaming event.
type EventType string

const (
	EventStarted    EventType = "started"
	EventBlockStart EventType = "block_start"
	EventDelta      EventType = "delta"
	EventBlockStop  EventType = "block_stop"
	EventToolCall   EventType = "tool_call"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// BlockKind is the content kind of a synthesized block.
type BlockKind string

const (
	BlockThinking BlockKind = "thinking"
	BlockText     BlockKind = "text"
)

// Stop reasons surfaced by EventComplete.
const (
	StopEndTurn = "end_turn"
	StopToolUse = "tool_use"
)

// StreamEvent is one ordered event from a streaming completion. RequestID is
// the correlation token: consumers drop events whose token does not match
// the current in-flight request.
type StreamEvent struct {
	Type        EventType
	RequestID   string
	Index       int
	Kind        BlockKind
	Text        string
	Call        *ToolCall
	StopReason  string
	Usage       *Usage
	ErrorReason string
	Recoverable bool
}

// ToolCall is one fully accumulated tool call. Arguments is the raw JSON
// object string as sent by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ParseArguments decodes the raw argument JSON into a map.
func (c *ToolCall) ParseArguments() (map[string]interface{}, error) {
	args := make(map[string]interface{})
	if c.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Usage carries true token counts from the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
