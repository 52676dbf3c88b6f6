package orchestrator

import (
	"redline/internal/console"
	"redline/internal/execution"
	"redline/internal/llm"
	"redline/internal/models"
)

// Everything that can change session state arrives as one of these events on
// the orchestrator's single channel and is processed one at a time, in
// arrival order. Nothing else mutates session state.

type llmEvent struct {
	ev llm.StreamEvent
}

type execEvent struct {
	report execution.Report
}

type consoleEvent struct {
	ev console.Event
}

// compactionResult carries a finished background summarization back into the
// actor for persistence.
type compactionResult struct {
	record *models.Compaction
	err    error
}

// commandKind enumerates the synchronous client-facing operations.
type commandKind int

const (
	cmdStartTurn commandKind = iota
	cmdApproveTool
	cmdDenyTool
	cmdSetAutonomous
	cmdGetState
	cmdCompact
)

type command struct {
	kind     commandKind
	prompt   string
	model    string
	position int
	reason   string
	value    bool
	reply    chan commandReply
}

type commandReply struct {
	turnID int64
	state  *ChatState
	err    error
}

// ChatState is the full session snapshot returned to clients.
type ChatState struct {
	Entries       []*models.Entry   `json:"entries"`
	TurnStatus    models.TurnStatus `json:"turn_status"`
	CurrentTurnID int64             `json:"current_turn_id,omitempty"`
	Autonomous    bool              `json:"autonomous"`
	ConsoleStatus console.Status    `json:"console_status"`
}
