package models

import (
	"fmt"
	"strings"
	"time"
)

// Memory is the agent's structured scratchpad: the long-lived red line of the
// engagement, independent of the timeline. It is injected as a read-only
// snapshot at context-build time and always excluded from compaction.
type Memory struct {
	SessionID string       `json:"session_id"`
	Objective string       `json:"objective"`
	Focus     string       `json:"focus"`
	Tasks     []MemoryTask `json:"tasks"`
	Notes     string       `json:"notes"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// MemoryTask is one item on the agent's working task list.
type MemoryTask struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Snapshot renders the memory as plain text for LLM context injection.
func (m *Memory) Snapshot() string {
	var b strings.Builder
	b.WriteString("Working memory (read-only snapshot):\n")
	if m.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", m.Objective)
	}
	if m.Focus != "" {
		fmt.Fprintf(&b, "Current focus: %s\n", m.Focus)
	}
	if len(m.Tasks) > 0 {
		b.WriteString("Tasks:\n")
		for _, t := range m.Tasks {
			mark := " "
			if t.Done {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, t.Description)
		}
	}
	if m.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", m.Notes)
	}
	return b.String()
}

// IsEmpty reports whether the memory carries any content worth injecting.
func (m *Memory) IsEmpty() bool {
	return m.Objective == "" && m.Focus == "" && len(m.Tasks) == 0 && m.Notes == ""
}
