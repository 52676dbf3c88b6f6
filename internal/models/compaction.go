package models

import "time"

// Compaction is a cumulative summary covering all entries up to UpToPosition.
// Chained via PreviousCompactionID to form an audit trail; only the latest one
// matters when building LLM context, all are retained.
type Compaction struct {
	ID                   int64     `json:"id"`
	SessionID            string    `json:"session_id"`
	PreviousCompactionID *int64    `json:"previous_compaction_id,omitempty"`
	UpToPosition         int       `json:"up_to_position"`
	Summary              string    `json:"summary"`
	EntryCount           int       `json:"entry_count"`
	TokensBefore         int       `json:"tokens_before"`
	TokensAfter          int       `json:"tokens_after"`
	CreatedAt            time.Time `json:"created_at"`
}
