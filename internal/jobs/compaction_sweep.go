package jobs

import (
	"log"

	"redline/internal/orchestrator"
)

// CompactionSweep walks every live session and runs the size-triggered
// compaction check. Compaction normally fires when a turn finishes; the
// sweep covers sessions whose context grew past the threshold through
// console output alone, with no turn to piggyback on.
type CompactionSweep struct {
	registry *orchestrator.Registry
}

// NewCompactionSweep creates the sweep job
func NewCompactionSweep(registry *orchestrator.Registry) *CompactionSweep {
	return &CompactionSweep{registry: registry}
}

// Run performs one sweep over live sessions
func (j *CompactionSweep) Run() {
	sessions := j.registry.All()
	if len(sessions) == 0 {
		return
	}

	checked := 0
	for _, o := range sessions {
		if err := o.CheckCompaction(); err != nil {
			log.Printf("⚠️ [JOBS] Compaction check failed for %s: %v", o.SessionID(), err)
			continue
		}
		checked++
	}
	log.Printf("🧹 [JOBS] Compaction sweep checked %d sessions", checked)
}
