package jobs

import (
	"log"
	"time"

	"redline/internal/database"
)

// SessionArchiver marks sessions idle past the retention window as archived.
// Archived sessions keep their full timeline; they just stop showing up in
// the active list and are never opened by the registry again.
type SessionArchiver struct {
	db        *database.DB
	retention time.Duration
}

// NewSessionArchiver creates the archiver job
func NewSessionArchiver(db *database.DB, retentionDays int) *SessionArchiver {
	return &SessionArchiver{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Run archives every active session idle past the retention window
func (j *SessionArchiver) Run() {
	cutoff := time.Now().Add(-j.retention)
	n, err := j.db.ArchiveIdleSessions(cutoff)
	if err != nil {
		log.Printf("❌ [JOBS] Session archival failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("📦 [JOBS] Archived %d idle sessions (cutoff: %s)", n, cutoff.Format(time.RFC3339))
	}
}
