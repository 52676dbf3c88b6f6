package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"redline/internal/models"
)

// CreateCompaction persists a new compaction record chained to the previous one.
func (db *DB) CreateCompaction(c *models.Compaction) error {
	c.CreatedAt = time.Now().UTC()
	var prev any
	if c.PreviousCompactionID != nil {
		prev = *c.PreviousCompactionID
	}
	res, err := db.Exec(`
		INSERT INTO compactions (session_id, previous_compaction_id, up_to_position, summary, entry_count, tokens_before, tokens_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, prev, c.UpToPosition, c.Summary, c.EntryCount, c.TokensBefore, c.TokensAfter, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create compaction: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// LatestCompaction returns the most recent compaction for a session, or nil
// when the session has never been compacted.
func (db *DB) LatestCompaction(sessionID string) (*models.Compaction, error) {
	row := db.QueryRow(`
		SELECT id, session_id, previous_compaction_id, up_to_position, summary, entry_count, tokens_before, tokens_after, created_at
		FROM compactions WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)

	var c models.Compaction
	var prev sql.NullInt64
	err := row.Scan(&c.ID, &c.SessionID, &prev, &c.UpToPosition, &c.Summary, &c.EntryCount, &c.TokensBefore, &c.TokensAfter, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load compaction: %w", err)
	}
	if prev.Valid {
		id := prev.Int64
		c.PreviousCompactionID = &id
	}
	return &c, nil
}
