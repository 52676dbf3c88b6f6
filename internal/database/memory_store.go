package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"redline/internal/models"
)

// GetMemory loads the session scratchpad. A session that never wrote memory
// gets an empty one, not an error.
func (db *DB) GetMemory(sessionID string) (*models.Memory, error) {
	row := db.QueryRow(`
		SELECT objective, focus, tasks_json, notes, updated_at
		FROM memories WHERE session_id = ?`, sessionID)

	m := &models.Memory{SessionID: sessionID}
	var tasksJSON string
	err := row.Scan(&m.Objective, &m.Focus, &tasksJSON, &m.Notes, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	if err := json.Unmarshal([]byte(tasksJSON), &m.Tasks); err != nil {
		return nil, fmt.Errorf("failed to decode memory tasks: %w", err)
	}
	return m, nil
}

// PutMemory upserts the session scratchpad.
func (db *DB) PutMemory(m *models.Memory) error {
	tasksJSON, err := json.Marshal(m.Tasks)
	if err != nil {
		return fmt.Errorf("failed to encode memory tasks: %w", err)
	}
	m.UpdatedAt = time.Now().UTC()
	_, err = db.Exec(`
		INSERT INTO memories (session_id, objective, focus, tasks_json, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			objective = excluded.objective,
			focus = excluded.focus,
			tasks_json = excluded.tasks_json,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		m.SessionID, m.Objective, m.Focus, string(tasksJSON), m.Notes, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}
