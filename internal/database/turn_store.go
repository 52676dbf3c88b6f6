package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"redline/internal/models"
)

// CreateTurn assigns the next turn position for the session and persists the
// turn, atomically.
func (db *DB) CreateTurn(t *models.Turn) (*models.Turn, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin turn tx: %w", err)
	}
	defer tx.Rollback()

	var maxPos sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM turns WHERE session_id = ?`, t.SessionID).Scan(&maxPos); err != nil {
		return nil, fmt.Errorf("failed to read turn position: %w", err)
	}
	t.Position = int(maxPos.Int64) + 1
	t.CreatedAt = time.Now().UTC()

	res, err := tx.Exec(`
		INSERT INTO turns (session_id, position, trigger_kind, status, model, autonomous, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Position, t.Trigger, string(t.Status), t.Model, boolToInt(t.Autonomous), t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert turn: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read turn id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	return t, nil
}

// UpdateTurnStatus transitions a persisted turn. Turns are immutable once
// terminal: updating a terminal turn reports ErrInvalidState.
func (db *DB) UpdateTurnStatus(turnID int64, status models.TurnStatus) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC()
	}
	res, err := db.Exec(`
		UPDATE turns SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), completedAt, turnID,
		string(models.TurnStatusFinished), string(models.TurnStatusError), string(models.TurnStatusInterrupted),
	)
	if err != nil {
		return fmt.Errorf("failed to update turn status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidState
	}
	return nil
}

// GetTurn loads one turn by id.
func (db *DB) GetTurn(id int64) (*models.Turn, error) {
	row := db.QueryRow(`
		SELECT id, session_id, position, trigger_kind, status, model, autonomous, created_at, completed_at
		FROM turns WHERE id = ?`, id)
	return scanTurn(row)
}

// LatestTurn returns the highest-position turn for a session, or ErrNotFound.
func (db *DB) LatestTurn(sessionID string) (*models.Turn, error) {
	row := db.QueryRow(`
		SELECT id, session_id, position, trigger_kind, status, model, autonomous, created_at, completed_at
		FROM turns WHERE session_id = ? ORDER BY position DESC LIMIT 1`, sessionID)
	return scanTurn(row)
}

// RecordLLMResponse stores token usage for one model round-trip.
func (db *DB) RecordLLMResponse(r *models.LLMResponse) error {
	r.CreatedAt = time.Now().UTC()
	res, err := db.Exec(`
		INSERT INTO llm_responses (turn_id, request_id, stop_reason, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.TurnID, r.RequestID, r.StopReason, r.InputTokens, r.OutputTokens, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record llm response: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// LatestUsage returns the input/output token counts of the most recent model
// response in a session. Used by the compaction trigger as the ground-truth
// part of its context estimate.
func (db *DB) LatestUsage(sessionID string) (input, output int, err error) {
	row := db.QueryRow(`
		SELECT r.input_tokens, r.output_tokens
		FROM llm_responses r
		JOIN turns t ON t.id = r.turn_id
		WHERE t.session_id = ?
		ORDER BY r.id DESC LIMIT 1`, sessionID)
	err = row.Scan(&input, &output)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read latest usage: %w", err)
	}
	return input, output, nil
}

func scanTurn(row rowScanner) (*models.Turn, error) {
	var t models.Turn
	var status string
	var autonomous int
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.SessionID, &t.Position, &t.Trigger, &status, &t.Model, &autonomous, &t.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan turn: %w", err)
	}
	parsed, err := models.ParseTurnStatus(status)
	if err != nil {
		return nil, err
	}
	t.Status = parsed
	t.Autonomous = autonomous != 0
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}
