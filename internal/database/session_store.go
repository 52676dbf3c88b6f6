package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"redline/internal/models"
)

// CreateSession persists a new session.
func (db *DB) CreateSession(s *models.Session) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, name, model, autonomous, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Model, boolToInt(s.Autonomous), string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads one session by id.
func (db *DB) GetSession(id string) (*models.Session, error) {
	row := db.QueryRow(`
		SELECT id, name, model, autonomous, status, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns all sessions, newest first.
func (db *DB) ListSessions() ([]*models.Session, error) {
	rows, err := db.Query(`
		SELECT id, name, model, autonomous, status, created_at, updated_at
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionAutonomous flips the per-session autonomous flag. In-flight
// turns keep their snapshot.
func (db *DB) UpdateSessionAutonomous(id string, autonomous bool) error {
	res, err := db.Exec(`UPDATE sessions SET autonomous = ?, updated_at = ? WHERE id = ?`,
		boolToInt(autonomous), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSession bumps the session's activity timestamp.
func (db *DB) TouchSession(id string) error {
	_, err := db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// ArchiveIdleSessions archives active sessions with no activity since the
// cutoff. Returns the number of sessions archived.
func (db *DB) ArchiveIdleSessions(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(models.SessionStatusArchived), time.Now().UTC(),
		string(models.SessionStatusActive), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to archive sessions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var autonomous int
	var status string
	err := row.Scan(&s.ID, &s.Name, &s.Model, &autonomous, &status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.Autonomous = autonomous != 0
	parsed, err := models.ParseSessionStatus(status)
	if err != nil {
		return nil, err
	}
	s.Status = parsed
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
