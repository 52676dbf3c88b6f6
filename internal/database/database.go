package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced by the stores. Conflicts are reported as values,
// never as panics, so the orchestrator can distinguish them (§ error taxonomy).
var (
	ErrNotFound     = errors.New("record not found")
	ErrStale        = errors.New("record changed underneath the caller")
	ErrInvalidState = errors.New("operation not valid in current state")
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New opens the SQLite database at path and configures it for a single
// long-running server process.
func New(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles one writer at a time; a small pool keeps the driver from
	// queueing writes behind long reads.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("✅ SQLite database opened at %s", path)

	return &DB{db}, nil
}

// Initialize creates all required tables.
func (db *DB) Initialize() error {
	log.Println("🔍 Checking database schema...")

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("✅ Database initialized successfully")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	autonomous INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	position     INTEGER NOT NULL,
	trigger_kind TEXT NOT NULL DEFAULT 'user',
	status       TEXT NOT NULL,
	model        TEXT NOT NULL DEFAULT '',
	autonomous   INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	UNIQUE(session_id, position)
);

CREATE TABLE IF NOT EXISTS llm_responses (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id       INTEGER NOT NULL REFERENCES turns(id),
	request_id    TEXT NOT NULL,
	stop_reason   TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	position   INTEGER NOT NULL,
	entry_type TEXT NOT NULL,
	turn_id    INTEGER REFERENCES turns(id),
	created_at TIMESTAMP NOT NULL,
	UNIQUE(session_id, position)
);

CREATE TABLE IF NOT EXISTS messages (
	entry_id     INTEGER PRIMARY KEY REFERENCES entries(id),
	role         TEXT NOT NULL,
	message_type TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	streaming    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tool_invocations (
	entry_id      INTEGER PRIMARY KEY REFERENCES entries(id),
	tool_call_id  TEXT NOT NULL,
	tool_name     TEXT NOT NULL,
	arguments     TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	result        TEXT NOT NULL DEFAULT '',
	error_reason  TEXT NOT NULL DEFAULT '',
	denial_reason TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS console_contexts (
	entry_id INTEGER PRIMARY KEY REFERENCES entries(id),
	kind     TEXT NOT NULL,
	command  TEXT NOT NULL DEFAULT '',
	output   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS compactions (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id             TEXT NOT NULL REFERENCES sessions(id),
	previous_compaction_id INTEGER REFERENCES compactions(id),
	up_to_position         INTEGER NOT NULL,
	summary                TEXT NOT NULL,
	entry_count            INTEGER NOT NULL DEFAULT 0,
	tokens_before          INTEGER NOT NULL DEFAULT 0,
	tokens_after           INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id),
	objective  TEXT NOT NULL DEFAULT '',
	focus      TEXT NOT NULL DEFAULT '',
	tasks_json TEXT NOT NULL DEFAULT '[]',
	notes      TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_session_position ON entries(session_id, position);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, position);
CREATE INDEX IF NOT EXISTS idx_compactions_session ON compactions(session_id, id);
`
