package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"redline/internal/models"
)

// Timeline contract: every append assigns position = max(position)+1 for the
// session, atomically with the typed payload insert. Positions are strictly
// increasing and never reused, even for entries later hidden by compaction.

// NextEntryPosition returns the position the next append would receive.
func (db *DB) NextEntryPosition(sessionID string) (int, error) {
	var maxPos sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(position) FROM entries WHERE session_id = ?`, sessionID).Scan(&maxPos); err != nil {
		return 0, fmt.Errorf("failed to read entry position: %w", err)
	}
	return int(maxPos.Int64) + 1, nil
}

func (db *DB) insertEntry(tx *sql.Tx, sessionID string, entryType models.EntryType, turnID *int64) (*models.Entry, error) {
	var maxPos sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM entries WHERE session_id = ?`, sessionID).Scan(&maxPos); err != nil {
		return nil, fmt.Errorf("failed to read entry position: %w", err)
	}
	e := &models.Entry{
		SessionID: sessionID,
		Position:  int(maxPos.Int64) + 1,
		Type:      entryType,
		TurnID:    turnID,
		CreatedAt: time.Now().UTC(),
	}
	res, err := tx.Exec(`
		INSERT INTO entries (session_id, position, entry_type, turn_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Position, string(e.Type), turnIDValue(turnID), e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read entry id: %w", err)
	}
	return e, nil
}

// CreateEntryWithMessage appends a message entry and its payload atomically.
func (db *DB) CreateEntryWithMessage(sessionID string, turnID *int64, msg *models.Message) (*models.Entry, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin entry tx: %w", err)
	}
	defer tx.Rollback()

	e, err := db.insertEntry(tx, sessionID, models.EntryTypeMessage, turnID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (entry_id, role, message_type, content, streaming)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, msg.Role, msg.MessageType, msg.Content, boolToInt(msg.Streaming),
	); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message entry: %w", err)
	}
	e.Message = msg
	return e, nil
}

// UpdateMessageContent mutates a message's content. Allowed only while the
// owning entry is still streaming; a settled message reports ErrStale.
// finished=true freezes the streaming flag.
func (db *DB) UpdateMessageContent(entryID int64, content string, finished bool) error {
	streaming := 1
	if finished {
		streaming = 0
	}
	res, err := db.Exec(`
		UPDATE messages SET content = ?, streaming = ?
		WHERE entry_id = ? AND streaming = 1`,
		content, streaming, entryID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// CreateEntryWithToolInvocation appends a tool-invocation entry and its
// payload atomically.
func (db *DB) CreateEntryWithToolInvocation(sessionID string, turnID *int64, inv *models.ToolInvocation) (*models.Entry, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin entry tx: %w", err)
	}
	defer tx.Rollback()

	e, err := db.insertEntry(tx, sessionID, models.EntryTypeToolInvocation, turnID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		INSERT INTO tool_invocations (entry_id, tool_call_id, tool_name, arguments, status, result, error_reason, denial_reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, inv.ToolCallID, inv.ToolName, inv.Arguments, string(inv.Status),
		inv.Result, inv.ErrorReason, inv.DenialReason, inv.DurationMs,
	); err != nil {
		return nil, fmt.Errorf("failed to insert tool invocation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tool entry: %w", err)
	}
	e.ToolInvocation = inv
	return e, nil
}

// ToolInvocationUpdate carries the fields a status transition may set.
type ToolInvocationUpdate struct {
	Status       models.ToolStatus
	Result       string
	ErrorReason  string
	DenialReason string
	DurationMs   int64
}

// UpdateToolInvocation transitions the invocation at (session, position).
// The update is guarded by the expected current status: a mismatch reports
// ErrStale, a missing entry ErrNotFound. Position is the key because it is the
// one identifier every collaborator already holds.
func (db *DB) UpdateToolInvocation(sessionID string, position int, expected models.ToolStatus, upd ToolInvocationUpdate) error {
	var entryID int64
	err := db.QueryRow(`
		SELECT id FROM entries
		WHERE session_id = ? AND position = ? AND entry_type = ?`,
		sessionID, position, string(models.EntryTypeToolInvocation),
	).Scan(&entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to locate tool invocation: %w", err)
	}

	res, err := db.Exec(`
		UPDATE tool_invocations
		SET status = ?, result = ?, error_reason = ?, denial_reason = ?, duration_ms = ?
		WHERE entry_id = ? AND status = ?`,
		string(upd.Status), upd.Result, upd.ErrorReason, upd.DenialReason, upd.DurationMs,
		entryID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update tool invocation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// CreateEntryWithConsoleContext appends a console-context entry atomically.
func (db *DB) CreateEntryWithConsoleContext(sessionID string, cc *models.ConsoleContext) (*models.Entry, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin entry tx: %w", err)
	}
	defer tx.Rollback()

	e, err := db.insertEntry(tx, sessionID, models.EntryTypeConsoleContext, nil)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`
		INSERT INTO console_contexts (entry_id, kind, command, output)
		VALUES (?, ?, ?, ?)`,
		e.ID, cc.Kind, cc.Command, cc.Output,
	); err != nil {
		return nil, fmt.Errorf("failed to insert console context: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit console entry: %w", err)
	}
	e.ConsoleContext = cc
	return e, nil
}

// LoadEntries returns the full timeline in ascending-position order with
// content payloads attached.
func (db *DB) LoadEntries(sessionID string) ([]*models.Entry, error) {
	rows, err := db.Query(`
		SELECT e.id, e.session_id, e.position, e.entry_type, e.turn_id, e.created_at,
		       m.role, m.message_type, m.content, m.streaming,
		       ti.tool_call_id, ti.tool_name, ti.arguments, ti.status, ti.result, ti.error_reason, ti.denial_reason, ti.duration_ms,
		       cc.kind, cc.command, cc.output
		FROM entries e
		LEFT JOIN messages m ON m.entry_id = e.id
		LEFT JOIN tool_invocations ti ON ti.entry_id = e.id
		LEFT JOIN console_contexts cc ON cc.entry_id = e.id
		WHERE e.session_id = ?
		ORDER BY e.position ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*models.Entry, error) {
	var e models.Entry
	var entryType string
	var turnID sql.NullInt64

	var role, messageType, content sql.NullString
	var streaming sql.NullInt64
	var toolCallID, toolName, arguments, toolStatus, result, errorReason, denialReason sql.NullString
	var durationMs sql.NullInt64
	var kind, command, output sql.NullString

	err := rows.Scan(&e.ID, &e.SessionID, &e.Position, &entryType, &turnID, &e.CreatedAt,
		&role, &messageType, &content, &streaming,
		&toolCallID, &toolName, &arguments, &toolStatus, &result, &errorReason, &denialReason, &durationMs,
		&kind, &command, &output,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	parsedType, err := models.ParseEntryType(entryType)
	if err != nil {
		return nil, err
	}
	e.Type = parsedType
	if turnID.Valid {
		id := turnID.Int64
		e.TurnID = &id
	}

	switch e.Type {
	case models.EntryTypeMessage:
		e.Message = &models.Message{
			Role:        role.String,
			MessageType: messageType.String,
			Content:     content.String,
			Streaming:   streaming.Int64 != 0,
		}
	case models.EntryTypeToolInvocation:
		status, err := models.ParseToolStatus(toolStatus.String)
		if err != nil {
			return nil, err
		}
		e.ToolInvocation = &models.ToolInvocation{
			ToolCallID:   toolCallID.String,
			ToolName:     toolName.String,
			Arguments:    arguments.String,
			Status:       status,
			Result:       result.String,
			ErrorReason:  errorReason.String,
			DenialReason: denialReason.String,
			DurationMs:   durationMs.Int64,
		}
	case models.EntryTypeConsoleContext:
		e.ConsoleContext = &models.ConsoleContext{
			Kind:    kind.String,
			Command: command.String,
			Output:  output.String,
		}
	}
	return &e, nil
}

func turnIDValue(turnID *int64) any {
	if turnID == nil {
		return nil
	}
	return *turnID
}
