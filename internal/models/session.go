package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus represents the lifecycle state of a research session.
// Sessions are never deleted, only archived.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// ParseSessionStatus converts a stored string into a SessionStatus.
// Unknown input is rejected rather than passed through.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(strings.ToLower(s)) {
	case SessionStatusActive:
		return SessionStatusActive, nil
	case SessionStatusArchived:
		return SessionStatusArchived, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// Session is one research conversation. It owns the monotonic entry-position
// and turn-position counters (enforced by the entry/turn stores).
type Session struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Model      string        `json:"model"`      // default model for new turns
	Autonomous bool          `json:"autonomous"` // when true, tool calls skip the approval gate
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewSession validates and builds a session.
func NewSession(id, name, model string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("session name cannot be empty")
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Model:     model,
		Status:    SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
