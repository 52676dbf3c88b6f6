package orchestrator

import "redline/internal/models"

// Broadcaster fans server messages out to every client subscribed to a
// session. Implemented by the connection manager; a NopBroadcaster serves
// headless use.
type Broadcaster interface {
	Publish(sessionID string, msg models.ServerMessage)
}

// NopBroadcaster discards all messages.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(string, models.ServerMessage) {}
