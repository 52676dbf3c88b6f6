package services

import (
	"log"
	"sync"

	"redline/internal/models"
)

// ConnectionManager tracks active WebSocket connections and fans session
// events out to every connection subscribed to that session. It implements
// the broadcaster the orchestrator publishes through.
type ConnectionManager struct {
	connections map[string]*models.UserConnection // connID -> connection
	bySession   map[string]map[string]struct{}    // sessionID -> set of connIDs
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.UserConnection),
		bySession:   make(map[string]map[string]struct{}),
	}
}

// Add registers a new connection
func (cm *ConnectionManager) Add(conn *models.UserConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.connections[conn.ConnID] = conn
	if conn.SessionID != "" {
		if cm.bySession[conn.SessionID] == nil {
			cm.bySession[conn.SessionID] = make(map[string]struct{})
		}
		cm.bySession[conn.SessionID][conn.ConnID] = struct{}{}
	}
	log.Printf("🔌 Connection added: %s (session: %s, total: %d)", conn.ConnID, conn.SessionID, len(cm.connections))
}

// Subscribe moves a connection onto a session. A connection watches one
// session at a time; resubscribing detaches it from the previous one.
func (cm *ConnectionManager) Subscribe(connID, sessionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	conn, ok := cm.connections[connID]
	if !ok {
		return
	}
	if conn.SessionID != "" {
		delete(cm.bySession[conn.SessionID], connID)
		if len(cm.bySession[conn.SessionID]) == 0 {
			delete(cm.bySession, conn.SessionID)
		}
	}
	conn.SessionID = sessionID
	if sessionID != "" {
		if cm.bySession[sessionID] == nil {
			cm.bySession[sessionID] = make(map[string]struct{})
		}
		cm.bySession[sessionID][connID] = struct{}{}
	}
}

// Remove unregisters a connection and closes its write channel
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	conn, ok := cm.connections[connID]
	if !ok {
		return
	}
	if conn.SessionID != "" {
		delete(cm.bySession[conn.SessionID], connID)
		if len(cm.bySession[conn.SessionID]) == 0 {
			delete(cm.bySession, conn.SessionID)
		}
	}
	conn.MarkClosed()
	close(conn.WriteChan)
	delete(cm.connections, connID)
	log.Printf("🔌 Connection removed: %s (total: %d)", connID, len(cm.connections))
}

// Get returns a connection by ID
func (cm *ConnectionManager) Get(connID string) (*models.UserConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, ok := cm.connections[connID]
	return conn, ok
}

// Count returns the number of active connections
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// SessionWatchers returns the number of connections subscribed to a session.
func (cm *ConnectionManager) SessionWatchers(sessionID string) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.bySession[sessionID])
}

// Publish delivers a message to every connection watching the session.
// Slow or closed connections are skipped rather than blocking the caller;
// clients recover by requesting a state snapshot.
func (cm *ConnectionManager) Publish(sessionID string, msg models.ServerMessage) {
	cm.mutex.RLock()
	ids := make([]*models.UserConnection, 0, len(cm.bySession[sessionID]))
	for connID := range cm.bySession[sessionID] {
		if conn, ok := cm.connections[connID]; ok {
			ids = append(ids, conn)
		}
	}
	cm.mutex.RUnlock()

	for _, conn := range ids {
		if !conn.SafeSend(msg) {
			log.Printf("⚠️ Dropped message for closed connection %s (session: %s)", conn.ConnID, sessionID)
		}
	}
}
