package orchestrator

import (
	"fmt"
	"log"
	"sync"
)

// Registry maps session ids to their orchestrators and routes shared
// console events to the right one. The explicit map replaces any notion of
// a global process directory: whoever holds the registry can reach every
// live session.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Orchestrator
}

// NewRegistry creates the registry and starts the console event router.
func NewRegistry(deps Deps) *Registry {
	if deps.Broadcaster == nil {
		deps.Broadcaster = NopBroadcaster{}
	}
	r := &Registry{
		deps:     deps,
		sessions: make(map[string]*Orchestrator),
	}
	if deps.Console != nil {
		go r.routeConsoleEvents()
	}
	return r
}

// Open returns the session's orchestrator, constructing and reconciling it
// on first access. The console starts alongside the first open.
func (r *Registry) Open(sessionID string) (*Orchestrator, error) {
	r.mu.RLock()
	o, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return o, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.sessions[sessionID]; ok {
		return o, nil
	}

	session, err := r.deps.DB.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session %s: %w", sessionID, err)
	}

	if r.deps.Console != nil {
		if err := r.deps.Console.Start(sessionID); err != nil {
			// The session stays usable without a console; console-backed
			// tools will report not-running.
			log.Printf("⚠️ [REGISTRY] Console start failed for %s: %v", sessionID, err)
		}
	}

	o, err = New(session, r.deps)
	if err != nil {
		return nil, err
	}
	r.sessions[sessionID] = o
	log.Printf("📂 [REGISTRY] Session %s opened", sessionID)
	return o, nil
}

// Get returns a live orchestrator without opening one.
func (r *Registry) Get(sessionID string) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.sessions[sessionID]
	return o, ok
}

// All returns every live orchestrator, for background sweeps.
func (r *Registry) All() []*Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		out = append(out, o)
	}
	return out
}

// Close shuts one session down.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.sessions[sessionID]; ok {
		o.Close()
		delete(r.sessions, sessionID)
	}
	if r.deps.Console != nil {
		r.deps.Console.Stop(sessionID)
	}
}

// CloseAll shuts every session down, used at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.sessions {
		o.Close()
		delete(r.sessions, id)
	}
}

func (r *Registry) routeConsoleEvents() {
	for ev := range r.deps.Console.Events() {
		if o, ok := r.Get(ev.SessionID); ok {
			o.enqueue(consoleEvent{ev: ev})
		}
	}
}
