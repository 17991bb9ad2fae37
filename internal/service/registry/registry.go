// Package registry tracks the live channels of each conversation and fans
// outbound messages out to all of them.
package registry

import (
	"log"
	"sync"
)

// Channel is one live client transport. Send must be safe for concurrent use;
// a non-nil error marks the channel dead.
type Channel interface {
	Send(v any) error
}

// Registry maps session ids to their live channels. A session key is present
// iff it has at least one channel; the last Disconnect removes the key.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Channel // sessionID -> connectionID -> channel
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]map[string]Channel)}
}

// Connect registers ch under the session.
func (r *Registry) Connect(sessionID, connectionID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		conns = make(map[string]Channel)
		r.sessions[sessionID] = conns
	}
	conns[connectionID] = ch

	log.Printf("[registry] connected %s to session %s (%d live)", connectionID, sessionID, len(conns))
}

// Disconnect removes the mapping and garbage-collects the session entry when
// no channels remain.
func (r *Registry) Disconnect(sessionID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}

	log.Printf("[registry] disconnected %s from session %s", connectionID, sessionID)
}

// Broadcast delivers payload to every live channel of the session. A failing
// channel never blocks the others; it is evicted from the registry instead.
func (r *Registry) Broadcast(sessionID string, payload any) {
	r.mu.RLock()
	conns := r.sessions[sessionID]
	targets := make(map[string]Channel, len(conns))
	for id, ch := range conns {
		targets[id] = ch
	}
	r.mu.RUnlock()

	for id, ch := range targets {
		if err := ch.Send(payload); err != nil {
			log.Printf("[registry] send failed on %s, evicting: %v", id, err)
			r.Disconnect(sessionID, id)
		}
	}
}

// ConnectionCount reports live channels across all sessions.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.sessions {
		total += len(conns)
	}
	return total
}

// SessionCount reports sessions with at least one live channel.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
