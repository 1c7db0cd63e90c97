package session

import (
	"log"
	"sync"
	"time"
)

// Registry is the session_id -> session mapping. It is the only shared
// mutable structure between the workers and the transport; entries are
// evicted after terminal-event delivery plus a grace period.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	grace    time.Duration
}

// NewRegistry creates an empty registry with the given eviction grace period.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		grace:    grace,
	}
}

// Add registers a session.
func (r *Registry) Add(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
}

// Get returns the session for the given id, or nil if unknown or evicted.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ScheduleEviction removes the session after the grace period. Called by the
// worker once the terminal event has been emitted.
func (r *Registry) ScheduleEviction(sessionID string) {
	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.sessions[sessionID]; ok {
			delete(r.sessions, sessionID)
			log.Printf("INFO: evicted session %s from registry", sessionID)
		}
	})
}
