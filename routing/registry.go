package routing

import (
	"fmt"
	"sync"
	"time"
)

// sessionHandle pairs a session with its mutation lock. Holding the lock
// serialises transitions: two concurrent moves on the same session can
// never both succeed.
type sessionHandle struct {
	mu sync.Mutex
	s  *Session
}

// registry is the in-memory session store. Sessions are evicted after a
// grace window once terminal.
type registry struct {
	mu      sync.RWMutex
	handles map[string]*sessionHandle
}

func newRegistry() *registry {
	return &registry{handles: make(map[string]*sessionHandle)}
}

func (r *registry) put(s *Session) *sessionHandle {
	h := &sessionHandle{s: s}
	r.mu.Lock()
	r.handles[s.ID] = h
	r.mu.Unlock()
	return h
}

func (r *registry) get(sessionID string) (*sessionHandle, error) {
	r.mu.RLock()
	h, ok := r.handles[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	return h, nil
}

func (r *registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.handles, sessionID)
	r.mu.Unlock()
}

// all returns the current handles. Callers lock each handle individually.
func (r *registry) all() []*sessionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sessionHandle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// statesByCount returns session counts per state, for metrics.
func (r *registry) statesByCount() map[State]int {
	out := make(map[State]int)
	for _, h := range r.all() {
		h.mu.Lock()
		out[h.s.State]++
		h.mu.Unlock()
	}
	return out
}

// idleSince reports whether the session has been untouched longer than d.
// Callers must hold the handle lock.
func idleSince(s *Session, d time.Duration, now time.Time) bool {
	return now.Sub(s.UpdatedAt) > d
}
