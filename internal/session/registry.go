package session

import (
	"sync"

	"github.com/streamcore/streamcore/internal/contextpool"
	"github.com/streamcore/streamcore/internal/errors"
	"github.com/streamcore/streamcore/internal/vad"
)

// Registry is the keyed mapping from session id to Session, protected by
// one mutex. Handles returned by SnapshotActive share ownership with the
// registry: since Go's garbage collector will not reclaim a Session while
// any goroutine holds a *Session pointer, a Destroy racing with a
// scheduler tick that already snapshotted the handle cannot free the
// session out from under an in-flight inference.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	pool       *contextpool.Pool
	sampleRate int
	maxRetain  float64
	vadCfg     vad.Config
}

// NewRegistry creates a Registry backed by pool for context-slot
// admission.
func NewRegistry(pool *contextpool.Pool, sampleRate int, maxRetainSeconds float64, vadCfg vad.Config) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		pool:       pool,
		sampleRate: sampleRate,
		maxRetain:  maxRetainSeconds,
		vadCfg:     vadCfg,
	}
}

// Create acquires a context slot and registers a new Session under a
// freshly generated id. Returns errors.PoolExhausted if no slot is free.
func (r *Registry) Create() (*Session, error) {
	slot, ok := r.pool.Acquire()
	if !ok {
		return nil, errors.New(errors.PoolExhausted, "no available contexts, try again later")
	}

	id := GenerateID()
	s := newSession(id, r.sampleRate, r.maxRetain, r.vadCfg, slot)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s, nil
}

// Lookup returns the session for id, or nil if it does not exist.
func (r *Registry) Lookup(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// SnapshotActive returns a copy of the current set of live session
// handles, safe to iterate without holding the registry lock.
func (r *Registry) SnapshotActive() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out
}

// Destroy unregisters the session, marks it inactive, waits for any
// in-flight inference to complete, and returns its context slot to the
// pool. It is safe to call once per session id; a second call is a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	s.setInactive()
	s.WaitForInferenceIdle()
	r.pool.Release(s.ContextSlot)
}

// Len returns the number of currently registered sessions. A session being
// destroyed is no longer counted: Destroy unregisters it before waiting
// for its in-flight inference.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
