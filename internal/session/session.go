// Package session owns the per-connection Session type and the registry
// that creates, looks up, and destroys sessions by id.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/streamcore/streamcore/internal/contextpool"
	"github.com/streamcore/streamcore/internal/ring"
	"github.com/streamcore/streamcore/internal/syncx"
	"github.com/streamcore/streamcore/internal/vad"
)

// IoHandle is the opaque, I/O-goroutine-owned reference to a connection.
// Only the transport layer ever dereferences it; the scheduler treats it
// as present-or-nil.
type IoHandle interface {
	SendText(text string) error
}

// outboundState bundles the pending frame queue with the coalescing flag
// that guards it, so both are read and mutated under one RWGuard lock.
type outboundState struct {
	queue          []string
	flushScheduled bool
}

// Session holds all mutable state associated with one live connection.
// Field-level ownership follows the concurrency model: Audio has its own
// internal lock and is safe for concurrent producer/scheduler access;
// VAD, WindowTail, LastPartialText, and PendingText are mutated only by
// the scheduler goroutine; outbound, ioHandle, and active are each behind
// their own syncx.RWGuard since courier, transport, and registry touch
// them from different goroutines.
type Session struct {
	ID string

	Audio      *ring.AudioRing
	WindowTail []float32

	VAD             *vad.Machine
	LastPartialText string
	PendingText     string

	ContextSlot *contextpool.Slot

	inferenceInProgress int32 // guarded by inflightMu
	inflightMu          sync.Mutex
	inflightCond        *sync.Cond

	outbound *syncx.RWGuard[outboundState]
	io       *syncx.RWGuard[IoHandle]
	active   *syncx.RWGuard[bool]

	CreatedAt time.Time
}

func newSession(id string, sampleRate int, maxRetainSeconds float64, vadCfg vad.Config, slot *contextpool.Slot) *Session {
	s := &Session{
		ID:          id,
		Audio:       ring.New(sampleRate, maxRetainSeconds),
		VAD:         vad.New(vadCfg),
		ContextSlot: slot,
		outbound:    syncx.NewGuard(outboundState{}),
		io:          syncx.NewGuard[IoHandle](nil),
		active:      syncx.NewGuard(true),
		CreatedAt:   time.Now(),
	}
	s.inflightCond = sync.NewCond(&s.inflightMu)
	return s
}

// GenerateID returns a random 16 lowercase hex character session id.
func GenerateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Active reports whether destroy has not yet been requested for this
// session.
func (s *Session) Active() bool {
	return s.active.Get()
}

func (s *Session) setInactive() {
	s.active.Set(false)
}

// BeginInference marks the session busy. Returns false if an inference is
// already in flight for this session (the single-flight rule).
func (s *Session) BeginInference() bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inferenceInProgress != 0 {
		return false
	}
	s.inferenceInProgress = 1
	return true
}

// EndInference clears the busy flag and wakes any goroutine waiting in
// WaitForInferenceIdle.
func (s *Session) EndInference() {
	s.inflightMu.Lock()
	s.inferenceInProgress = 0
	s.inflightCond.Broadcast()
	s.inflightMu.Unlock()
}

// InferenceInProgress reports whether an inference is currently running
// for this session.
func (s *Session) InferenceInProgress() bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return s.inferenceInProgress != 0
}

// WaitForInferenceIdle blocks until no inference is in flight for this
// session. Used by Destroy, which must not return the context slot to the
// pool while an inference still holds it.
func (s *Session) WaitForInferenceIdle() {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	for s.inferenceInProgress != 0 {
		s.inflightCond.Wait()
	}
}

// Enqueue appends a text frame to the outbound queue in FIFO order.
func (s *Session) Enqueue(text string) {
	s.outbound.Write(func(st *outboundState) {
		st.queue = append(st.queue, text)
	})
}

// DrainOutbound removes and returns every queued text frame in enqueue
// order.
func (s *Session) DrainOutbound() []string {
	result := s.outbound.Update(func(st *outboundState) any {
		if len(st.queue) == 0 {
			return []string(nil)
		}
		drained := st.queue
		st.queue = nil
		return drained
	})
	return result.([]string)
}

// TrySetFlushScheduled atomically sets the flush-scheduled flag and
// reports whether it was already set, so the courier can coalesce
// repeated notifies into a single pending flush.
func (s *Session) TrySetFlushScheduled() (alreadyScheduled bool) {
	result := s.outbound.Update(func(st *outboundState) any {
		was := st.flushScheduled
		st.flushScheduled = true
		return was
	})
	return result.(bool)
}

// ClearFlushScheduled resets the flush-scheduled flag at the start of a
// flush task, so a notify arriving during the flush schedules a follow-up
// task rather than being dropped.
func (s *Session) ClearFlushScheduled() {
	s.outbound.Write(func(st *outboundState) {
		st.flushScheduled = false
	})
}

// SetIoHandle attaches or clears the connection handle. Callable only
// from the I/O goroutine.
func (s *Session) SetIoHandle(h IoHandle) {
	s.io.Set(h)
}

// GetIoHandle returns the current connection handle, or nil if the
// connection has already disconnected. Callable only from the I/O
// goroutine.
func (s *Session) GetIoHandle() IoHandle {
	return s.io.Get()
}
