package transcribe

import (
	"context"
	"sync"
)

// memoryContext is the Context handle MemoryTranscriber hands to a pool
// slot; it carries no state of its own beyond identity.
type memoryContext struct{ id int }

// MemoryTranscriber is a deterministic, dependency-free Transcriber used
// throughout this repository's test suite. Callers script its behavior
// with Program, which queues one segment list per Transcribe call for a
// context; partial and final calls consume the same queue in call order.
type MemoryTranscriber struct {
	mu       sync.Mutex
	nextID   int
	program  map[int][][]string // contextID -> queued results, one per call
	callSeen map[int]int
}

// NewMemoryTranscriber returns a ready-to-use MemoryTranscriber.
func NewMemoryTranscriber() *MemoryTranscriber {
	return &MemoryTranscriber{
		program:  make(map[int][][]string),
		callSeen: make(map[int]int),
	}
}

// Open allocates a new context identity. modelPath and opts are recorded
// nowhere; this transcriber has no real model to load.
func (m *MemoryTranscriber) Open(_ context.Context, _ string, _ Options) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return &memoryContext{id: m.nextID}, nil
}

func (m *MemoryTranscriber) Close(_ Context) error { return nil }

// Program queues the segment lists this transcriber returns for successive
// Transcribe calls against ctx, in order. Once exhausted, Transcribe
// returns an empty result.
func (m *MemoryTranscriber) Program(ctx Context, results ...[]string) {
	mc := ctx.(*memoryContext)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.program[mc.id] = append(m.program[mc.id], results...)
}

// Transcribe returns the next programmed result for c, or an empty slice
// if nothing was programmed for this call.
func (m *MemoryTranscriber) Transcribe(_ context.Context, c Context, _ []float32, _ TranscribeOptions) ([]string, error) {
	mc := c.(*memoryContext)
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.program[mc.id]
	idx := m.callSeen[mc.id]
	m.callSeen[mc.id] = idx + 1

	if idx >= len(queue) {
		return nil, nil
	}
	return queue[idx], nil
}
