// Package contextpool implements the fixed-size pool of heavy inference
// contexts shared across sessions: N slots, first-fit acquisition, no
// wait queue. A failed acquisition is a deterministic admission-time
// rejection, not a blocking wait — the pool would rather refuse a
// connection than let one session queue up behind another's inference.
package contextpool

import (
	"context"
	"fmt"

	"github.com/streamcore/streamcore/internal/syncx"
	"github.com/streamcore/streamcore/internal/transcribe"
)

// Slot holds one long-lived inference context and its in-use flag.
type Slot struct {
	ID    int
	Ctx   transcribe.Context
	inUse bool
}

// Pool is a fixed-cardinality set of Slots guarded by an RWGuard, so
// readers like Size/InUse take a shared lock while Acquire/Release/
// CloseAll take an exclusive one.
type Pool struct {
	slots       *syncx.RWGuard[[]*Slot]
	transcriber transcribe.Transcriber
}

// New opens n contexts via transcriber.Open(modelPath, opts) and returns
// a Pool owning them. If any Open call fails, contexts already opened are
// closed and the error is returned — this is an initialization error,
// which callers must treat as fatal.
func New(ctx context.Context, transcriber transcribe.Transcriber, n int, modelPath string, opts transcribe.Options) (*Pool, error) {
	p := &Pool{transcriber: transcriber, slots: syncx.NewGuard[[]*Slot](nil)}

	for i := 0; i < n; i++ {
		tc, err := transcriber.Open(ctx, modelPath, opts)
		if err != nil {
			p.CloseAll()
			return nil, fmt.Errorf("context pool: failed to open slot %d: %w", i, err)
		}
		slot := &Slot{ID: i, Ctx: tc}
		p.slots.Write(func(s *[]*Slot) {
			*s = append(*s, slot)
		})
	}
	return p, nil
}

// Acquire returns an unused slot and marks it in use, or false if every
// slot is busy. First-fit over the fixed slot list.
func (p *Pool) Acquire() (*Slot, bool) {
	result := p.slots.Update(func(s *[]*Slot) any {
		for _, slot := range *s {
			if !slot.inUse {
				slot.inUse = true
				return slot
			}
		}
		return (*Slot)(nil)
	})
	slot := result.(*Slot)
	return slot, slot != nil
}

// Release clears the in-use flag on s. Releasing a slot that is not
// currently in use is a programming error and panics rather than silently
// corrupting pool accounting.
func (p *Pool) Release(s *Slot) {
	p.slots.Write(func(_ *[]*Slot) {
		if !s.inUse {
			panic(fmt.Sprintf("contextpool: release of slot %d that is not in use", s.ID))
		}
		s.inUse = false
	})
}

// CloseAll releases every context back to the transcriber. Callers must
// ensure no slot is in use before calling this.
func (p *Pool) CloseAll() {
	p.slots.Write(func(s *[]*Slot) {
		for _, slot := range *s {
			_ = p.transcriber.Close(slot.Ctx)
		}
		*s = nil
	})
}

// Size returns the total slot count.
func (p *Pool) Size() int {
	return len(p.slots.Get())
}

// InUse returns the number of currently acquired slots, for diagnostics.
func (p *Pool) InUse() int {
	result := p.slots.Read(func(s []*Slot) any {
		n := 0
		for _, slot := range s {
			if slot.inUse {
				n++
			}
		}
		return n
	})
	return result.(int)
}
