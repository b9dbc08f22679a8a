package contextpool

import (
	"context"
	"testing"

	"github.com/streamcore/streamcore/internal/transcribe"
)

func newTestPool(t *testing.T, n int) *Pool {
	t.Helper()
	p, err := New(context.Background(), transcribe.NewMemoryTranscriber(), n, "unused", transcribe.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestAcquireReleaseFirstFit(t *testing.T) {
	p := newTestPool(t, 2)

	s1, ok := p.Acquire()
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	s2, ok := p.Acquire()
	if !ok {
		t.Fatal("expected second acquire to succeed")
	}
	if s1.ID == s2.ID {
		t.Fatal("expected distinct slots")
	}

	if _, ok := p.Acquire(); ok {
		t.Fatal("expected third acquire to fail, pool is exhausted")
	}

	p.Release(s1)
	s3, ok := p.Acquire()
	if !ok {
		t.Fatal("expected acquire to succeed after a release")
	}
	if s3.ID != s1.ID {
		t.Errorf("expected first-fit to reuse released slot %d, got %d", s1.ID, s3.ID)
	}
}

func TestReleaseNotInUsePanics(t *testing.T) {
	p := newTestPool(t, 1)
	s, _ := p.Acquire()
	p.Release(s)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing an already-free slot")
		}
	}()
	p.Release(s)
}

func TestInUseAndSize(t *testing.T) {
	p := newTestPool(t, 3)
	if p.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", p.Size())
	}
	p.Acquire()
	p.Acquire()
	if p.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", p.InUse())
	}
}

func TestCloseAll(t *testing.T) {
	p := newTestPool(t, 2)
	p.CloseAll()
	if p.Size() != 0 {
		t.Errorf("Size() after CloseAll = %d, want 0", p.Size())
	}
}
