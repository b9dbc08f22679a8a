// Package courier bridges the scheduler goroutine to each connection's
// I/O goroutine: the scheduler enqueues text onto a session and calls
// Notify, and the courier schedules exactly one flush task per session
// between actual writes, however many times Notify fires in between.
package courier

import (
	"context"

	"github.com/streamcore/streamcore/internal/session"
	"github.com/streamcore/streamcore/internal/trace"
)

// IoBridge dispatches a flush task onto the I/O goroutine that owns
// sessionID's connection. The concrete transport is expected to run task
// on that connection's own goroutine (e.g. its websocket write pump), not
// inline on the caller.
type IoBridge interface {
	Defer(sessionID string, task func())
}

// Courier implements scheduler.Notifier. It holds no per-session state of
// its own; FlushScheduled lives on the Session so a session's lifecycle
// governs it directly.
type Courier struct {
	registry *session.Registry
	bridge   IoBridge
}

// New creates a Courier that looks sessions up in registry and dispatches
// flush tasks through bridge.
func New(registry *session.Registry, bridge IoBridge) *Courier {
	return &Courier{registry: registry, bridge: bridge}
}

// Notify is called by the scheduler once per outbound enqueue. It drops
// silently if the session is gone or already inactive, and coalesces
// concurrent notifies for the same session into a single pending flush.
func (c *Courier) Notify(sessionID string) {
	sess := c.registry.Lookup(sessionID)
	if sess == nil || !sess.Active() {
		return
	}
	if sess.TrySetFlushScheduled() {
		return
	}
	c.bridge.Defer(sessionID, func() { c.flush(sessionID) })
}

// FlushNow synchronously drains and writes sess's outbound queue on the
// caller's own goroutine, bypassing the coalescing bridge. Used by the
// transport's read loop as a belt-and-suspenders drain on every inbound
// message, so a client that pauses receiving still gets an eventual write
// attempt without waiting on the next scheduler-driven Notify.
func (c *Courier) FlushNow(sessionID string) {
	sess := c.registry.Lookup(sessionID)
	if sess == nil {
		return
	}
	sess.ClearFlushScheduled()
	c.deliver(sess)
}

func (c *Courier) flush(sessionID string) {
	sess := c.registry.Lookup(sessionID)
	if sess == nil {
		return
	}
	sess.ClearFlushScheduled()
	c.deliver(sess)
}

func (c *Courier) deliver(sess *session.Session) {
	frames := sess.DrainOutbound()
	if len(frames) == 0 {
		return
	}

	handle := sess.GetIoHandle()
	if handle == nil {
		return
	}

	for _, frame := range frames {
		if err := handle.SendText(frame); err != nil {
			trace.Logger(context.Background()).Warn("failed to write outbound frame, dropping remainder", "session_id", sess.ID, "error", err)
			return
		}
	}
}
