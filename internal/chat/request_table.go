package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RequestHandle tracks one in-flight turn. Cancel is cooperative: it
// signals the turn's context and Wait blocks until the turn's goroutine
// has fully unwound, so callers can rely on cleanup having happened.
type RequestHandle struct {
	ID        string
	SessionID string

	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel signals the turn to stop. Safe to call more than once.
func (h *RequestHandle) Cancel() {
	h.cancel()
}

// Wait blocks until the turn has finished, errored, or unwound from a
// cancellation.
func (h *RequestHandle) Wait() {
	<-h.done
}

// Done exposes the completion channel for select loops.
func (h *RequestHandle) Done() <-chan struct{} {
	return h.done
}

// SessionRequestTable enforces at most one in-flight turn per session.
// Beginning a new turn cancels the prior one and waits for it to unwind
// before the new handle becomes visible.
type SessionRequestTable struct {
	mu      sync.Mutex
	handles map[string]*RequestHandle
}

func NewSessionRequestTable() *SessionRequestTable {
	return &SessionRequestTable{handles: make(map[string]*RequestHandle)}
}

// Begin cancels any in-flight turn for the session, waits for it, and
// registers a fresh handle derived from parent.
func (t *SessionRequestTable) Begin(parent context.Context, sessionID string) (context.Context, *RequestHandle) {
	t.mu.Lock()
	prior := t.handles[sessionID]
	t.mu.Unlock()

	if prior != nil {
		prior.Cancel()
		prior.Wait()
	}

	ctx, cancel := context.WithCancel(parent)
	handle := &RequestHandle{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.handles[sessionID] = handle
	t.mu.Unlock()
	return ctx, handle
}

// Finish marks the handle complete and removes it from the table, unless
// a newer handle has already replaced it. The identity comparison is what
// keeps a stale turn's cleanup from tearing down its successor.
func (t *SessionRequestTable) Finish(handle *RequestHandle) {
	t.mu.Lock()
	if t.handles[handle.SessionID] == handle {
		delete(t.handles, handle.SessionID)
	}
	t.mu.Unlock()
	close(handle.done)
}

// Active returns the session's in-flight handle, if any.
func (t *SessionRequestTable) Active(sessionID string) (*RequestHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle, ok := t.handles[sessionID]
	return handle, ok
}

// CancelSession cancels and awaits the session's in-flight turn, if any.
// Returns false when nothing was running.
func (t *SessionRequestTable) CancelSession(sessionID string) bool {
	t.mu.Lock()
	handle := t.handles[sessionID]
	t.mu.Unlock()
	if handle == nil {
		return false
	}
	handle.Cancel()
	handle.Wait()
	return true
}
