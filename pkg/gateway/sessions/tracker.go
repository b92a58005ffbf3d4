// Package sessions tracks active gateway sessions so shutdown can cancel
// them and wait for teardown.
package sessions

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Handle is what the tracker can do to a registered session.
type Handle struct {
	// Cancel requests session teardown.
	Cancel func()

	// NotifyError pushes a server error message to the session's client.
	NotifyError func(code, message string) error
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

// Tracker is a registry of live sessions keyed by session ID. Registering a
// duplicate ID replaces (and unregisters) the previous entry.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*trackedSession)}
}

// Register adds a session and returns its unregister function, which is
// idempotent.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	entry := &trackedSession{handle: h}

	t.mu.Lock()
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}
	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of registered sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// NotifyAll sends a server error to every session, best effort.
func (t *Tracker) NotifyAll(code, message string) (sent int) {
	var notifies []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.NotifyError != nil {
			notifies = append(notifies, entry.handle.NotifyError)
		}
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		_ = notify(code, message)
		sent++
	}
	return sent
}

// CancelAll requests teardown of every registered session.
func (t *Tracker) CancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or the
// context expires. Returns true when all sessions drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
