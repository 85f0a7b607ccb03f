package coordination

import (
	"context"
	"sync"
	"time"

	"nexus/internal/addressing"
	"nexus/pkg/logging"
)

const subsystem = "Coordination"

// Manager is the Session Manager (spec.md §4.1): a thin façade over a
// Storage backend that additionally deduplicates termination waiters so
// N callers watching the same session share one poll loop instead of each
// spinning up their own.
type Manager struct {
	storage Storage

	pollInterval time.Duration

	mu      sync.Mutex
	waiters map[string]*terminationWaiter

	anyMu        sync.Mutex
	seenSessions map[string]addressing.Session
}

// terminationWaiter is the single shared future for one session: the first
// caller to wait on a session starts the poll loop, and every later caller
// for the same session id just joins its done channel.
type terminationWaiter struct {
	done chan struct{}
}

// NewManager wraps storage. pollInterval controls how often
// WaitForTermination checks IsAlive when the backend has no native
// blocking-watch primitive (true for both MemoryStorage and LeaseStorage).
func NewManager(storage Storage, pollInterval time.Duration) *Manager {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Manager{
		storage:      storage,
		pollInterval: pollInterval,
		waiters:      make(map[string]*terminationWaiter),
	}
}

// Begin registers a new session with the given initial lease end.
func (m *Manager) Begin(ctx context.Context, session addressing.Session, leaseEnd time.Time) error {
	return m.storage.TryBegin(ctx, session, leaseEnd)
}

// Renew extends session's lease.
func (m *Manager) Renew(ctx context.Context, session addressing.Session, leaseEnd time.Time) error {
	return m.storage.UpdateLease(ctx, session, leaseEnd)
}

// End marks session terminated.
func (m *Manager) End(ctx context.Context, session addressing.Session) error {
	return m.storage.End(ctx, session)
}

// AddEntry records that session owns path, per spec.md §4.1's "sessions
// own a set of coordination entries" invariant.
func (m *Manager) AddEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error {
	return m.storage.AddEntry(ctx, session, path)
}

// RemoveEntry releases session's ownership of path.
func (m *Manager) RemoveEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error {
	return m.storage.RemoveEntry(ctx, session, path)
}

// Entries returns the entry paths currently owned by session.
func (m *Manager) Entries(ctx context.Context, session addressing.Session) ([]addressing.EntryPath, error) {
	return m.storage.GetEntries(ctx, session)
}

// IsAlive reports whether session currently has a live record.
func (m *Manager) IsAlive(ctx context.Context, session addressing.Session) (bool, error) {
	return m.storage.IsAlive(ctx, session)
}

// ListSessions returns every currently live session.
func (m *Manager) ListSessions(ctx context.Context) ([]addressing.Session, error) {
	return m.storage.ListSessions(ctx)
}

// WaitForTermination blocks until session is no longer alive, ctx is
// cancelled, or the session is observed never to have existed. Concurrent
// callers for the same session id share a single poll loop, per spec.md
// §4.1's "one shared future per session" requirement: the loop is started
// by whichever caller arrives first and torn down once it fires.
func (m *Manager) WaitForTermination(ctx context.Context, session addressing.Session) error {
	waiter := m.joinOrStartWaiter(session)

	select {
	case <-waiter.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForAnyTermination polls every currently active session and returns
// the first one observed ended or expired, per spec.md §4.1. The active
// set is re-read each poll so sessions that begin after the call starts
// are covered too; a session only counts as "terminated" once it has first
// been observed alive by this method, so the very first poll never fires
// spuriously.
func (m *Manager) WaitForAnyTermination(ctx context.Context) (addressing.Session, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return addressing.Session{}, ctx.Err()
		case <-ticker.C:
			if session, ok := m.pollOnce(ctx); ok {
				return session, nil
			}
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) (addressing.Session, bool) {
	sessions, err := m.storage.ListSessions(ctx)
	if err != nil {
		logging.Warn(subsystem, "listing sessions: %v", err)
		return addressing.Session{}, false
	}
	current := make(map[string]addressing.Session, len(sessions))
	for _, s := range sessions {
		current[s.ID()] = s
	}

	m.anyMu.Lock()
	defer m.anyMu.Unlock()
	if m.seenSessions == nil {
		m.seenSessions = make(map[string]addressing.Session)
	}
	for id, session := range m.seenSessions {
		if _, stillAlive := current[id]; !stillAlive {
			delete(m.seenSessions, id)
			return session, true
		}
	}
	for id, session := range current {
		m.seenSessions[id] = session
	}
	return addressing.Session{}, false
}

func (m *Manager) joinOrStartWaiter(session addressing.Session) *terminationWaiter {
	key := session.ID()

	m.mu.Lock()
	if existing, ok := m.waiters[key]; ok {
		m.mu.Unlock()
		return existing
	}
	waiter := &terminationWaiter{done: make(chan struct{})}
	m.waiters[key] = waiter
	m.mu.Unlock()

	go m.runWaiter(session, waiter)
	return waiter
}

func (m *Manager) runWaiter(session addressing.Session, waiter *terminationWaiter) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, session.ID())
		m.mu.Unlock()
		close(waiter.done)
	}()

	for range ticker.C {
		alive, err := m.storage.IsAlive(context.Background(), session)
		if err != nil {
			logging.Warn(subsystem, "checking liveness of session %s: %v", session.String(), err)
			continue
		}
		if !alive {
			return
		}
	}
}
