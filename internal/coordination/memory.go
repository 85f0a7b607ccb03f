package coordination

import (
	"context"
	"sync"
	"time"

	"nexus/internal/addressing"
)

// MemoryStorage is an in-process Storage backed by a map guarded by a
// mutex, using StorageVersion as an optimistic-concurrency token. It is
// the single-process coordination backend selected when no cluster lease
// API is available, per spec.md §4.1's backend-selection note.
type MemoryStorage struct {
	mu       sync.Mutex
	sessions map[string]StoredSession
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{sessions: make(map[string]StoredSession)}
}

func (m *MemoryStorage) TryBegin(ctx context.Context, session addressing.Session, leaseEnd time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.ID()
	if _, exists := m.sessions[key]; exists {
		return ErrAlreadyBegun
	}
	m.sessions[key] = StoredSession{
		Session:        session,
		LeaseEnd:       leaseEnd,
		StorageVersion: 1,
		EntryPaths:     make(map[string]addressing.EntryPath),
	}
	return nil
}

func (m *MemoryStorage) UpdateLease(ctx context.Context, session addressing.Session, leaseEnd time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.ID()
	record, ok := m.sessions[key]
	if !ok || record.IsEnded {
		return ErrSessionTerminated
	}
	record.LeaseEnd = leaseEnd
	record.StorageVersion++
	m.sessions[key] = record
	return nil
}

func (m *MemoryStorage) End(ctx context.Context, session addressing.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.ID()
	record, ok := m.sessions[key]
	if !ok {
		return nil
	}
	if len(record.EntryPaths) == 0 {
		delete(m.sessions, key)
		return nil
	}
	record.IsEnded = true
	record.StorageVersion++
	m.sessions[key] = record
	return nil
}

func (m *MemoryStorage) AddEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.ID()
	record, ok := m.sessions[key]
	if !ok || record.IsEnded || record.LeaseEnd.Before(nowFunc()) {
		return ErrSessionTerminated
	}
	record = record.clone()
	record.EntryPaths[path.String()] = path
	record.StorageVersion++
	m.sessions[key] = record
	return nil
}

func (m *MemoryStorage) RemoveEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := session.ID()
	record, ok := m.sessions[key]
	if !ok {
		return nil
	}
	record = record.clone()
	delete(record.EntryPaths, path.String())
	record.StorageVersion++
	if record.IsEnded && len(record.EntryPaths) == 0 {
		delete(m.sessions, key)
		return nil
	}
	m.sessions[key] = record
	return nil
}

func (m *MemoryStorage) GetEntries(ctx context.Context, session addressing.Session) ([]addressing.EntryPath, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.sessions[session.ID()]
	if !ok {
		return nil, nil
	}
	entries := make([]addressing.EntryPath, 0, len(record.EntryPaths))
	for _, p := range record.EntryPaths {
		entries = append(entries, p)
	}
	return entries, nil
}

func (m *MemoryStorage) IsAlive(ctx context.Context, session addressing.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.sessions[session.ID()]
	if !ok || record.IsEnded {
		return false, nil
	}
	return record.LeaseEnd.After(nowFunc()), nil
}

func (m *MemoryStorage) ListSessions(ctx context.Context) ([]addressing.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := nowFunc()
	var out []addressing.Session
	for _, record := range m.sessions {
		if !record.IsEnded && record.LeaseEnd.After(now) {
			out = append(out, record.Session)
		}
	}
	return out, nil
}

func (m *MemoryStorage) Get(ctx context.Context, session addressing.Session) (StoredSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.sessions[session.ID()]
	if !ok {
		return StoredSession{}, false, nil
	}
	return record.clone(), true, nil
}

// nowFunc is a seam for tests; production always uses time.Now.
var nowFunc = time.Now
