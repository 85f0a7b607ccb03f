package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/addressing"
)

func newTestSession(t *testing.T) addressing.Session {
	t.Helper()
	session, err := addressing.NewSession(addressing.PhysicalAddressFromString("127.0.0.1:9631"))
	require.NoError(t, err)
	return session
}

func TestManagerBeginAndIsAlive(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 10*time.Millisecond)
	session := newTestSession(t)

	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(time.Minute)))

	alive, err := manager.IsAlive(context.Background(), session)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestManagerBeginTwiceFails(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 10*time.Millisecond)
	session := newTestSession(t)

	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(time.Minute)))
	err := manager.Begin(context.Background(), session, time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrAlreadyBegun)
}

// TestWaitForTerminationFiresOnLeaseExpiry covers spec.md §8 invariant 1
// ("waitForTermination returns when a record is gone or already ended").
func TestWaitForTerminationFiresOnLeaseExpiry(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 5*time.Millisecond)
	session := newTestSession(t)

	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(20*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, manager.WaitForTermination(ctx, session))
}

// TestWaitForTerminationDeduplicatesWaiters covers spec.md §8 invariant 2
// ("one shared future per session").
func TestWaitForTerminationDeduplicatesWaiters(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 5*time.Millisecond)
	session := newTestSession(t)
	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(15*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_ = manager.WaitForTermination(ctx, session)
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	manager.mu.Lock()
	_, stillTracked := manager.waiters[session.ID()]
	manager.mu.Unlock()
	assert.False(t, stillTracked, "waiter entry must be purged on completion")
}

// TestWaitForAnyTerminationReturnsExpiredSession covers spec.md §8 scenario
// S3: stop renewing a session and observe waitForAnyTermination return it.
func TestWaitForAnyTerminationReturnsExpiredSession(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 5*time.Millisecond)
	session := newTestSession(t)
	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(15*time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ended, err := manager.WaitForAnyTermination(ctx)
	require.NoError(t, err)
	assert.True(t, ended.Equal(session))
}

func TestManagerEntries(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 10*time.Millisecond)
	session := newTestSession(t)
	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(time.Minute)))

	path := addressing.NewEntryPath("routes", "billing", session.ID())
	require.NoError(t, manager.AddEntry(context.Background(), session, path))

	entries, err := manager.Entries(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Equal(path))

	require.NoError(t, manager.RemoveEntry(context.Background(), session, path))
	entries, err = manager.Entries(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManagerEndDeletesEmptySession(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), 10*time.Millisecond)
	session := newTestSession(t)
	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(time.Minute)))

	require.NoError(t, manager.End(context.Background(), session))
	alive, err := manager.IsAlive(context.Background(), session)
	require.NoError(t, err)
	assert.False(t, alive)
}
