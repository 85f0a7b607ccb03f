package coordination

import (
	"context"
	"time"

	"nexus/internal/addressing"
)

// Storage is the collaborator contract the session Manager consumes
// (spec.md §6's SessionStorage). Mutating operations perform their own
// optimistic-concurrency retry internally: the Lease backend retries a
// version conflict up to 5 attempts and then returns the conflict error;
// the memory backend never sees a conflict.
type Storage interface {
	// TryBegin atomically inserts a new record for session. It returns
	// ErrAlreadyBegun if a record already exists.
	TryBegin(ctx context.Context, session addressing.Session, leaseEnd time.Time) error

	// UpdateLease extends leaseEnd for session. Returns ErrSessionTerminated
	// if the record is missing or already ended.
	UpdateLease(ctx context.Context, session addressing.Session, leaseEnd time.Time) error

	// End idempotently marks session ended, deleting the record immediately
	// if it owns no entries.
	End(ctx context.Context, session addressing.Session) error

	// AddEntry adds path to session's owned entry set. Returns
	// ErrSessionTerminated if the session is not alive.
	AddEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error

	// RemoveEntry removes path from session's owned entry set. If the
	// session was already ended and this empties its entry set, the record
	// is deleted.
	RemoveEntry(ctx context.Context, session addressing.Session, path addressing.EntryPath) error

	// GetEntries returns the entries currently owned by session.
	GetEntries(ctx context.Context, session addressing.Session) ([]addressing.EntryPath, error)

	// IsAlive reports whether session has a record that is not ended and
	// whose lease has not expired.
	IsAlive(ctx context.Context, session addressing.Session) (bool, error)

	// ListSessions returns all sessions with a live (not ended,
	// unexpired-lease) record.
	ListSessions(ctx context.Context) ([]addressing.Session, error)

	// Get returns the full stored record for session, for callers that need
	// LeaseEnd/IsEnded directly.
	// ok is false if no record exists.
	Get(ctx context.Context, session addressing.Session) (record StoredSession, ok bool, err error)
}
