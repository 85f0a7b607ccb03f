// Package coordination implements the cluster session & coordination layer:
// a lease-based session manager (B) and the process-local session owner
// (C) that renews it. Sessions back the hierarchical coordination
// namespace the router (internal/router) ties its registrations to.
package coordination

import (
	"errors"
	"time"

	"nexus/internal/addressing"
)

// ErrSessionTerminated is returned when an operation targets a session
// record that is missing or already ended, per spec.md §4.1.
var ErrSessionTerminated = errors.New("coordination: session terminated")

// ErrAlreadyBegun is returned by TryBegin when a record for the session
// already exists.
var ErrAlreadyBegun = errors.New("coordination: session already begun")

// StoredSession is the persisted record backing one session, per spec.md
// §3. LeaseEnd is extended monotonically by UpdateLease until End sets
// IsEnded; once ended and EntryPaths is empty the record is deleted.
type StoredSession struct {
	Session        addressing.Session
	LeaseEnd       time.Time
	StorageVersion int
	EntryPaths     map[string]addressing.EntryPath
	IsEnded        bool
}

// clone deep-copies the record so callers can't mutate a stored copy via a
// returned reference.
func (s StoredSession) clone() StoredSession {
	cp := s
	cp.EntryPaths = make(map[string]addressing.EntryPath, len(s.EntryPaths))
	for k, v := range s.EntryPaths {
		cp.EntryPaths[k] = v
	}
	return cp
}
