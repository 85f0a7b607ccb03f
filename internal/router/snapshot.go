package router

import (
	"context"
	"fmt"
	"sort"

	"nexus/internal/addressing"
)

// RouteEntry is one row of a RouteTable snapshot: a live end-point
// registration and the session/physical address currently serving it.
type RouteEntry struct {
	EndPoint addressing.EndPointAddress
	Session  addressing.Session
	Physical addressing.PhysicalAddress
}

const routesSegment = "routes"

// Snapshot materializes every live route registration across all cluster
// sessions into a point-in-time RouteTable, ordered by end-point then by
// session id for determinism. It is the read-only counterpart to Resolve:
// where Resolve targets one end-point, Snapshot walks every session's
// entries once and groups them all, which is what the CLI's route-listing
// command needs instead of calling Resolve once per distinct end-point.
func (r *Router) Snapshot(ctx context.Context) ([]RouteEntry, error) {
	sessions, err := r.manager.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("router: listing sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })

	var out []RouteEntry
	for _, session := range sessions {
		alive, err := r.manager.IsAlive(ctx, session)
		if err != nil || !alive {
			continue
		}
		entries, err := r.manager.Entries(ctx, session)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			endPoint, ok := routeEndPoint(entry)
			if !ok {
				continue
			}
			out = append(out, RouteEntry{EndPoint: endPoint, Session: session, Physical: session.PhysicalAddress})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EndPoint.String() != out[j].EndPoint.String() {
			return out[i].EndPoint.String() < out[j].EndPoint.String()
		}
		return out[i].Session.ID() < out[j].Session.ID()
	})
	return out, nil
}

// routeEndPoint extracts the end-point segment from a "/routes/<endPoint>/<sessionID>"
// entry path, reporting false for anything else (e.g. "/types/..." default-route entries).
func routeEndPoint(entry addressing.EntryPath) (addressing.EndPointAddress, bool) {
	segments := entry.Segments()
	if len(segments) < 2 || segments[0] != routesSegment {
		return addressing.Unknown, false
	}
	return addressing.EndPointAddressFromString(segments[1]), true
}
