// Package router implements the End-point Router (D): the mapping from a
// logical end-point address to the physical addresses of the live sessions
// currently serving it, built on top of internal/coordination's session
// entry tracking.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"nexus/internal/addressing"
	"nexus/internal/coordination"
	"nexus/pkg/logging"
)

const subsystem = "Router"

// ErrNoLiveTarget is returned by send/broadcast when an end-point currently
// resolves to no live physical address.
var ErrNoLiveTarget = errors.New("router: no live target for end-point")

// Transport is the collaborator the router hands resolved payloads to.
// internal/transport's framed connection type satisfies it.
type Transport interface {
	Send(ctx context.Context, target addressing.PhysicalAddress, payload []byte) error
}

// Router is the End-point Router (D).
type Router struct {
	manager   *coordination.Manager
	transport Transport
}

// NewRouter builds a Router over manager (the session/coordination layer)
// and transport (the physical delivery layer).
func NewRouter(manager *coordination.Manager, transport Transport) *Router {
	return &Router{manager: manager, transport: transport}
}

// Register writes a session-scoped routing entry mapping endPoint to
// physical, under /routes/<endPoint>/<session>, per spec.md §4.3.
func (r *Router) Register(ctx context.Context, endPoint addressing.EndPointAddress, physical addressing.PhysicalAddress, session addressing.Session) error {
	path := addressing.RoutesPath(endPoint, session.ID())
	if err := r.manager.AddEntry(ctx, session, path); err != nil {
		return fmt.Errorf("router: registering %s: %w", endPoint, err)
	}
	logging.Debug(subsystem, "registered %s -> %s for session %s", endPoint, physical, session.String())
	return nil
}

// Unregister removes the routing entry registered by Register.
func (r *Router) Unregister(ctx context.Context, endPoint addressing.EndPointAddress, session addressing.Session) error {
	path := addressing.RoutesPath(endPoint, session.ID())
	if err := r.manager.RemoveEntry(ctx, session, path); err != nil {
		return fmt.Errorf("router: unregistering %s: %w", endPoint, err)
	}
	return nil
}

// RegisterDefaultType records that messageType's default end-point is
// endPoint, under /types/<messageType>/<endPoint>, for the remote
// dispatcher's default-route lookup (spec.md §4.8). The entry is
// session-scoped like a route entry, so it disappears with its owner.
func (r *Router) RegisterDefaultType(ctx context.Context, messageType string, endPoint addressing.EndPointAddress, session addressing.Session) error {
	path := addressing.TypesPath(messageType, endPoint)
	if err := r.manager.AddEntry(ctx, session, path); err != nil {
		return fmt.Errorf("router: registering default type route for %s: %w", messageType, err)
	}
	return nil
}

// UnregisterDefaultType removes the entry written by RegisterDefaultType.
func (r *Router) UnregisterDefaultType(ctx context.Context, messageType string, endPoint addressing.EndPointAddress, session addressing.Session) error {
	path := addressing.TypesPath(messageType, endPoint)
	if err := r.manager.RemoveEntry(ctx, session, path); err != nil {
		return fmt.Errorf("router: unregistering default type route for %s: %w", messageType, err)
	}
	return nil
}

// ResolveDefaultType returns the first live end-point registered as
// messageType's default route, in lexicographic-by-session-id order for
// determinism, and false if none is live.
func (r *Router) ResolveDefaultType(ctx context.Context, messageType string) (addressing.EndPointAddress, bool, error) {
	sessions, err := r.manager.ListSessions(ctx)
	if err != nil {
		return addressing.EndPointAddress{}, false, fmt.Errorf("router: listing sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })

	prefix := "/types/" + messageType + "/"
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
			full := entry.String()
			if len(full) > len(prefix) && full[:len(prefix)] == prefix {
				return addressing.EndPointAddressFromString(full[len(prefix):]), true, nil
			}
		}
	}
	return addressing.EndPointAddress{}, false, nil
}

// target is a resolved route: the session that registered it and the
// physical address it maps to.
type target struct {
	session  addressing.Session
	physical addressing.PhysicalAddress
}

// Resolve returns the live physical addresses currently registered for
// endPoint, in deterministic lexicographic-by-session-id order. Sessions
// whose lease has expired are excluded even if their entry has not yet
// been physically cleaned up, satisfying spec.md §8 scenario S3.
func (r *Router) Resolve(ctx context.Context, endPoint addressing.EndPointAddress) ([]addressing.PhysicalAddress, error) {
	targets, err := r.resolveTargets(ctx, endPoint)
	if err != nil {
		return nil, err
	}
	out := make([]addressing.PhysicalAddress, len(targets))
	for i, t := range targets {
		out[i] = t.physical
	}
	return out, nil
}

func (r *Router) resolveTargets(ctx context.Context, endPoint addressing.EndPointAddress) ([]target, error) {
	sessions, err := r.manager.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("router: listing sessions: %w", err)
	}

	var targets []target
	for _, session := range sessions {
		alive, err := r.manager.IsAlive(ctx, session)
		if err != nil {
			logging.Warn(subsystem, "checking liveness of session %s: %v", session.String(), err)
			continue
		}
		if !alive {
			continue
		}

		entries, err := r.manager.Entries(ctx, session)
		if err != nil {
			logging.Warn(subsystem, "listing entries of session %s: %v", session.String(), err)
			continue
		}
		want := addressing.RoutesPath(endPoint, session.ID())
		for _, entry := range entries {
			if entry.Equal(want) {
				targets = append(targets, target{session: session, physical: session.PhysicalAddress})
				break
			}
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].session.ID() < targets[j].session.ID() })
	return targets, nil
}

// Send picks one live physical address pseudo-randomly (to spread load
// across call sites) and delivers payload, retrying against the remaining
// live targets on failure.
func (r *Router) Send(ctx context.Context, endPoint addressing.EndPointAddress, payload []byte) error {
	targets, err := r.resolveTargets(ctx, endPoint)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return ErrNoLiveTarget
	}

	order := rand.Perm(len(targets))
	var lastErr error
	for _, idx := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := targets[idx]
		if err := r.transport.Send(ctx, t.physical, payload); err != nil {
			logging.Warn(subsystem, "delivery to %s failed, trying next live target: %v", t.physical, err)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("router: all live targets failed: %w", lastErr)
}

// BroadcastResult is the per-target outcome of a Broadcast call.
type BroadcastResult struct {
	Physical addressing.PhysicalAddress
	Err      error
}

// Broadcast delivers payload to every live physical address concurrently,
// returning one result per target.
func (r *Router) Broadcast(ctx context.Context, endPoint addressing.EndPointAddress, payload []byte) ([]BroadcastResult, error) {
	targets, err := r.resolveTargets(ctx, endPoint)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoLiveTarget
	}

	results := make([]BroadcastResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = BroadcastResult{Physical: t.physical, Err: r.transport.Send(ctx, t.physical, payload)}
		}(i, t)
	}
	wg.Wait()
	return results, nil
}
