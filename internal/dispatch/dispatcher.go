package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"nexus/pkg/logging"
)

const subsystem = "Dispatch"

// Dispatcher is the local dispatcher (I): it resolves registrations from a
// Registry, runs each through a Pipeline, and combines results according
// to the publish/send semantics of spec.md §4.7.
type Dispatcher struct {
	registry *Registry
	pipeline *Pipeline
}

// NewDispatcher builds a dispatcher over registry and pipeline.
func NewDispatcher(registry *Registry, pipeline *Pipeline) *Dispatcher {
	return &Dispatcher{registry: registry, pipeline: pipeline}
}

// Dispatch resolves registrations for data's message type, and:
//   - if publish is true, invokes every matching registration concurrently
//     and aggregates their results (success iff all succeed);
//   - otherwise invokes registrations most-derived-first until one returns
//     a result other than NotDispatched, and returns that result; if none
//     matched, returns NotDispatched.
//
// The handler-set snapshot is taken once at entry (the registry's
// copy-on-write read), so a concurrent Cancel can never truncate the set
// this call already started dispatching to — see DESIGN.md's resolution
// of spec.md §9's third open question.
func (d *Dispatcher) Dispatch(ctx context.Context, data Data, publish bool) Result {
	matched := d.registry.matching(data.MessageType())
	if len(matched) == 0 {
		return NotDispatched
	}

	if publish {
		return d.dispatchPublish(ctx, data, matched)
	}
	return d.dispatchSend(ctx, data, matched)
}

func (d *Dispatcher) dispatchSend(ctx context.Context, data Data, matched []entry) Result {
	for _, e := range matched {
		result := d.invoke(ctx, data, e)
		if result != NotDispatched {
			return result
		}
	}
	return NotDispatched
}

func (d *Dispatcher) dispatchPublish(ctx context.Context, data Data, matched []entry) Result {
	results := make([]Result, len(matched))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range matched {
		i, e := i, e
		g.Go(func() error {
			results[i] = d.invoke(gctx, data, e)
			return nil
		})
	}
	// Handler failures are converted to Failure results, not errors; the
	// errgroup here only exists to fan the invocations out concurrently, so
	// Wait's error is always nil.
	_ = g.Wait()

	return NewAggregate(results)
}

func (d *Dispatcher) invoke(ctx context.Context, data Data, e entry) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(subsystem, nil, "handler for %s panicked: %v", e.msgType, r)
			result = NewFailure("handler panicked", nil)
		}
	}()

	handler, err := e.factory(ctx)
	if err != nil {
		return NewFailure("constructing handler", err)
	}

	out, err := d.pipeline.Invoke(ctx, data, func(ctx context.Context, data Data) Result {
		return handler.Handle(ctx, data)
	})
	if err != nil {
		// A processor pipeline ordering failure (cyclic dependency) is
		// fatal per spec.md §4.6/§7, not a result the caller should treat
		// as business logic; log it and surface as Failure so dispatch
		// itself never panics on misconfiguration.
		logging.Error(subsystem, err, "processor pipeline rejected registration")
		return NewFailure("processor pipeline misconfigured", err)
	}
	return out
}
