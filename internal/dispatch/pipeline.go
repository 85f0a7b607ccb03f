package dispatch

import (
	"context"
	"fmt"

	"nexus/internal/dependency"
)

// Next invokes the remainder of the processor chain (or the handler, for
// the last processor). It must be called at most once by a given
// invocation of Process; a double call is a programming error and panics,
// matching spec.md §4.6's "fatal programming error".
type Next func(ctx context.Context) Result

// Processor is one link of the pipeline. A processor may short-circuit by
// returning a result without calling next.
type Processor interface {
	Process(ctx context.Context, data Data, next Next) Result
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, data Data, next Next) Result

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, data Data, next Next) Result {
	return f(ctx, data, next)
}

// ProcessorRegistration pairs a named processor with the predicate that
// places it in the dependency-ordered chain: DependsOn(other) == true
// means "this processor must run after other".
type ProcessorRegistration struct {
	Name      string
	Processor Processor
	DependsOn func(other ProcessorRegistration) bool
}

// Pipeline holds the set of registered processors and computes the
// dependency-ordered chain for each dispatch.
type Pipeline struct {
	registrations []ProcessorRegistration
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Register adds a processor registration. Registration order does not
// affect the chain: processors with no dependency relationship to each
// other are ordered by name.
func (p *Pipeline) Register(reg ProcessorRegistration) error {
	if reg.Name == "" {
		return fmt.Errorf("dispatch: processor registration requires a name")
	}
	if reg.Processor == nil {
		return fmt.Errorf("dispatch: processor registration %q has no Processor", reg.Name)
	}
	p.registrations = append(p.registrations, reg)
	return nil
}

// order computes the dependency-respecting invocation order for the
// currently registered processors. A cycle in the dependency predicates is
// fatal, per spec.md §4.6.
func (p *Pipeline) order() ([]ProcessorRegistration, error) {
	byName := make(map[string]ProcessorRegistration, len(p.registrations))
	g := dependency.New()

	for _, reg := range p.registrations {
		byName[reg.Name] = reg
	}
	for _, reg := range p.registrations {
		var deps []dependency.NodeID
		if reg.DependsOn != nil {
			for _, other := range p.registrations {
				if other.Name == reg.Name {
					continue
				}
				if reg.DependsOn(other) {
					deps = append(deps, dependency.NodeID(other.Name))
				}
			}
		}
		g.AddNode(dependency.Node{ID: dependency.NodeID(reg.Name), Kind: dependency.KindProcessor, DependsOn: deps})
	}

	order, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("dispatch: processor pipeline has an unsatisfiable dependency order: %w", err)
	}

	ordered := make([]ProcessorRegistration, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byName[string(id)])
	}
	return ordered, nil
}

// Invoke builds the chain p1 -> p2 -> ... -> handler and runs it, returning
// the handler's result (or whichever processor short-circuited).
func (p *Pipeline) Invoke(ctx context.Context, data Data, handler func(ctx context.Context, data Data) Result) (Result, error) {
	ordered, err := p.order()
	if err != nil {
		return nil, err
	}

	chain := func(ctx context.Context) Result { return handler(ctx, data) }
	for i := len(ordered) - 1; i >= 0; i-- {
		chain = wrapProcessor(ordered[i].Processor, data, chain)
	}

	return chain(ctx), nil
}

func wrapProcessor(proc Processor, data Data, rest Next) Next {
	return func(ctx context.Context) Result {
		called := false
		next := func(ctx context.Context) Result {
			if called {
				panic("dispatch: processor invoked next() more than once")
			}
			called = true
			return rest(ctx)
		}
		return proc.Process(ctx, data, next)
	}
}
