package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineOrdersByDependency(t *testing.T) {
	p := NewPipeline()
	var order []string

	record := func(name string) Processor {
		return ProcessorFunc(func(ctx context.Context, d Data, next Next) Result {
			order = append(order, name)
			return next(ctx)
		})
	}

	require.NoError(t, p.Register(ProcessorRegistration{Name: "auth", Processor: record("auth")}))
	require.NoError(t, p.Register(ProcessorRegistration{
		Name: "logging", Processor: record("logging"),
		DependsOn: func(other ProcessorRegistration) bool { return other.Name == "auth" },
	}))
	require.NoError(t, p.Register(ProcessorRegistration{
		Name: "metrics", Processor: record("metrics"),
		DependsOn: func(other ProcessorRegistration) bool { return other.Name == "logging" },
	}))

	d, err := NewData(pingMessage{}, nil)
	require.NoError(t, err)

	result, err := p.Invoke(context.Background(), d, func(ctx context.Context, d Data) Result {
		order = append(order, "handler")
		return NewSuccess("")
	})
	require.NoError(t, err)
	assert.True(t, result.IsSuccess())
	assert.Equal(t, []string{"auth", "logging", "metrics", "handler"}, order)
}

func TestPipelineShortCircuit(t *testing.T) {
	p := NewPipeline()
	handlerCalled := false

	require.NoError(t, p.Register(ProcessorRegistration{
		Name: "gate",
		Processor: ProcessorFunc(func(ctx context.Context, d Data, next Next) Result {
			return NewNotAuthorized("nope")
		}),
	}))

	d, err := NewData(pingMessage{}, nil)
	require.NoError(t, err)

	result, err := p.Invoke(context.Background(), d, func(ctx context.Context, d Data) Result {
		handlerCalled = true
		return NewSuccess("")
	})
	require.NoError(t, err)
	assert.False(t, handlerCalled, "handler must not run after a processor short-circuits")
	assert.Equal(t, "nope", result.Message())
}

func TestPipelineRejectsCyclicDependency(t *testing.T) {
	p := NewPipeline()
	noop := ProcessorFunc(func(ctx context.Context, d Data, next Next) Result { return next(ctx) })

	require.NoError(t, p.Register(ProcessorRegistration{
		Name: "a", Processor: noop,
		DependsOn: func(other ProcessorRegistration) bool { return other.Name == "b" },
	}))
	require.NoError(t, p.Register(ProcessorRegistration{
		Name: "b", Processor: noop,
		DependsOn: func(other ProcessorRegistration) bool { return other.Name == "a" },
	}))

	d, err := NewData(pingMessage{}, nil)
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), d, func(ctx context.Context, d Data) Result { return NewSuccess("") })
	assert.Error(t, err)
}

func TestNextCalledTwicePanics(t *testing.T) {
	p := NewPipeline()
	require.NoError(t, p.Register(ProcessorRegistration{
		Name: "double",
		Processor: ProcessorFunc(func(ctx context.Context, d Data, next Next) Result {
			next(ctx)
			return next(ctx)
		}),
	}))

	d, err := NewData(pingMessage{}, nil)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = p.Invoke(context.Background(), d, func(ctx context.Context, d Data) Result { return NewSuccess("") })
	})
}
