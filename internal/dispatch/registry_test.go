package dispatch

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderEvent struct{ ID string }

type Billable interface{ Amount() int }

func (orderEvent) Amount() int { return 0 }

func TestRegisterAndMatchExactType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(orderEvent{}, func(ctx context.Context) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, d Data) Result { return NewSuccess("") }), nil
	}, Configuration{})
	require.NoError(t, err)

	entries := r.matching(reflect.TypeOf(orderEvent{}))
	assert.Len(t, entries, 1)
}

func TestCancelRemovesRegistration(t *testing.T) {
	r := NewRegistry()
	reg, err := r.Register(orderEvent{}, func(ctx context.Context) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, d Data) Result { return NewSuccess("") }), nil
	}, Configuration{})
	require.NoError(t, err)

	reg.Cancel()
	entries := r.matching(reflect.TypeOf(orderEvent{}))
	assert.Empty(t, entries)
}

func TestMatchingOrdersExactBeforeInterface(t *testing.T) {
	r := NewRegistry()
	_, err := r.RegisterInterface((*Billable)(nil), func(ctx context.Context) (Handler, error) {
		return nil, nil
	}, Configuration{})
	require.NoError(t, err)
	_, err = r.Register(orderEvent{}, func(ctx context.Context) (Handler, error) {
		return nil, nil
	}, Configuration{})
	require.NoError(t, err)

	entries := r.matching(reflect.TypeOf(orderEvent{}))
	require.Len(t, entries, 2)
	assert.Equal(t, reflect.TypeOf(orderEvent{}), entries[0].msgType, "exact-type registration must come first")
}

func TestConfigurationLayering(t *testing.T) {
	cfg := NewConfiguration(
		map[string]interface{}{"retries": 1, "audit": true},
		map[string]interface{}{"retries": 3},
	)
	retries, ok := Get[int](cfg, "retries")
	require.True(t, ok)
	assert.Equal(t, 3, retries, "later layer must override earlier one")
	assert.True(t, cfg.IsEnabled("audit"))
	assert.False(t, cfg.IsEnabled("missing-feature"))
}
