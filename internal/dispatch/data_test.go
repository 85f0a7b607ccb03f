package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingMessage struct{ Text string }

func TestNewDataRoundTrip(t *testing.T) {
	d, err := NewData(pingMessage{Text: "hi"}, map[string]interface{}{"trace-id": "abc"})
	require.NoError(t, err)

	again, err := NewData(d.Message(), d.data)
	require.NoError(t, err)

	// spec.md §8 invariant 3: round-trip equality of Get for every key.
	for _, k := range d.Keys() {
		assert.Equal(t, d.Get(k), again.Get(k))
	}
}

func TestNewDataRejectsNilMessage(t *testing.T) {
	_, err := NewData(nil, nil)
	assert.Error(t, err)
}

func TestDataGetMissingKeyReturnsNilNotPanic(t *testing.T) {
	d, err := NewData(pingMessage{}, nil)
	require.NoError(t, err)
	assert.Nil(t, d.Get("missing"))
}

func TestDataWithDataMerges(t *testing.T) {
	d, err := NewData(pingMessage{}, map[string]interface{}{"a": 1})
	require.NoError(t, err)

	merged := d.WithData(map[string]interface{}{"b": 2, "a": 3})
	assert.Equal(t, 3, merged.Get("a"))
	assert.Equal(t, 2, merged.Get("b"))
	assert.Equal(t, 1, d.Get("a"), "original envelope must stay immutable")
}
