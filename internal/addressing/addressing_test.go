package addressing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndPointAddressEquality(t *testing.T) {
	a := EndPointAddressFromString("billing")
	b := EndPointAddressFromString("billing")
	c := EndPointAddressFromString("inventory")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.IsUnknown())
	assert.True(t, Unknown.IsUnknown())
}

func TestEndPointAddressStringRoundTrip(t *testing.T) {
	a := EndPointAddressFromString("billing")
	assert.Equal(t, "billing", a.String())

	raw := NewEndPointAddress([]byte{0x00, 0xff, 0x10})
	assert.NotEqual(t, "", raw.String())
}

func TestSessionUniqueAndEqual(t *testing.T) {
	phys := PhysicalAddressFromString("127.0.0.1:9631")
	s1, err := NewSession(phys)
	require.NoError(t, err)
	s2, err := NewSession(phys)
	require.NoError(t, err)

	assert.False(t, s1.Equal(s2), "two freshly generated sessions must differ")
	assert.True(t, s1.Equal(s1))
	assert.NotEmpty(t, s1.ID())
}

func TestEntryPathParentChild(t *testing.T) {
	p := NewEntryPath("routes", "billing", "abcd1234")
	assert.Equal(t, "/routes/billing/abcd1234", p.String())

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "/routes/billing", parent.String())

	child := parent.Child("abcd1234")
	assert.True(t, child.Equal(p))

	_, ok = EntryPath{}.Parent()
	assert.False(t, ok)
}

func TestParseEntryPath(t *testing.T) {
	p := ParseEntryPath("/routes/billing/abcd1234")
	assert.Equal(t, []string{"routes", "billing", "abcd1234"}, p.Segments())
}

func TestRoutesAndTypesPaths(t *testing.T) {
	ep := EndPointAddressFromString("billing")
	assert.Equal(t, "/routes/billing/abcd", RoutesPath(ep, "abcd").String())
	assert.Equal(t, "/routes/billing", RoutesPath(ep, "").String())
	assert.Equal(t, "/types/Ping/billing", TypesPath("Ping", ep).String())
}
