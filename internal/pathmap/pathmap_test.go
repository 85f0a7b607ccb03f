package pathmap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nexus/internal/addressing"
	"nexus/internal/module"
)

func TestResolveMatchesLongestPrefix(t *testing.T) {
	m := New()
	release := module.ReleaseIdentifier{Module: "billing", Version: module.Version{Major: 1}}
	billing := addressing.EndPointAddressFromString("billing")
	billingV2 := addressing.EndPointAddressFromString("billing-v2")

	m.Register(release, "/api/billing", billing)
	m.Register(release, "/api/billing/v2", billingV2)

	resolved, ok := m.Resolve("/api/billing/v2/invoices")
	assert.True(t, ok)
	assert.True(t, resolved.Equal(billingV2))

	resolved, ok = m.Resolve("/api/billing/invoices")
	assert.True(t, ok)
	assert.True(t, resolved.Equal(billing))
}

func TestResolveNoMatchReturnsUnknown(t *testing.T) {
	m := New()
	_, ok := m.Resolve("/nowhere")
	assert.False(t, ok)
}

func TestUnregisterModuleRemovesAllItsPrefixes(t *testing.T) {
	m := New()
	release := module.ReleaseIdentifier{Module: "billing", Version: module.Version{Major: 1}}
	m.Register(release, "/api/billing", addressing.EndPointAddressFromString("billing"))
	m.Register(release, "/api/billing/admin", addressing.EndPointAddressFromString("billing-admin"))

	m.UnregisterModule(release)

	_, ok := m.Resolve("/api/billing")
	assert.False(t, ok)
	prefixes, endPoints := m.ModuleProperties(release)
	assert.Empty(t, prefixes)
	assert.Empty(t, endPoints)
}

func TestModulePropertiesListsOwnedPrefixes(t *testing.T) {
	m := New()
	release := module.ReleaseIdentifier{Module: "billing", Version: module.Version{Major: 1}}
	m.Register(release, "/api/billing", addressing.EndPointAddressFromString("billing"))
	m.Register(release, "/api/billing/admin", addressing.EndPointAddressFromString("billing-admin"))

	prefixes, endPoints := m.ModuleProperties(release)
	assert.Equal(t, []string{"/api/billing", "/api/billing/admin"}, prefixes)
	assert.Len(t, endPoints, 2)
}
