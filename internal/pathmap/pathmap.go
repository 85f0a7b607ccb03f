// Package pathmap implements the Path Mapper / Properties Lookup (N): a
// small read-mostly registry mapping HTTP path prefixes to the end-point
// address they route to, and each module to the set of prefixes and
// end-points it owns. Entries are added through Register; nothing in nexus
// outside this package's tests calls it, so the map internal/app creates
// stays empty.
package pathmap

import (
	"sort"
	"sync"

	"nexus/internal/addressing"
	"nexus/internal/module"
)

// Entry is one path-prefix registration.
type Entry struct {
	Prefix   string
	EndPoint addressing.EndPointAddress
	Module   module.ReleaseIdentifier
}

// Map is the process-wide path-prefix -> end-point lookup, and its
// inverse, module -> owned (prefixes, end-points).
type Map struct {
	mu       sync.RWMutex
	byPrefix map[string]Entry
	byModule map[module.ReleaseIdentifier]map[string]Entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		byPrefix: make(map[string]Entry),
		byModule: make(map[module.ReleaseIdentifier]map[string]Entry),
	}
}

// Register associates prefix with endPoint for release, overwriting any
// prior registration of the same prefix.
func (m *Map) Register(release module.ReleaseIdentifier, prefix string, endPoint addressing.EndPointAddress) {
	entry := Entry{Prefix: prefix, EndPoint: endPoint, Module: release}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPrefix[prefix] = entry
	if m.byModule[release] == nil {
		m.byModule[release] = make(map[string]Entry)
	}
	m.byModule[release][prefix] = entry
}

// UnregisterModule removes every prefix owned by release, e.g. when the
// Module Supervisor disposes of it.
func (m *Map) UnregisterModule(release module.ReleaseIdentifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix := range m.byModule[release] {
		delete(m.byPrefix, prefix)
	}
	delete(m.byModule, release)
}

// Resolve returns the end-point registered for the longest matching
// prefix of path, if any.
func (m *Map) Resolve(path string) (addressing.EndPointAddress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	var bestEntry Entry
	found := false
	for prefix, entry := range m.byPrefix {
		if len(prefix) > len(path) {
			continue
		}
		if path[:len(prefix)] != prefix {
			continue
		}
		if len(prefix) > len(best) {
			best = prefix
			bestEntry = entry
			found = true
		}
	}
	if !found {
		return addressing.Unknown, false
	}
	return bestEntry.EndPoint, true
}

// ModuleProperties is release's currently published (prefixes, end-points).
func (m *Map) ModuleProperties(release module.ReleaseIdentifier) (prefixes []string, endPoints []addressing.EndPointAddress) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.byModule[release]
	prefixes = make([]string, 0, len(entries))
	endPoints = make([]addressing.EndPointAddress, 0, len(entries))
	for prefix, entry := range entries {
		prefixes = append(prefixes, prefix)
		endPoints = append(endPoints, entry.EndPoint)
	}
	sort.Strings(prefixes)
	return prefixes, endPoints
}
