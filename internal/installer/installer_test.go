package installer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/module"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []module.ReleaseIdentifier
}

func (f *fakeFetcher) Fetch(ctx context.Context, release module.ReleaseIdentifier, dir string) (module.Metadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, release)
	f.mu.Unlock()
	return module.Metadata{Module: release.Module, Version: release.Version, Name: string(release.Module)}, nil
}

type fakeSupervisor struct {
	mu       sync.Mutex
	started  bool
	disposed bool
}

func (s *fakeSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeSupervisor) Dispose(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	return nil
}

func (s *fakeSupervisor) State() module.SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return module.StateShutdown
	}
	if s.started {
		return module.StateRunning
	}
	return module.StateInitializing
}

func mustV(t *testing.T, v string) module.Version {
	t.Helper()
	parsed, err := module.ParseVersion(v)
	require.NoError(t, err)
	return parsed
}

func newTestManager(t *testing.T, fetcher *fakeFetcher, supervisors map[module.ReleaseIdentifier]*fakeSupervisor) *Manager {
	t.Helper()
	var mu sync.Mutex
	factory := func(release module.ReleaseIdentifier, meta module.Metadata, dir string) Supervisor {
		mu.Lock()
		defer mu.Unlock()
		sup := &fakeSupervisor{}
		supervisors[release] = sup
		return sup
	}
	return NewManager(t.TempDir(), fetcher, factory, nil)
}

// TestConfigureInstallationSetStartsNewReleases covers spec.md §8
// scenario S5's "new supervisors started" half.
func TestConfigureInstallationSetStartsNewReleases(t *testing.T) {
	fetcher := &fakeFetcher{}
	supervisors := make(map[module.ReleaseIdentifier]*fakeSupervisor)
	m := newTestManager(t, fetcher, supervisors)

	resolved := module.NewResolvedInstallationSet([]module.ReleaseIdentifier{
		{Module: "m1", Version: mustV(t, "1.1.0")},
		{Module: "m2", Version: mustV(t, "2.0.0")},
	})

	require.NoError(t, m.ConfigureInstallationSet(context.Background(), resolved))

	assert.Len(t, supervisors, 2)
	for _, sup := range supervisors {
		assert.True(t, sup.started)
	}
	assert.ElementsMatch(t, resolved.Releases(), m.Current().Releases())
}

// TestConfigureInstallationSetStopsRemovedReleases covers scenario S5's
// "old supervisor disposed" half.
func TestConfigureInstallationSetStopsRemovedReleases(t *testing.T) {
	fetcher := &fakeFetcher{}
	supervisors := make(map[module.ReleaseIdentifier]*fakeSupervisor)
	m := newTestManager(t, fetcher, supervisors)

	old := module.ReleaseIdentifier{Module: "m1", Version: mustV(t, "1.0.0")}
	require.NoError(t, m.ConfigureInstallationSet(context.Background(), module.NewResolvedInstallationSet([]module.ReleaseIdentifier{old})))

	next := module.NewResolvedInstallationSet([]module.ReleaseIdentifier{
		{Module: "m1", Version: mustV(t, "1.1.0")},
		{Module: "m2", Version: mustV(t, "2.0.0")},
	})
	require.NoError(t, m.ConfigureInstallationSet(context.Background(), next))

	assert.True(t, supervisors[old].disposed)
	assert.ElementsMatch(t, next.Releases(), m.Current().Releases())
}

// TestConfigureInstallationSetIsIdempotent covers spec.md §8 invariant 8.
func TestConfigureInstallationSetIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	supervisors := make(map[module.ReleaseIdentifier]*fakeSupervisor)
	m := newTestManager(t, fetcher, supervisors)

	resolved := module.NewResolvedInstallationSet([]module.ReleaseIdentifier{
		{Module: "m1", Version: mustV(t, "1.0.0")},
	})

	require.NoError(t, m.ConfigureInstallationSet(context.Background(), resolved))
	before := m.Current().Releases()

	require.NoError(t, m.ConfigureInstallationSet(context.Background(), resolved))
	after := m.Current().Releases()

	assert.Equal(t, before, after)
	assert.Len(t, fetcher.calls, 1, "second reconcile with the same set must not re-fetch")
}

// TestAdoptRemovesStaleDirectoriesAndKeepsMatching covers spec.md §4.9's
// startup adoption behavior.
func TestAdoptRemovesStaleDirectoriesAndKeepsMatching(t *testing.T) {
	fetcher := &fakeFetcher{}
	supervisors := make(map[module.ReleaseIdentifier]*fakeSupervisor)
	m := newTestManager(t, fetcher, supervisors)

	kept := module.ReleaseIdentifier{Module: "m1", Version: mustV(t, "1.0.0")}
	stale := module.ReleaseIdentifier{Module: "m2", Version: mustV(t, "9.9.9")}

	require.NoError(t, writeDummyDir(t, m.installRoot, kept.String()))
	require.NoError(t, writeDummyDir(t, m.installRoot, stale.String()))

	resolved := module.NewResolvedInstallationSet([]module.ReleaseIdentifier{kept})
	err := m.Adopt(context.Background(), resolved, func(dir string) (module.Metadata, error) {
		return module.Metadata{Module: kept.Module, Version: kept.Version}, nil
	})
	require.NoError(t, err)

	assert.True(t, m.Current().Contains(kept))
	assert.NoDirExists(t, filepath.Join(m.installRoot, stale.String()))
}

func writeDummyDir(t *testing.T, root, name string) error {
	t.Helper()
	return os.MkdirAll(filepath.Join(root, name), 0o755)
}
