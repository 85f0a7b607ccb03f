package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver is an in-memory DependencyResolver over a fixed catalog.
type fakeResolver struct {
	releases map[Identifier][]ReleaseIdentifier
	deps     map[ReleaseIdentifier]map[Identifier]VersionRange
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		releases: make(map[Identifier][]ReleaseIdentifier),
		deps:     make(map[ReleaseIdentifier]map[Identifier]VersionRange),
	}
}

func (f *fakeResolver) addRelease(release ReleaseIdentifier, deps map[Identifier]VersionRange) {
	f.releases[release.Module] = append(f.releases[release.Module], release)
	f.deps[release] = deps
}

func (f *fakeResolver) GetMatchingReleases(ctx context.Context, module Identifier, rng VersionRange) ([]ReleaseIdentifier, error) {
	var out []ReleaseIdentifier
	for _, r := range f.releases[module] {
		if rng.Contains(r.Version) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeResolver) GetDependencies(ctx context.Context, release ReleaseIdentifier) (map[Identifier]VersionRange, error) {
	return f.deps[release], nil
}

func mustVersion(t *testing.T, s string) Version {
	t.Helper()
	v, err := ParseVersion(s)
	require.NoError(t, err)
	return v
}

func TestPlanPicksHighestStableVersion(t *testing.T) {
	r := newFakeResolver()
	r.addRelease(ReleaseIdentifier{Module: "a", Version: mustVersion(t, "1.0.0")}, nil)
	r.addRelease(ReleaseIdentifier{Module: "a", Version: mustVersion(t, "2.0.0")}, nil)
	r.addRelease(ReleaseIdentifier{Module: "a", Version: mustVersion(t, "2.1.0-pre.1")}, nil)

	p := NewPlanner(r)
	desired := UnresolvedInstallationSet{"a": AtLeast(mustVersion(t, "1.0.0"))}

	set, ok, err := p.Plan(context.Background(), desired)
	require.NoError(t, err)
	require.True(t, ok)

	releases := set.Releases()
	require.Len(t, releases, 1)
	assert.Equal(t, "2.0.0", releases[0].Version.String())
}

func TestPlanPropagatesTransitiveDependencies(t *testing.T) {
	r := newFakeResolver()
	r.addRelease(ReleaseIdentifier{Module: "app", Version: mustVersion(t, "1.0.0")}, map[Identifier]VersionRange{
		"lib": AtLeast(mustVersion(t, "1.0.0")),
	})
	r.addRelease(ReleaseIdentifier{Module: "lib", Version: mustVersion(t, "1.0.0")}, map[Identifier]VersionRange{
		"core": AtLeast(mustVersion(t, "1.0.0")),
	})
	r.addRelease(ReleaseIdentifier{Module: "lib", Version: mustVersion(t, "2.0.0")}, map[Identifier]VersionRange{
		"core": AtLeast(mustVersion(t, "1.0.0")),
	})
	r.addRelease(ReleaseIdentifier{Module: "core", Version: mustVersion(t, "1.0.0")}, nil)

	p := NewPlanner(r)
	desired := UnresolvedInstallationSet{"app": Exactly(mustVersion(t, "1.0.0"))}

	set, ok, err := p.Plan(context.Background(), desired)
	require.NoError(t, err)
	require.True(t, ok)

	releases := set.Releases()
	require.Len(t, releases, 3)
	assert.True(t, set.Contains(ReleaseIdentifier{Module: "core", Version: mustVersion(t, "1.0.0")}))
	assert.True(t, set.Contains(ReleaseIdentifier{Module: "lib", Version: mustVersion(t, "2.0.0")}))
}

// TestPlanConflictYieldsNoCandidate covers spec.md §8 scenario S6:
// a dependency conflict between two required modules' ranges over a
// shared transitive dependency yields zero candidates.
func TestPlanConflictYieldsNoCandidate(t *testing.T) {
	r := newFakeResolver()
	r.addRelease(ReleaseIdentifier{Module: "a", Version: mustVersion(t, "1.0.0")}, map[Identifier]VersionRange{
		"shared": Exactly(mustVersion(t, "1.0.0")),
	})
	r.addRelease(ReleaseIdentifier{Module: "b", Version: mustVersion(t, "1.0.0")}, map[Identifier]VersionRange{
		"shared": Exactly(mustVersion(t, "2.0.0")),
	})
	r.addRelease(ReleaseIdentifier{Module: "shared", Version: mustVersion(t, "1.0.0")}, nil)
	r.addRelease(ReleaseIdentifier{Module: "shared", Version: mustVersion(t, "2.0.0")}, nil)

	p := NewPlanner(r)
	desired := UnresolvedInstallationSet{
		"a": Exactly(mustVersion(t, "1.0.0")),
		"b": Exactly(mustVersion(t, "1.0.0")),
	}

	_, ok, err := p.Plan(context.Background(), desired)
	require.NoError(t, err)
	assert.False(t, ok, "conflicting shared dependency ranges must yield no candidate")
}

func TestPlanNoMatchingReleaseYieldsNoCandidate(t *testing.T) {
	r := newFakeResolver()
	r.addRelease(ReleaseIdentifier{Module: "a", Version: mustVersion(t, "1.0.0")}, nil)

	p := NewPlanner(r)
	desired := UnresolvedInstallationSet{"a": AtLeast(mustVersion(t, "2.0.0"))}

	_, ok, err := p.Plan(context.Background(), desired)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolvedInstallationSetTotalOrder(t *testing.T) {
	set := NewResolvedInstallationSet([]ReleaseIdentifier{
		{Module: "z", Version: mustVersion(t, "1.0.0")},
		{Module: "a", Version: mustVersion(t, "2.0.0")},
		{Module: "b", Version: mustVersion(t, "2.0.0-pre.3")},
	})
	releases := set.Releases()
	require.Len(t, releases, 3)
	assert.Equal(t, Identifier("a"), releases[0].Module) // 2.0.0 stable, highest
	assert.Equal(t, Identifier("b"), releases[1].Module) // 2.0.0-pre.3
	assert.Equal(t, Identifier("z"), releases[2].Module) // 1.0.0
}

func TestDiffComputesStartAndStop(t *testing.T) {
	current := NewResolvedInstallationSet([]ReleaseIdentifier{
		{Module: "a", Version: mustVersion(t, "1.0.0")},
		{Module: "b", Version: mustVersion(t, "1.0.0")},
	})
	desired := NewResolvedInstallationSet([]ReleaseIdentifier{
		{Module: "a", Version: mustVersion(t, "1.0.0")},
		{Module: "c", Version: mustVersion(t, "1.0.0")},
	})

	toStart, toStop := Diff(current, desired)
	require.Len(t, toStart, 1)
	assert.Equal(t, Identifier("c"), toStart[0].Module)
	require.Len(t, toStop, 1)
	assert.Equal(t, Identifier("b"), toStop[0].Module)
}
