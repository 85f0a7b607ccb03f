package module

import (
	"context"
	"fmt"
	"sort"

	"nexus/pkg/logging"
)

const plannerSubsystem = "Planner"

// DependencyResolver is the Planner's (M) data source: it knows which
// releases exist for a module and what each release directly depends on.
// internal/app wires this against the module Catalog.
type DependencyResolver interface {
	// GetMatchingReleases returns every known release of module satisfying
	// rng, in no particular order.
	GetMatchingReleases(ctx context.Context, module Identifier, rng VersionRange) ([]ReleaseIdentifier, error)
	// GetDependencies returns release's direct dependencies.
	GetDependencies(ctx context.Context, release ReleaseIdentifier) (map[Identifier]VersionRange, error)
}

// Planner performs backtracking depth-first search with range narrowing
// and memoization by unresolved-frontier, per spec.md §4.11, producing
// zero or more ResolvedInstallationSet candidates consistent with an
// UnresolvedInstallationSet. A module already chosen is re-checked against
// its narrowed range rather than searched again; modules whose range
// admits a single version are not resolved ahead of the frontier order.
type Planner struct {
	resolver DependencyResolver
}

// NewPlanner builds a Planner backed by resolver.
func NewPlanner(resolver DependencyResolver) *Planner {
	return &Planner{resolver: resolver}
}

// Plan searches for a ResolvedInstallationSet satisfying desired. It
// returns the first candidate under the total order (highest stable
// version, then highest pre-release ordinal, then lexicographic module id)
// among those found, or ok=false if the search space is exhausted with no
// consistent assignment — spec.md §8 scenario S6's "dependency conflict
// yields zero candidates".
func (p *Planner) Plan(ctx context.Context, desired UnresolvedInstallationSet) (ResolvedInstallationSet, bool, error) {
	frontier := make([]Identifier, 0, len(desired))
	for id := range desired {
		frontier = append(frontier, id)
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })

	s := &search{
		resolver: p.resolver,
		ranges:   cloneRanges(desired),
		chosen:   make(map[Identifier]ReleaseIdentifier),
		memo:     make(map[string]bool),
	}

	candidates := [][]ReleaseIdentifier{}
	if err := s.assign(ctx, frontier, &candidates); err != nil {
		return ResolvedInstallationSet{}, false, err
	}
	if len(candidates) == 0 {
		return ResolvedInstallationSet{}, false, nil
	}

	best := NewResolvedInstallationSet(candidates[0])
	for _, c := range candidates[1:] {
		set := NewResolvedInstallationSet(c)
		if setLess(set, best) {
			best = set
		}
	}
	return best, true, nil
}

// search carries the mutable state of one depth-first traversal.
type search struct {
	resolver DependencyResolver
	ranges   map[Identifier]VersionRange
	chosen   map[Identifier]ReleaseIdentifier
	memo     map[string]bool // frontier key -> already explored to exhaustion, no candidates
}

// assign resolves the first module in frontier to each of its matching
// releases in turn, propagating that release's dependencies as additional
// (or narrowed) range constraints before recursing into the remainder of
// the frontier. Every full, consistent assignment is appended to *out.
func (s *search) assign(ctx context.Context, frontier []Identifier, out *[][]ReleaseIdentifier) error {
	if len(frontier) == 0 {
		assignment := make([]ReleaseIdentifier, 0, len(s.chosen))
		for _, release := range s.chosen {
			assignment = append(assignment, release)
		}
		*out = append(*out, assignment)
		return nil
	}

	key := frontierKey(frontier, s.chosen)
	if s.memo[key] {
		return nil
	}

	module := frontier[0]
	rest := frontier[1:]

	if existing, ok := s.chosen[module]; ok {
		rng := s.ranges[module]
		if !rng.Contains(existing.Version) {
			s.memo[key] = true
			return nil
		}
		return s.assign(ctx, rest, out)
	}

	rng := s.ranges[module]
	releases, err := s.resolver.GetMatchingReleases(ctx, module, rng)
	if err != nil {
		return fmt.Errorf("module: resolving releases for %s: %w", module, err)
	}
	sort.Slice(releases, func(i, j int) bool { return releaseLess(releases[i], releases[j]) })

	before := len(*out)
	for _, release := range releases {
		deps, err := s.resolver.GetDependencies(ctx, release)
		if err != nil {
			return fmt.Errorf("module: resolving dependencies of %s: %w", release, err)
		}

		savedRanges := cloneRanges(s.ranges)
		conflict := false
		nextFrontier := append([]Identifier(nil), rest...)
		for dep, depRange := range deps {
			if cur, ok := s.ranges[dep]; ok {
				merged, ok := intersect(cur, depRange)
				if !ok {
					conflict = true
					break
				}
				s.ranges[dep] = merged
			} else {
				s.ranges[dep] = depRange
			}
			if _, already := s.chosen[dep]; !already {
				nextFrontier = append(nextFrontier, dep)
			}
		}

		if !conflict {
			s.chosen[module] = release
			sort.Slice(nextFrontier, func(i, j int) bool { return nextFrontier[i] < nextFrontier[j] })
			if err := s.assign(ctx, dedupeFrontier(nextFrontier), out); err != nil {
				return err
			}
			delete(s.chosen, module)
		}

		s.ranges = savedRanges
	}

	if len(*out) == before {
		s.memo[key] = true
		logging.Debug(plannerSubsystem, "no consistent release of %s extends current assignment", module)
	}
	return nil
}

func dedupeFrontier(frontier []Identifier) []Identifier {
	seen := make(map[Identifier]bool, len(frontier))
	out := frontier[:0]
	for _, id := range frontier {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func frontierKey(frontier []Identifier, chosen map[Identifier]ReleaseIdentifier) string {
	key := ""
	for _, id := range frontier {
		key += string(id) + ";"
	}
	for id, release := range chosen {
		key += string(id) + "=" + release.String() + ";"
	}
	return key
}

func cloneRanges(src map[Identifier]VersionRange) map[Identifier]VersionRange {
	dst := make(map[Identifier]VersionRange, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// intersect narrows a to the overlap with b. ok is false if the ranges
// share no version, the dependency-conflict case driving scenario S6.
func intersect(a, b VersionRange) (VersionRange, bool) {
	if a.ExactPin && b.ExactPin {
		if a.Min.Equal(b.Min) {
			return a, true
		}
		return VersionRange{}, false
	}
	if a.ExactPin {
		if b.Contains(a.Min) {
			return a, true
		}
		return VersionRange{}, false
	}
	if b.ExactPin {
		if a.Contains(b.Min) {
			return b, true
		}
		return VersionRange{}, false
	}

	merged := a
	if b.Min.Less(merged.Min) {
		// merged.Min stays a.Min, the higher lower-bound
	} else {
		merged.Min = b.Min
	}
	if b.HasMax && (!merged.HasMax || b.Max.Less(merged.Max)) {
		merged.HasMax = true
		merged.Max = b.Max
	}
	if merged.HasMax && merged.Max.Less(merged.Min) {
		return VersionRange{}, false
	}
	return merged, true
}

// setLess orders two ResolvedInstallationSet candidates by the planner's
// total order, comparing member releases pairwise in total order and
// preferring a stable release over a pre-release at each position.
func setLess(a, b ResolvedInstallationSet) bool {
	ar, br := a.Releases(), b.Releases()
	n := len(ar)
	if len(br) < n {
		n = len(br)
	}
	for i := 0; i < n; i++ {
		if ar[i].Version.Stable != br[i].Version.Stable {
			return ar[i].Version.Stable
		}
		if releaseLess(ar[i], br[i]) {
			return true
		}
		if releaseLess(br[i], ar[i]) {
			return false
		}
	}
	return len(ar) < len(br)
}
