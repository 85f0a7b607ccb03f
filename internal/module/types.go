// Package module defines the value types backing module installation and
// dependency resolution: module/version identifiers, version ranges, the
// resolved installation set, and the package metadata schema, plus the
// Dependency Resolver / Planner (M).
package module

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Identifier names a module independent of version, e.g. "billing-ui".
type Identifier string

// Version is a semver-like version with an optional pre-release ordinal;
// Stable is false for pre-release versions, which sort after all stable
// versions of the same Major.Minor.Patch.
type Version struct {
	Major, Minor, Patch int
	Stable              bool
	PreRelease          int
}

// ParseVersion parses "1.2.3" or "1.2.3-pre.4".
func ParseVersion(s string) (Version, error) {
	core := s
	pre := ""
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		core = s[:idx]
		pre = s[idx+1:]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("module: invalid version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("module: invalid version %q: %w", s, err)
		}
		nums[i] = n
	}
	v := Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Stable: pre == ""}
	if pre != "" {
		ordinal, err := strconv.Atoi(strings.TrimPrefix(pre, "pre."))
		if err != nil {
			return Version{}, fmt.Errorf("module: invalid pre-release ordinal in %q: %w", s, err)
		}
		v.PreRelease = ordinal
	}
	return v, nil
}

// String renders the version back to its canonical form.
func (v Version) String() string {
	core := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Stable {
		return core
	}
	return fmt.Sprintf("%s-pre.%d", core, v.PreRelease)
}

// Less orders versions per spec.md §3's total order: highest stable first,
// then highest pre-release ordinal within the same core version, then
// (handled by the caller at the ModuleReleaseIdentifier level) lexicographic
// module id as the final tie-break.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	if v.Patch != other.Patch {
		return v.Patch < other.Patch
	}
	if v.Stable != other.Stable {
		return other.Stable // a stable version of the same core is always greater
	}
	if v.Stable {
		return false
	}
	return v.PreRelease < other.PreRelease
}

// Equal reports exact equality.
func (v Version) Equal(other Version) bool {
	return v == other
}

// ReleaseIdentifier names one concrete, installable release.
type ReleaseIdentifier struct {
	Module  Identifier
	Version Version
}

// String renders "module@version", the install directory naming scheme.
func (r ReleaseIdentifier) String() string {
	return fmt.Sprintf("%s@%s", r.Module, r.Version)
}

// Equal reports exact equality.
func (r ReleaseIdentifier) Equal(other ReleaseIdentifier) bool {
	return r.Module == other.Module && r.Version.Equal(other.Version)
}

// VersionRange constrains acceptable versions for a dependency, e.g. "a
// minimum stable version, no upper bound" (the only shape spec.md's
// examples exercise: ">=1", "==1", "==2").
type VersionRange struct {
	Min      Version
	Max      Version
	HasMax   bool
	ExactPin bool
}

// AtLeast builds a range accepting any version >= min.
func AtLeast(min Version) VersionRange {
	return VersionRange{Min: min}
}

// Exactly builds a range accepting only pinned.
func Exactly(pinned Version) VersionRange {
	return VersionRange{Min: pinned, Max: pinned, HasMax: true, ExactPin: true}
}

// ParseVersionRange parses a module.json dependency constraint: ">=1.2.3"
// (AtLeast), "==1.2.3" or "=1.2.3" (Exactly), or a bare "1.2.3" (treated
// as Exactly, the implicit pin a manifest author most often means).
func ParseVersionRange(constraint string) (VersionRange, error) {
	switch {
	case strings.HasPrefix(constraint, ">="):
		v, err := ParseVersion(strings.TrimSpace(constraint[2:]))
		if err != nil {
			return VersionRange{}, err
		}
		return AtLeast(v), nil
	case strings.HasPrefix(constraint, "=="):
		v, err := ParseVersion(strings.TrimSpace(constraint[2:]))
		if err != nil {
			return VersionRange{}, err
		}
		return Exactly(v), nil
	case strings.HasPrefix(constraint, "="):
		v, err := ParseVersion(strings.TrimSpace(constraint[1:]))
		if err != nil {
			return VersionRange{}, err
		}
		return Exactly(v), nil
	default:
		v, err := ParseVersion(strings.TrimSpace(constraint))
		if err != nil {
			return VersionRange{}, fmt.Errorf("unrecognized version constraint %q: %w", constraint, err)
		}
		return Exactly(v), nil
	}
}

// String renders the range back to module.json's constraint syntax.
func (r VersionRange) String() string {
	if r.ExactPin {
		return "==" + r.Min.String()
	}
	return ">=" + r.Min.String()
}

// Contains reports whether v satisfies the range.
func (r VersionRange) Contains(v Version) bool {
	if r.ExactPin {
		return v.Equal(r.Min)
	}
	if v.Less(r.Min) {
		return false
	}
	if r.HasMax && r.Max.Less(v) {
		return false
	}
	return true
}

// UnresolvedInstallationSet is the desired state: a version range per
// directly required module.
type UnresolvedInstallationSet map[Identifier]VersionRange

// ResolvedInstallationSet is an immutable, totally ordered set of concrete
// releases, per spec.md §3. Construct via NewResolvedInstallationSet so the
// ordering invariant always holds.
type ResolvedInstallationSet struct {
	releases []ReleaseIdentifier
}

// NewResolvedInstallationSet builds a set from releases, sorted per the
// planner's total order (highest stable version, then highest pre-release
// ordinal, then lexicographic module id as the final tie-break — decided
// as the Open Question resolution for "which candidate is the first
// under the total order" per spec.md §4.11).
func NewResolvedInstallationSet(releases []ReleaseIdentifier) ResolvedInstallationSet {
	cp := append([]ReleaseIdentifier(nil), releases...)
	sort.Slice(cp, func(i, j int) bool { return releaseLess(cp[i], cp[j]) })
	return ResolvedInstallationSet{releases: cp}
}

func releaseLess(a, b ReleaseIdentifier) bool {
	if a.Version.Less(b.Version) {
		return false // higher version sorts first
	}
	if b.Version.Less(a.Version) {
		return true
	}
	return a.Module < b.Module
}

// Releases returns a copy of the set's members in total order.
func (s ResolvedInstallationSet) Releases() []ReleaseIdentifier {
	return append([]ReleaseIdentifier(nil), s.releases...)
}

// Contains reports whether release is a member.
func (s ResolvedInstallationSet) Contains(release ReleaseIdentifier) bool {
	for _, r := range s.releases {
		if r.Equal(release) {
			return true
		}
	}
	return false
}

// Diff computes toStart = desired - current and toStop = current - desired,
// per spec.md §4.9's reconciliation step.
func Diff(current, desired ResolvedInstallationSet) (toStart, toStop []ReleaseIdentifier) {
	for _, r := range desired.releases {
		if !current.Contains(r) {
			toStart = append(toStart, r)
		}
	}
	for _, r := range current.releases {
		if !desired.Contains(r) {
			toStop = append(toStop, r)
		}
	}
	return toStart, toStop
}

// SupervisorState is the Module Supervisor's state machine state, per
// spec.md §3/§4.10.
type SupervisorState int

const (
	StateInitializing SupervisorState = iota
	StateNotRunning
	StateRunning
	StateFailed
	StateShutdown
)

// String renders the state name for logs.
func (s SupervisorState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateNotRunning:
		return "NotRunning"
	case StateRunning:
		return "Running"
	case StateFailed:
		return "Failed"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Metadata is a module release's package metadata, per spec.md §6, plus
// Checksum and Platforms: fields this class of launcher's manifest
// conventions always carry but the distilled spec dropped (see
// internal/module/metadata.go).
type Metadata struct {
	Module         Identifier                  `json:"module"`
	Version        Version                     `json:"version"`
	ReleaseDate    string                      `json:"release-date"`
	Name           string                      `json:"name"`
	Description    string                      `json:"description"`
	Author         string                      `json:"author"`
	EntryCommand   string                      `json:"entry-command"`
	EntryArguments string                      `json:"entry-arguments"`
	Dependencies   map[Identifier]VersionRange `json:"dependencies"`
	Checksum       string                      `json:"checksum,omitempty"`
	Platforms      []string                    `json:"platforms,omitempty"`
}

// ReleaseIdentifier returns the identifier this metadata describes.
func (m Metadata) ReleaseIdentifier() ReleaseIdentifier {
	return ReleaseIdentifier{Module: m.Module, Version: m.Version}
}
