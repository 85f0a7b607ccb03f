package module

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"runtime"
)

// manifestWire mirrors module.json's on-disk field names (spec.md §6:
// module/version/release-date/name/description/author/entry-command/
// entry-arguments/dependencies, plus checksum/platforms) before they're
// parsed into Metadata's richer Identifier/Version/VersionRange types.
type manifestWire struct {
	Module         string            `json:"module"`
	Version        string            `json:"version"`
	ReleaseDate    string            `json:"release-date"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Author         string            `json:"author"`
	EntryCommand   string            `json:"entry-command"`
	EntryArguments string            `json:"entry-arguments"`
	Dependencies   map[string]string `json:"dependencies"`
	Checksum       string            `json:"checksum,omitempty"`
	Platforms      []string          `json:"platforms,omitempty"`
}

// ParseMetadata parses a module.json manifest.
func ParseMetadata(raw []byte) (Metadata, error) {
	var wire manifestWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Metadata{}, fmt.Errorf("parsing module.json: %w", err)
	}

	if wire.Module == "" {
		return Metadata{}, fmt.Errorf("module.json: missing module")
	}
	version, err := ParseVersion(wire.Version)
	if err != nil {
		return Metadata{}, fmt.Errorf("module.json: version: %w", err)
	}

	deps := make(map[Identifier]VersionRange, len(wire.Dependencies))
	for id, constraint := range wire.Dependencies {
		rng, err := ParseVersionRange(constraint)
		if err != nil {
			return Metadata{}, fmt.Errorf("module.json: dependency %q: %w", id, err)
		}
		deps[Identifier(id)] = rng
	}

	return Metadata{
		Module:         Identifier(wire.Module),
		Version:        version,
		ReleaseDate:    wire.ReleaseDate,
		Name:           wire.Name,
		Description:    wire.Description,
		Author:         wire.Author,
		EntryCommand:   wire.EntryCommand,
		EntryArguments: wire.EntryArguments,
		Dependencies:   deps,
		Checksum:       wire.Checksum,
		Platforms:      wire.Platforms,
	}, nil
}

// SupportsHostPlatform reports whether m declares support for the
// running GOOS/GOARCH, per SPEC_FULL.md's platforms field: an installer
// refuses to install a release whose platforms doesn't include the
// host's. An empty Platforms list means the manifest didn't declare any
// restriction, so every platform is accepted.
func (m Metadata) SupportsHostPlatform() bool {
	if len(m.Platforms) == 0 {
		return true
	}
	host := runtime.GOOS + "/" + runtime.GOARCH
	for _, p := range m.Platforms {
		if p == host {
			return true
		}
	}
	return false
}

// MarshalManifest renders m back to module.json's wire format, so the
// installer can persist the manifest it fetched alongside the extracted
// release and recover it on a later startup adoption scan without
// re-fetching from the catalog.
func (m Metadata) MarshalManifest() ([]byte, error) {
	deps := make(map[string]string, len(m.Dependencies))
	for id, rng := range m.Dependencies {
		deps[string(id)] = rng.String()
	}
	wire := manifestWire{
		Module:         string(m.Module),
		Version:        m.Version.String(),
		ReleaseDate:    m.ReleaseDate,
		Name:           m.Name,
		Description:    m.Description,
		Author:         m.Author,
		EntryCommand:   m.EntryCommand,
		EntryArguments: m.EntryArguments,
		Dependencies:   deps,
		Checksum:       m.Checksum,
		Platforms:      m.Platforms,
	}
	raw, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling module.json: %w", err)
	}
	return raw, nil
}

// VerifyChecksum reports whether the sha256 of archive matches m's
// declared Checksum. A Metadata with no Checksum set is treated as
// unverifiable and always fails, since an unpinned archive can't be
// trusted.
func (m Metadata) VerifyChecksum(archive []byte) error {
	if m.Checksum == "" {
		return fmt.Errorf("metadata: module.json declares no checksum")
	}
	sum := sha256.Sum256(archive)
	got := hex.EncodeToString(sum[:])
	if got != m.Checksum {
		return fmt.Errorf("metadata: checksum mismatch: manifest declares %s, archive is %s", m.Checksum, got)
	}
	return nil
}
