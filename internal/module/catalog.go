// Package module's catalog turns a configured set of GitHub repositories
// (one per module identifier) into the Planner's (M) DependencyResolver:
// it lists a repository's releases as module.ReleaseIdentifiers and reads
// each release's module.json manifest (the metadata.go format) to answer
// GetDependencies, using creativeprojects/go-selfupdate's Source
// abstraction for the actual GitHub/GitLab/Gitea traffic — the same
// library internal/module/fetch.go uses to download a release's archive.
package module

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/creativeprojects/go-selfupdate"

	"nexus/pkg/logging"
)

const catalogSubsystem = "Catalog"

// manifestAssetName is the filename nexus expects to find attached to a
// GitHub release alongside its platform archives, carrying the release's
// module.json so the Planner can read dependencies without downloading
// and extracting the full archive first.
const manifestAssetName = "module.json"

// Catalog resolves a fixed set of module identifiers to GitHub (or
// GitLab/Gitea — anything creativeprojects/go-selfupdate's Source
// abstracts over) repositories, and answers the Planner's (M)
// DependencyResolver queries against those repositories' releases.
type Catalog struct {
	source selfupdate.Source
	repos  map[Identifier]string // module id -> "owner/repo" slug

	mu        sync.Mutex
	manifests map[ReleaseIdentifier]Metadata
}

// NewCatalog builds a Catalog over source, resolving module ids to
// repository slugs via repos (e.g. {"billing": "acme/billing-module"}).
func NewCatalog(source selfupdate.Source, repos map[Identifier]string) *Catalog {
	return &Catalog{
		source:    source,
		repos:     repos,
		manifests: make(map[ReleaseIdentifier]Metadata),
	}
}

// GetMatchingReleases implements Planner's DependencyResolver: it lists
// every release published for module's repository and returns the ones
// whose tag parses as a Version contained in rng.
func (c *Catalog) GetMatchingReleases(ctx context.Context, module Identifier, rng VersionRange) ([]ReleaseIdentifier, error) {
	slug, ok := c.repos[module]
	if !ok {
		return nil, fmt.Errorf("catalog: no repository configured for module %q", module)
	}
	repository := selfupdate.ParseSlug(slug)

	releases, err := c.source.ListReleases(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing releases for %s: %w", slug, err)
	}

	var matches []ReleaseIdentifier
	for _, release := range releases {
		if release.GetDraft() {
			continue
		}
		v, err := ParseVersion(release.GetTagName())
		if err != nil {
			logging.Warn(catalogSubsystem, "skipping %s release %q: %v", slug, release.GetTagName(), err)
			continue
		}
		if !rng.Contains(v) {
			continue
		}
		matches = append(matches, ReleaseIdentifier{Module: module, Version: v})
	}
	return matches, nil
}

// GetDependencies implements Planner's DependencyResolver: it reads
// release's module.json manifest (downloading it once per release, then
// caching) and returns its declared dependency ranges.
func (c *Catalog) GetDependencies(ctx context.Context, release ReleaseIdentifier) (map[Identifier]VersionRange, error) {
	meta, err := c.Manifest(ctx, release)
	if err != nil {
		return nil, err
	}
	return meta.Dependencies, nil
}

// Manifest returns release's module.json metadata, fetching and caching
// it on first access.
func (c *Catalog) Manifest(ctx context.Context, release ReleaseIdentifier) (Metadata, error) {
	c.mu.Lock()
	if meta, ok := c.manifests[release]; ok {
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	slug, ok := c.repos[release.Module]
	if !ok {
		return Metadata{}, fmt.Errorf("catalog: no repository configured for module %q", release.Module)
	}
	repository := selfupdate.ParseSlug(slug)

	releases, err := c.source.ListReleases(ctx, repository)
	if err != nil {
		return Metadata{}, fmt.Errorf("catalog: listing releases for %s: %w", slug, err)
	}

	for _, r := range releases {
		if r.GetTagName() != release.Version.String() {
			continue
		}
		assetID, ok := r.GetAssetID(manifestAssetName)
		if !ok {
			return Metadata{}, fmt.Errorf("catalog: release %s has no %s asset", release, manifestAssetName)
		}
		rc, _, err := c.source.DownloadAsset(ctx, repository, assetID)
		if err != nil {
			return Metadata{}, fmt.Errorf("catalog: downloading %s for %s: %w", manifestAssetName, release, err)
		}
		defer rc.Close()

		raw, err := io.ReadAll(rc)
		if err != nil {
			return Metadata{}, fmt.Errorf("catalog: reading %s for %s: %w", manifestAssetName, release, err)
		}

		meta, err := ParseMetadata(raw)
		if err != nil {
			return Metadata{}, fmt.Errorf("catalog: parsing %s for %s: %w", manifestAssetName, release, err)
		}

		c.mu.Lock()
		c.manifests[release] = meta
		c.mu.Unlock()
		return meta, nil
	}

	return Metadata{}, fmt.Errorf("catalog: release %s not found in %s", release, slug)
}
