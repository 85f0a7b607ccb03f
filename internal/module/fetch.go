package module

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/creativeprojects/go-selfupdate"

	"nexus/pkg/logging"
)

const fetchSubsystem = "Fetch"

// Fetcher downloads a module release's archive from its GitHub (or
// GitLab/Gitea) repository via creativeprojects/go-selfupdate's Source,
// verifies its checksum against the release's module.json manifest,
// extracts it into dir, and satisfies internal/installer.Fetcher.
type Fetcher struct {
	catalog *Catalog
}

// NewFetcher builds a Fetcher that resolves manifests and downloads
// archives through catalog.
func NewFetcher(catalog *Catalog) *Fetcher {
	return &Fetcher{catalog: catalog}
}

// Fetch downloads release's archive, verifies its checksum, extracts it
// into dir, and returns the release's manifest metadata.
func (f *Fetcher) Fetch(ctx context.Context, release ReleaseIdentifier, dir string) (Metadata, error) {
	meta, err := f.catalog.Manifest(ctx, release)
	if err != nil {
		return Metadata{}, err
	}
	if !meta.SupportsHostPlatform() {
		return Metadata{}, fmt.Errorf("fetch: %s has no build for %s/%s", release, runtime.GOOS, runtime.GOARCH)
	}

	slug, ok := f.catalog.repos[release.Module]
	if !ok {
		return Metadata{}, fmt.Errorf("fetch: no repository configured for module %q", release.Module)
	}
	repository := selfupdate.ParseSlug(slug)

	assetName := archiveAssetName(release)
	archive, err := f.download(ctx, repository, assetName)
	if err != nil {
		return Metadata{}, err
	}

	if err := meta.VerifyChecksum(archive); err != nil {
		return Metadata{}, fmt.Errorf("fetch: %s: %w", release, err)
	}

	if err := extractTarGz(archive, dir); err != nil {
		return Metadata{}, fmt.Errorf("fetch: extracting %s: %w", release, err)
	}

	if err := writeManifest(meta, dir); err != nil {
		return Metadata{}, fmt.Errorf("fetch: persisting manifest for %s: %w", release, err)
	}

	logging.Info(fetchSubsystem, "fetched %s into %s", release, dir)
	return meta, nil
}

// manifestFileName is the file startup adoption reads back to recover a
// previously fetched release's metadata without re-contacting the catalog.
const manifestFileName = "module.json"

func writeManifest(meta Metadata, dir string) error {
	raw, err := meta.MarshalManifest()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFileName), raw, 0o644)
}

// LoadManifest reads back the module.json a prior Fetch wrote into dir.
func LoadManifest(dir string) (Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return Metadata{}, fmt.Errorf("reading %s: %w", manifestFileName, err)
	}
	return ParseMetadata(raw)
}

func (f *Fetcher) download(ctx context.Context, repository selfupdate.Repository, assetName string) ([]byte, error) {
	releases, err := f.catalog.source.ListReleases(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("fetch: listing releases: %w", err)
	}

	for _, r := range releases {
		assetID, ok := r.GetAssetID(assetName)
		if !ok {
			continue
		}
		rc, _, err := f.catalog.source.DownloadAsset(ctx, repository, assetID)
		if err != nil {
			return nil, fmt.Errorf("fetch: downloading %s: %w", assetName, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("fetch: no release asset named %q", assetName)
}

func archiveAssetName(release ReleaseIdentifier) string {
	return fmt.Sprintf("%s_%s_%s_%s.tar.gz", release.Module, release.Version.String(), runtime.GOOS, runtime.GOARCH)
}

// extractTarGz extracts a gzip-compressed tar archive into dir, creating
// it if necessary. There's no archive-extraction library among nexus's
// other dependencies, so this uses the standard library the same way
// go-selfupdate itself does internally to unpack a self-update archive.
func extractTarGz(archive []byte, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target := filepath.Join(dir, hdr.Name)
		if !isWithinDir(dir, target) {
			return fmt.Errorf("tar entry %q escapes install directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func isWithinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel == "." || (!filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
