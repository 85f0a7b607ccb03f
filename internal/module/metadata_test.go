package module

import (
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadataDecodesDependencies(t *testing.T) {
	raw := []byte(`{
		"module": "billing",
		"version": "1.4.0",
		"release-date": "2026-01-01",
		"name": "Billing",
		"entry-command": "./billing",
		"dependencies": {"auth": ">=2.0.0", "ledger": "==1.1.0"}
	}`)

	meta, err := ParseMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, Identifier("billing"), meta.Module)
	assert.Equal(t, "1.4.0", meta.Version.String())
	require.Len(t, meta.Dependencies, 2)
	assert.True(t, meta.Dependencies["auth"].Contains(mustVersion(t, "2.0.0")))
	assert.False(t, meta.Dependencies["auth"].Contains(mustVersion(t, "1.9.0")))
	assert.True(t, meta.Dependencies["ledger"].Contains(mustVersion(t, "1.1.0")))
	assert.False(t, meta.Dependencies["ledger"].Contains(mustVersion(t, "1.1.1")))
}

func TestParseMetadataRejectsMissingModule(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"version": "1.0.0"}`))
	assert.Error(t, err)
}

func TestSupportsHostPlatformWithNoRestrictionAcceptsEverything(t *testing.T) {
	assert.True(t, Metadata{}.SupportsHostPlatform())
}

func TestSupportsHostPlatformRejectsUnlistedPlatform(t *testing.T) {
	meta := Metadata{Platforms: []string{"plan9/386"}}
	assert.False(t, meta.SupportsHostPlatform())
}

func TestSupportsHostPlatformAcceptsListedHost(t *testing.T) {
	meta := Metadata{Platforms: []string{runtime.GOOS + "/" + runtime.GOARCH}}
	assert.True(t, meta.SupportsHostPlatform())
}

func TestVerifyChecksumDetectsMismatch(t *testing.T) {
	archive := []byte("archive-bytes")
	sum := sha256.Sum256(archive)

	meta := Metadata{Checksum: hex.EncodeToString(sum[:])}
	assert.NoError(t, meta.VerifyChecksum(archive))

	assert.Error(t, meta.VerifyChecksum([]byte("tampered")))
	assert.Error(t, Metadata{}.VerifyChecksum(archive))
}
