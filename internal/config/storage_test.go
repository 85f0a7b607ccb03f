package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageSaveLoadDeleteList(t *testing.T) {
	dir := t.TempDir()
	s := NewStorageWithPath(dir)

	require.NoError(t, s.Save("manifests", "acme/widget", []byte("data-v1")))
	require.NoError(t, s.Save("manifests", "acme/gadget", []byte("data-v2")))

	names, err := s.List("manifests")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme_widget", "acme_gadget"}, names)

	data, err := s.Load("manifests", "acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "data-v1", string(data))

	require.NoError(t, s.Delete("manifests", "acme/widget"))
	_, err = s.Load("manifests", "acme/widget")
	assert.Error(t, err)
}

func TestStorageLoadMissingEntity(t *testing.T) {
	s := NewStorageWithPath(t.TempDir())
	_, err := s.Load("manifests", "does-not-exist")
	assert.Error(t, err)
}
