package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider(t *testing.T) {
	provider, err := NewFileProvider(FileProviderConfig{Path: filepath.Join(t.TempDir(), "data", "portal.json")})
	require.NoError(t, err)
	require.NoError(t, provider.Initialize())

	runProviderSuite(t, provider)
}

func TestFileProviderPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.json")

	first, err := NewFileProvider(FileProviderConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Initialize())

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, first.GetKeyStore().Save("key-1", KeyMetadata{Name: "ci", OwnerID: "user-1", CreatedAt: created}))
	require.NoError(t, first.GetPreferenceStore().SetPreference("user-1", "org", "org-1"))

	second, err := NewFileProvider(FileProviderConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, second.Initialize())

	meta, err := second.GetKeyStore().Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, "ci", meta.Name)
	assert.True(t, created.Equal(meta.CreatedAt))

	value, err := second.GetPreferenceStore().GetPreference("user-1", "org")
	require.NoError(t, err)
	assert.Equal(t, "org-1", value)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are cleaned up")
}

func TestFileProviderRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	provider, err := NewFileProvider(FileProviderConfig{Path: path})
	require.NoError(t, err)
	assert.ErrorContains(t, provider.Initialize(), "failed to parse storage file")
}

func TestFileProviderRequiresInitialize(t *testing.T) {
	provider, err := NewFileProvider(FileProviderConfig{Path: filepath.Join(t.TempDir(), "portal.json")})
	require.NoError(t, err)
	assert.Error(t, provider.GetKeyStore().Save("key-1", KeyMetadata{}))

	_, err = NewFileProvider(FileProviderConfig{})
	assert.Error(t, err)
}
