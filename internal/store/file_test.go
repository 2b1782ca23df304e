package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestFileStore_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.json")
	s := NewFileStore(path)

	require.NoError(t, s.SaveToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state.json"))

	require.NoError(t, s.SaveClientCredentials(ClientCredentials{ClientID: "id", ClientSecret: "secret"}))
	require.NoError(t, s.SaveFolderCache(FolderCache{"backups": "f1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), FilePerms))

	s := NewFileStore(path)

	_, err := s.Token()
	assert.ErrorContains(t, err, "decoding")

	// Writes refuse to clobber a file they cannot parse.
	err = s.SaveToken(&oauth2.Token{AccessToken: "a"})
	assert.Error(t, err)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, NewFileStore(path).SaveFolderCache(FolderCache{"backups": "f1"}))

	cache, err := NewFileStore(path).FolderCache()
	require.NoError(t, err)
	assert.Equal(t, "f1", cache["backups"])
}
