package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestOpenSQLite_ReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.db")

	s, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveToken(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, s.SaveFolderCache(FolderCache{"backups": "f1"}))
	require.NoError(t, s.Close())

	// Migrations are idempotent on reopen.
	s, err = OpenSQLite(path, nil)
	require.NoError(t, err)

	defer s.Close()

	tok, err := s.Token()
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, tok.Expiry.IsZero())

	cache, err := s.FolderCache()
	require.NoError(t, err)
	assert.Equal(t, "f1", cache["backups"])
}

func TestSQLiteStore_SaveNilTokenClears(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)

	defer s.Close()

	require.NoError(t, s.SaveToken(&oauth2.Token{AccessToken: "a"}))
	require.NoError(t, s.SaveToken(nil))

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestSQLiteStore_CorruptExpiry(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)

	defer s.Close()

	require.NoError(t, s.setSettings(t.Context(), map[string]string{
		keyAccessToken: "a",
		keyTokenExpiry: "yesterday",
	}))

	_, err = s.Token()
	assert.ErrorContains(t, err, "decoding token expiry")
}
