package folder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/drivebackup/internal/gdrive"
	"github.com/tonimelisma/drivebackup/internal/store"
)

// fakeAPI keeps folders in memory, keyed by parent and name, and counts calls.
type fakeAPI struct {
	folders   map[string]string // parentID + "/" + name -> id
	finds     int
	creates   int
	findErr   error
	createErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{folders: make(map[string]string)}
}

func (f *fakeAPI) FindFolder(_ context.Context, name, parentID string) (*gdrive.File, error) {
	f.finds++

	if f.findErr != nil {
		return nil, f.findErr
	}

	if id, ok := f.folders[parentID+"/"+name]; ok {
		return &gdrive.File{ID: id, Name: name}, nil
	}

	return nil, nil
}

func (f *fakeAPI) CreateFolder(_ context.Context, name, parentID string) (*gdrive.File, error) {
	f.creates++

	if f.createErr != nil {
		return nil, f.createErr
	}

	id := fmt.Sprintf("folder-%d", len(f.folders)+1)
	f.folders[parentID+"/"+name] = id

	return &gdrive.File{ID: id, Name: name}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"///", ""},
		{"/backups", "backups"},
		{"backups/", "backups"},
		{"//backups//site/", "backups/site"},
		// NFD "é" (e + combining acute) normalizes to NFC.
		{"/cafe\u0301", "caf\u00e9"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestResolve_RootMakesNoCalls(t *testing.T) {
	api := newFakeAPI()
	r := NewResolver(store.NewMemoryStore(), discardLogger())

	for _, p := range []string{"", "/", "//"} {
		id, ok := r.Resolve(t.Context(), api, p)
		assert.Empty(t, id)
		assert.False(t, ok)
	}

	assert.Zero(t, api.finds)
	assert.Zero(t, api.creates)
}

func TestResolve_CreatesChainAndCaches(t *testing.T) {
	api := newFakeAPI()
	st := store.NewMemoryStore()
	r := NewResolver(st, discardLogger())

	id, ok := r.Resolve(t.Context(), api, "/backups/site")
	require.True(t, ok)
	assert.Equal(t, "folder-2", id)
	assert.Equal(t, 2, api.finds)
	assert.Equal(t, 2, api.creates)

	// Nested folder was created under its parent.
	assert.Equal(t, "folder-2", api.folders["folder-1/site"])

	cache, err := st.FolderCache()
	require.NoError(t, err)
	assert.Equal(t, "folder-2", cache["backups/site"])

	// Cache hit: equivalent spellings make zero further calls.
	id2, ok := r.Resolve(t.Context(), api, "backups//site/")
	require.True(t, ok)
	assert.Equal(t, id, id2)
	assert.Equal(t, 2, api.finds)
	assert.Equal(t, 2, api.creates)
}

func TestResolve_ReusesExistingFolders(t *testing.T) {
	api := newFakeAPI()
	api.folders["/backups"] = "existing"

	r := NewResolver(store.NewMemoryStore(), discardLogger())

	id, ok := r.Resolve(t.Context(), api, "/backups")
	require.True(t, ok)
	assert.Equal(t, "existing", id)
	assert.Zero(t, api.creates)
}

func TestResolve_FailureFallsBackToRoot(t *testing.T) {
	api := newFakeAPI()
	api.createErr = errors.New("quota exceeded")

	st := store.NewMemoryStore()
	r := NewResolver(st, discardLogger())

	id, ok := r.Resolve(t.Context(), api, "/backups")
	assert.Empty(t, id)
	assert.False(t, ok)

	cache, err := st.FolderCache()
	require.NoError(t, err)
	assert.Empty(t, cache, "failures are not cached")

	_, err = r.ResolveStrict(t.Context(), api, "/backups")
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestResolveStrict_LookupError(t *testing.T) {
	api := newFakeAPI()
	api.findErr = gdrive.ErrForbidden

	_, err := NewResolver(store.NewMemoryStore(), discardLogger()).ResolveStrict(t.Context(), api, "/a")
	assert.ErrorIs(t, err, gdrive.ErrForbidden)
}

// cacheWriteFailStore fails folder-cache writes only.
type cacheWriteFailStore struct {
	*store.MemoryStore
}

func (cacheWriteFailStore) SaveFolderCache(store.FolderCache) error {
	return errors.New("read-only")
}

func TestResolve_CacheWriteFailureStillReturnsID(t *testing.T) {
	api := newFakeAPI()
	r := NewResolver(cacheWriteFailStore{store.NewMemoryStore()}, discardLogger())

	id, ok := r.Resolve(t.Context(), api, "/backups")
	assert.True(t, ok)
	assert.Equal(t, "folder-1", id)
}

func TestInvalidateAndClear(t *testing.T) {
	api := newFakeAPI()
	st := store.NewMemoryStore()
	r := NewResolver(st, discardLogger())

	_, _ = r.Resolve(t.Context(), api, "/a")
	_, _ = r.Resolve(t.Context(), api, "/b")

	require.NoError(t, r.Invalidate("a/"))
	require.NoError(t, r.Invalidate("/never-cached"))

	cache, err := st.FolderCache()
	require.NoError(t, err)
	assert.Equal(t, store.FolderCache{"b": "folder-2"}, cache)

	// The next resolve walks again and finds the existing folder.
	finds := api.finds
	id, ok := r.Resolve(t.Context(), api, "/a")
	require.True(t, ok)
	assert.Equal(t, "folder-1", id)
	assert.Equal(t, finds+1, api.finds)

	require.NoError(t, r.Clear())

	cache, err = st.FolderCache()
	require.NoError(t, err)
	assert.Empty(t, cache)
}
