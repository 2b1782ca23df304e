package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"

	"github.com/tonimelisma/drivebackup/internal/folder"
	"github.com/tonimelisma/drivebackup/internal/gdrive"
	"github.com/tonimelisma/drivebackup/internal/gdrive/drivetest"
	"github.com/tonimelisma/drivebackup/internal/metrics"
	"github.com/tonimelisma/drivebackup/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type stubAuth struct {
	client *http.Client
	err    error
}

func (s stubAuth) EnsureAuthenticated(context.Context) (*http.Client, error) {
	return s.client, s.err
}

type harness struct {
	dest    *Destination
	srv     *drivetest.Server
	store   store.TokenStore
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, st store.TokenStore, opts Options) *harness {
	t.Helper()

	srv := drivetest.NewServer(t)

	if st == nil {
		st = store.NewMemoryStore()
	}

	if opts.Logger == nil {
		opts.Logger = testLogger(t)
	}

	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	}

	conn := gdrive.NewConnector(stubAuth{client: srv.Client()}, srv.Endpoint(), opts.Logger)

	return &harness{
		dest:    New(conn, folder.NewResolver(st, opts.Logger), opts),
		srv:     srv,
		store:   st,
		metrics: opts.Metrics,
	}
}

func backup(name string) BytesFile {
	return BytesFile{Name: name, Data: []byte("content of " + name)}
}

func TestSave_UploadsIntoFolder(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups/site"})

	id, err := h.dest.Save(t.Context(), BytesFile{Name: "db.sql.gz", Description: "nightly", Data: []byte("dump")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	f, ok := h.srv.File(id)
	require.True(t, ok)
	assert.Equal(t, "db.sql.gz", f.Name)
	assert.Equal(t, "nightly", f.Description)

	cache, err := h.store.FolderCache()
	require.NoError(t, err)
	require.Contains(t, cache, "backups/site")
	assert.Equal(t, []string{cache["backups/site"]}, f.Parents)

	content, _ := h.srv.Content(id)
	assert.Equal(t, []byte("dump"), content)
}

func TestSave_ReusesCachedFolder(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups"})

	_, err := h.dest.Save(t.Context(), backup("a"))
	require.NoError(t, err)

	lists := h.srv.Calls(drivetest.OpList)

	_, err = h.dest.Save(t.Context(), backup("b"))
	require.NoError(t, err)

	assert.Equal(t, lists, h.srv.Calls(drivetest.OpList), "second save must not look the folder up again")
}

func TestSave_RootFolderPath(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/"})

	id, err := h.dest.Save(t.Context(), backup("a"))
	require.NoError(t, err)

	f, _ := h.srv.File(id)
	assert.Equal(t, []string{gdrive.RootID}, f.Parents)
}

func TestSave_LocalFile(t *testing.T) {
	h := newHarness(t, nil, Options{})

	path := filepath.Join(t.TempDir(), "site.tar")
	require.NoError(t, os.WriteFile(path, []byte("tarball"), 0o600))

	id, err := h.dest.Save(t.Context(), LocalFile{Path: path})
	require.NoError(t, err)

	f, _ := h.srv.File(id)
	assert.Equal(t, "site.tar", f.Name)
}

func TestSave_UnreadableFile(t *testing.T) {
	h := newHarness(t, nil, Options{})

	_, err := h.dest.Save(t.Context(), LocalFile{Path: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, ErrUpload)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, h.srv.Calls(drivetest.OpCreate))
}

func TestSave_UploadFailure(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.srv.Fail(drivetest.OpCreate, http.StatusInternalServerError)

	_, err := h.dest.Save(t.Context(), backup("a"))
	require.ErrorIs(t, err, ErrUpload)
	require.ErrorIs(t, err, gdrive.ErrServerError)

	var destErr *Error
	require.ErrorAs(t, err, &destErr)
	assert.Equal(t, OpSave, destErr.Op)
}

func TestSave_AuthErrorPassesThrough(t *testing.T) {
	srv := drivetest.NewServer(t)
	authErr := errors.New("not authorized")

	conn := gdrive.NewConnector(stubAuth{err: authErr}, srv.Endpoint(), testLogger(t))
	dest := New(conn, folder.NewResolver(store.NewMemoryStore(), nil), Options{Logger: testLogger(t)})

	_, err := dest.Save(t.Context(), backup("a"))
	assert.Same(t, authErr, err)

	_, err = dest.List(t.Context())
	assert.Same(t, authErr, err)

	assert.False(t, dest.Exists(t.Context(), "file-001"))
}

// cacheFailStore fails every folder cache read.
type cacheFailStore struct {
	*store.MemoryStore
}

func (cacheFailStore) FolderCache() (store.FolderCache, error) {
	return nil, errors.New("cache unavailable")
}

func TestSave_FolderFailureFallsBackToRoot(t *testing.T) {
	h := newHarness(t, cacheFailStore{store.NewMemoryStore()}, Options{FolderPath: "/backups"})

	id, err := h.dest.Save(t.Context(), backup("a"))
	require.NoError(t, err)

	f, _ := h.srv.File(id)
	assert.Equal(t, []string{gdrive.RootID}, f.Parents)

	files, err := h.dest.List(t.Context())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, id, files[0].ID)
}

func TestSaveThenList(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups"})

	first, err := h.dest.Save(t.Context(), backup("first"))
	require.NoError(t, err)
	second, err := h.dest.Save(t.Context(), backup("second"))
	require.NoError(t, err)

	// Files outside the folder are not listed.
	h.srv.AddFile("elsewhere", "", []byte("x"))

	files, err := h.dest.List(t.Context())
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, second, files[0].ID, "newest first")
	assert.Equal(t, "second", files[0].Name)
	assert.Equal(t, first, files[1].ID)
	assert.Equal(t, int64(len("content of first")), files[1].Size)
	assert.True(t, files[0].CreatedAt.After(files[1].CreatedAt))

	n, err := h.dest.CountFiles(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestList_SkipsMalformedItems(t *testing.T) {
	h := newHarness(t, nil, Options{})

	good := h.srv.AddFile("good", "", []byte("x"))
	h.srv.AddRaw(&drive.File{Id: "bad", Name: "bad", CreatedTime: "yesterday", Parents: []string{gdrive.RootID}})

	files, err := h.dest.List(t.Context())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, good, files[0].ID)
}

func TestList_Failure(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.srv.Fail(drivetest.OpList, http.StatusServiceUnavailable)

	_, err := h.dest.List(t.Context())
	require.ErrorIs(t, err, ErrList)
	require.ErrorIs(t, err, gdrive.ErrServerError)
}

func TestSaveThenLoad_RoundTrip(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups"})

	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	id, err := h.dest.Save(t.Context(), BytesFile{Name: "blob.bin", Data: data})
	require.NoError(t, err)

	lf, err := h.dest.Load(t.Context(), Handle{ID: id})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lf.Remove() })

	assert.Equal(t, "blob.bin", lf.Name, "name fetched when the handle has none")
	assert.Equal(t, int64(len(data)), lf.Size)
	assert.True(t, strings.HasPrefix(filepath.Base(lf.Path), tempPrefix))

	rc, err := lf.Open()
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, lf.Remove())
	_, err = os.Stat(lf.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_KeepsHandleName(t *testing.T) {
	h := newHarness(t, nil, Options{})
	id := h.srv.AddFile("remote-name", "", []byte("x"))

	lf, err := h.dest.Load(t.Context(), Handle{ID: id, Name: "given"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lf.Remove() })

	assert.Equal(t, "given", lf.Name)
	assert.Equal(t, 0, h.srv.Calls(drivetest.OpGet))
}

func TestLoad_MissingIdentifier(t *testing.T) {
	h := newHarness(t, nil, Options{})

	_, err := h.dest.Load(t.Context(), Handle{Name: "no id"})
	require.ErrorIs(t, err, ErrMissingIdentifier)
	assert.Equal(t, 0, h.srv.Calls(drivetest.OpDownload))
}

func TestLoad_DownloadFailure(t *testing.T) {
	h := newHarness(t, nil, Options{})
	id := h.srv.AddFile("a", "", []byte("x"))
	h.srv.Fail(drivetest.OpDownload, http.StatusInternalServerError)

	_, err := h.dest.Load(t.Context(), Handle{ID: id})
	require.ErrorIs(t, err, ErrDownload)
}

func TestLoad_NotFound(t *testing.T) {
	h := newHarness(t, nil, Options{})

	_, err := h.dest.Load(t.Context(), Handle{ID: "nope"})
	require.ErrorIs(t, err, ErrDownload)
	require.ErrorIs(t, err, gdrive.ErrNotFound)
}

func TestLoad_TempDirUnusable(t *testing.T) {
	h := newHarness(t, nil, Options{TempDir: filepath.Join(t.TempDir(), "does", "not", "exist")})
	id := h.srv.AddFile("a", "", []byte("x"))

	_, err := h.dest.Load(t.Context(), Handle{ID: id})
	require.ErrorIs(t, err, ErrTempFile)
}

func TestGetFile(t *testing.T) {
	h := newHarness(t, nil, Options{})

	id, err := h.dest.Save(t.Context(), BytesFile{Name: "a", Description: "d", Data: []byte("abc")})
	require.NoError(t, err)

	rf, err := h.dest.GetFile(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "a", rf.Name)
	assert.Equal(t, "d", rf.Description)
	assert.Equal(t, int64(3), rf.Size)

	_, err = h.dest.GetFile(t.Context(), "missing")
	require.ErrorIs(t, err, ErrLookup)
	require.ErrorIs(t, err, gdrive.ErrNotFound)

	_, err = h.dest.GetFile(t.Context(), "")
	require.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestDelete(t *testing.T) {
	h := newHarness(t, nil, Options{})
	id := h.srv.AddFile("a", "", []byte("x"))

	ok, err := h.dest.Delete(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, h.srv.Count())
}

func TestDelete_Nonexistent(t *testing.T) {
	h := newHarness(t, nil, Options{})

	ok, err := h.dest.Delete(t.Context(), "nope")
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrDelete)
	require.ErrorIs(t, err, gdrive.ErrNotFound)
}

func TestDelete_NoConnector(t *testing.T) {
	dest := New(nil, folder.NewResolver(store.NewMemoryStore(), nil), Options{})

	ok, err := dest.Delete(t.Context(), "file-001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists(t *testing.T) {
	h := newHarness(t, nil, Options{})
	id := h.srv.AddFile("a", "", []byte("x"))

	assert.True(t, h.dest.Exists(t.Context(), id))
	assert.False(t, h.dest.Exists(t.Context(), "nope"))
	assert.False(t, h.dest.Exists(t.Context(), ""))

	h.srv.Fail(drivetest.OpGet, http.StatusInternalServerError)
	assert.False(t, h.dest.Exists(t.Context(), id), "errors read as absent")
}

func TestRetention_KeepsNewest(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups", MaxBackups: 3})

	var ids []string

	for i := 1; i <= 5; i++ {
		id, err := h.dest.Save(t.Context(), backup(fmt.Sprintf("b%d", i)))
		require.NoError(t, err)

		ids = append(ids, id)
	}

	files, err := h.dest.List(t.Context())
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{files[0].ID, files[1].ID, files[2].ID})

	expected := `
# HELP drivebackup_retention_deleted_total Backups deleted by retention cleanup
# TYPE drivebackup_retention_deleted_total counter
drivebackup_retention_deleted_total 2
`
	require.NoError(t, testutil.GatherAndCompare(h.metrics.Gatherer(), strings.NewReader(expected),
		"drivebackup_retention_deleted_total"))
}

func TestRetention_PrunesPreexistingBackups(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups", MaxBackups: 2})

	folderID := h.srv.AddFolder("backups", "")
	outside := h.srv.AddFile("elsewhere", "", []byte("x"))

	var seeded []string
	for i := 1; i <= 4; i++ {
		seeded = append(seeded, h.srv.AddFile(fmt.Sprintf("old-%d", i), folderID, []byte("x")))
	}

	id, err := h.dest.Save(t.Context(), backup("new"))
	require.NoError(t, err)

	files, err := h.dest.List(t.Context())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []string{id, seeded[3]}, []string{files[0].ID, files[1].ID})

	for _, gone := range seeded[:3] {
		assert.False(t, h.dest.Exists(t.Context(), gone), gone)
	}

	assert.True(t, h.dest.Exists(t.Context(), outside))
	assert.Equal(t, 3, h.srv.Calls(drivetest.OpDelete))
}

func TestRetention_FailureDoesNotFailSave(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups"})

	for _, name := range []string{"a", "b"} {
		_, err := h.dest.Save(t.Context(), backup(name))
		require.NoError(t, err)
	}

	h.dest.Reconfigure(Settings{FolderPath: "/backups", MaxBackups: 1})
	h.srv.Fail(drivetest.OpDelete, http.StatusInternalServerError)

	id, err := h.dest.Save(t.Context(), backup("c"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := h.dest.CountFiles(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCleanupOldBackups(t *testing.T) {
	h := newHarness(t, nil, Options{})

	oldest := h.srv.AddFile("1", "", []byte("x"))
	middle := h.srv.AddFile("2", "", []byte("x"))
	newest := h.srv.AddFile("3", "", []byte("x"))

	deleted, err := h.dest.CleanupOldBackups(t.Context(), 5)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = h.dest.CleanupOldBackups(t.Context(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted, "zero keeps everything")

	deleted, err = h.dest.CleanupOldBackups(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, ok := h.srv.File(oldest)
	assert.False(t, ok)
	_, ok = h.srv.File(middle)
	assert.False(t, ok)
	_, ok = h.srv.File(newest)
	assert.True(t, ok)
}

func TestCleanupOldBackups_ContinuesPastFailures(t *testing.T) {
	h := newHarness(t, nil, Options{})

	for _, name := range []string{"1", "2", "3"} {
		h.srv.AddFile(name, "", []byte("x"))
	}

	h.srv.Fail(drivetest.OpDelete, http.StatusForbidden)

	deleted, err := h.dest.CleanupOldBackups(t.Context(), 1)
	assert.Zero(t, deleted)
	require.ErrorIs(t, err, ErrDelete)
	require.ErrorIs(t, err, gdrive.ErrForbidden)
	assert.Equal(t, 2, h.srv.Calls(drivetest.OpDelete), "every excess file attempted")
}

func TestQueryFiles(t *testing.T) {
	h := newHarness(t, nil, Options{})

	for i := range 5 {
		h.srv.AddFile(fmt.Sprintf("f%d", i), "", []byte("x"))
	}

	got, err := h.dest.QueryFiles(t.Context(), Query{
		Filters: map[string]string{"name": "ignored"},
		Sort:    "name",
		Offset:  1,
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f3", got[0].Name)
	assert.Equal(t, "f2", got[1].Name)
}

func TestWindow(t *testing.T) {
	files := make([]RemoteFile, 5)
	for i := range files {
		files[i].ID = fmt.Sprint(i)
	}

	ids := func(fs []RemoteFile) []string {
		out := []string{}
		for _, f := range fs {
			out = append(out, f.ID)
		}

		return out
	}

	tests := []struct {
		name          string
		offset, limit int
		want          []string
	}{
		{"all", 0, 0, []string{"0", "1", "2", "3", "4"}},
		{"limit", 0, 2, []string{"0", "1"}},
		{"offset", 3, 0, []string{"3", "4"}},
		{"window", 1, 3, []string{"1", "2", "3"}},
		{"limit past end", 4, 10, []string{"4"}},
		{"offset past end", 9, 1, []string{}},
		{"negative offset", -2, 1, []string{"0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(window(files, tt.offset, tt.limit)))
		})
	}
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/a", MaxBackups: 2})

	assert.Equal(t, Settings{FolderPath: "/a", MaxBackups: 2}, h.dest.Settings())

	h.dest.Reconfigure(Settings{FolderPath: "/b", MaxBackups: 0})

	id, err := h.dest.Save(t.Context(), backup("x"))
	require.NoError(t, err)

	cache, err := h.store.FolderCache()
	require.NoError(t, err)
	assert.Contains(t, cache, "b")
	assert.NotContains(t, cache, "a")

	f, _ := h.srv.File(id)
	assert.Equal(t, []string{cache["b"]}, f.Parents)
}

func TestCheckWritable(t *testing.T) {
	h := newHarness(t, nil, Options{FolderPath: "/backups"})
	require.NoError(t, h.dest.CheckWritable(t.Context()))

	require.NoError(t, h.dest.ClearFolderCache())
	h.srv.Fail(drivetest.OpList, http.StatusForbidden)

	err := h.dest.CheckWritable(t.Context())
	require.ErrorIs(t, err, ErrNotWritable)
	require.ErrorIs(t, err, gdrive.ErrForbidden)
}

func TestAbout(t *testing.T) {
	h := newHarness(t, nil, Options{})

	q, err := h.dest.About(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, q)

	h.srv.Fail(drivetest.OpAbout, http.StatusInternalServerError)
	_, err = h.dest.About(t.Context())
	require.ErrorIs(t, err, ErrLookup)
}

func TestSupportedOps(t *testing.T) {
	h := newHarness(t, nil, Options{})
	assert.ElementsMatch(t, []string{OpSave, OpLoad, OpList, OpDelete}, h.dest.SupportedOps())
}

func TestErrorMessage(t *testing.T) {
	err := opError(OpDelete, "file-001", ErrDelete, errors.New("boom"))
	assert.Equal(t, "destination: delete failed (delete file-001): boom", err.Error())

	err = opError(OpLoad, "", ErrMissingIdentifier, nil)
	assert.Equal(t, "destination: file has no remote id (load)", err.Error())
}
