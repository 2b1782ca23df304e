// Package destination is the Google Drive backup destination: save, list,
// load, delete and retention over a configured Drive folder.
package destination

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tonimelisma/drivebackup/internal/folder"
	"github.com/tonimelisma/drivebackup/internal/gdrive"
	"github.com/tonimelisma/drivebackup/internal/metrics"
)

// Operation names, used as metric labels and in errors.
const (
	OpSave    = "save"
	OpLoad    = "load"
	OpList    = "list"
	OpDelete  = "delete"
	OpExists  = "exists"
	OpGet     = "get"
	OpCleanup = "cleanup"
	OpCheck   = "check"
	OpAbout   = "about"
)

// tempPrefix names Load's scratch files.
const tempPrefix = "bam"

// Connector yields an authenticated Drive client. Errors from Connect are
// authentication errors and are returned by every operation unchanged.
type Connector interface {
	Connect(ctx context.Context) (*gdrive.Client, error)
}

// Options configures a Destination.
type Options struct {
	FolderPath string
	// MaxBackups is the retention limit; zero keeps everything.
	MaxBackups int
	// TempDir holds Load's scratch files; empty uses os.TempDir.
	TempDir string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Settings is the reconfigurable part of Options.
type Settings struct {
	FolderPath string
	MaxBackups int
}

// Query selects a window of List. Filters, Sort and Direction are accepted
// for interface compatibility and only logged; ordering is always newest
// first.
type Query struct {
	Filters   map[string]string
	Sort      string
	Direction string
	// Limit caps the result; zero or less means no cap.
	Limit  int
	Offset int
}

// Destination implements backup storage on Google Drive. Safe for concurrent
// use; each operation connects afresh so refreshed tokens are picked up.
type Destination struct {
	conn     Connector
	resolver *folder.Resolver
	tempDir  string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	settings Settings
}

// New returns a Destination. conn may be nil, in which case Delete reports
// false and other operations fail.
func New(conn Connector, resolver *folder.Resolver, opts Options) *Destination {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Destination{
		conn:     conn,
		resolver: resolver,
		tempDir:  opts.TempDir,
		logger:   logger,
		metrics:  opts.Metrics,
		settings: Settings{FolderPath: opts.FolderPath, MaxBackups: opts.MaxBackups},
	}
}

// SupportedOps lists the operations this destination implements.
func (d *Destination) SupportedOps() []string {
	return []string{OpSave, OpLoad, OpList, OpDelete}
}

// Settings returns the current folder path and retention limit.
func (d *Destination) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.settings
}

// Reconfigure swaps the folder path and retention limit. Operations already
// running keep the values they started with.
func (d *Destination) Reconfigure(s Settings) {
	d.mu.Lock()
	prev := d.settings
	d.settings = s
	d.mu.Unlock()

	if prev != s {
		d.logger.Info("destination reconfigured",
			slog.String("folder_path", s.FolderPath),
			slog.Int("max_backups", s.MaxBackups),
		)
	}
}

func (d *Destination) connect(ctx context.Context) (*gdrive.Client, error) {
	if d.conn == nil {
		return nil, fmt.Errorf("destination: %w", gdrive.ErrUnauthorized)
	}

	return d.conn.Connect(ctx)
}

// Save uploads file into the configured folder and returns the new remote
// id. If MaxBackups is positive, older backups beyond the limit are removed
// afterwards; retention failures are logged and never fail the save.
func (d *Destination) Save(ctx context.Context, file BackupFile) (id string, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpSave, time.Since(start), err) }()

	settings := d.Settings()

	client, err := d.connect(ctx)
	if err != nil {
		return "", err
	}

	meta := gdrive.FileMeta{
		Name:        file.FullName(),
		Description: file.Meta(MetaDescription),
	}

	if folderID, ok := d.resolver.Resolve(ctx, client, settings.FolderPath); ok {
		meta.Parents = []string{folderID}
	}

	data, err := readAll(file)
	if err != nil {
		return "", opError(OpSave, "", ErrUpload, err)
	}

	created, err := client.CreateFile(ctx, meta, bytes.NewReader(data))
	if err != nil {
		return "", opError(OpSave, "", ErrUpload, err)
	}

	d.metrics.AddBytesUploaded(int64(len(data)))

	d.logger.Info("backup uploaded",
		slog.String("file_id", created.ID),
		slog.String("name", created.Name),
		slog.Int("size", len(data)),
	)

	if settings.MaxBackups > 0 {
		if _, cleanupErr := d.CleanupOldBackups(ctx, settings.MaxBackups); cleanupErr != nil {
			d.logger.Error("retention cleanup failed",
				slog.Int("max_backups", settings.MaxBackups),
				slog.String("error", cleanupErr.Error()),
			)
		}
	}

	return created.ID, nil
}

func readAll(file BackupFile) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", file.FullName(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file.FullName(), err)
	}

	return data, nil
}

// List returns the backups in the configured folder, newest first. If the
// folder cannot be resolved the root folder is listed instead. Malformed
// items are skipped.
func (d *Destination) List(ctx context.Context) (files []RemoteFile, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpList, time.Since(start), err) }()

	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	return d.list(ctx, client, d.Settings().FolderPath)
}

func (d *Destination) list(ctx context.Context, client *gdrive.Client, folderPath string) ([]RemoteFile, error) {
	parentID, err := d.resolver.ResolveStrict(ctx, client, folderPath)
	if err != nil {
		d.logger.Warn("folder resolution failed, listing root folder",
			slog.String("folder_path", folderPath),
			slog.String("error", err.Error()),
		)

		parentID = ""
	}

	items, skipped, err := client.ListFiles(ctx, gdrive.ListQuery{
		ParentID:       parentID,
		ExcludeFolders: true,
	})
	if err != nil {
		return nil, opError(OpList, parentID, ErrList, err)
	}

	for _, skipErr := range skipped {
		d.logger.Warn("skipping unreadable item", slog.String("error", skipErr.Error()))
	}

	files := make([]RemoteFile, 0, len(items))
	for i := range items {
		files = append(files, remoteFile(&items[i]))
	}

	return files, nil
}

func remoteFile(f *gdrive.File) RemoteFile {
	return RemoteFile{
		ID:          f.ID,
		Name:        f.Name,
		Size:        f.Size,
		CreatedAt:   f.CreatedAt,
		ModifiedAt:  f.ModifiedAt,
		Description: f.Description,
	}
}

// GetFile returns the metadata of one backup.
func (d *Destination) GetFile(ctx context.Context, id string) (rf *RemoteFile, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpGet, time.Since(start), err) }()

	if id == "" {
		return nil, opError(OpGet, "", ErrMissingIdentifier, nil)
	}

	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	f, err := client.GetFile(ctx, id)
	if err != nil {
		return nil, opError(OpGet, id, ErrLookup, err)
	}

	out := remoteFile(f)

	return &out, nil
}

// Load downloads a backup into a new scratch file under TempDir.
func (d *Destination) Load(ctx context.Context, h Handle) (lf *LoadedFile, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpLoad, time.Since(start), err) }()

	if h.ID == "" {
		return nil, opError(OpLoad, "", ErrMissingIdentifier, nil)
	}

	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	data, err := download(ctx, client, h.ID)
	if err != nil {
		return nil, opError(OpLoad, h.ID, ErrDownload, err)
	}

	d.metrics.AddBytesDownloaded(int64(len(data)))

	path, err := d.writeTemp(data)
	if err != nil {
		return nil, opError(OpLoad, h.ID, ErrTempFile, err)
	}

	name := h.Name
	if name == "" {
		name = h.ID

		if f, getErr := client.GetFile(ctx, h.ID); getErr == nil && f.Name != "" {
			name = f.Name
		}
	}

	d.logger.Info("backup downloaded",
		slog.String("file_id", h.ID),
		slog.String("path", path),
		slog.Int("size", len(data)),
	)

	return &LoadedFile{ID: h.ID, Name: name, Path: path, Size: int64(len(data))}, nil
}

func download(ctx context.Context, client *gdrive.Client, id string) ([]byte, error) {
	body, err := client.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading content of %s: %w", id, err)
	}

	return data, nil
}

// writeTemp writes data to a fresh scratch file and checks it reads back at
// the expected size.
func (d *Destination) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(d.tempDir, tempPrefix)
	if err != nil {
		return "", fmt.Errorf("creating scratch file: %w", err)
	}

	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)

		return "", fmt.Errorf("writing scratch file %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing scratch file %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("checking scratch file %s: %w", path, err)
	}

	if info.Size() != int64(len(data)) {
		os.Remove(path)
		return "", fmt.Errorf("scratch file %s has %d bytes, want %d", path, info.Size(), len(data))
	}

	return path, nil
}

// Delete removes a backup. It reports false without error when no connector
// was configured.
func (d *Destination) Delete(ctx context.Context, id string) (ok bool, err error) {
	if d.conn == nil {
		return false, nil
	}

	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpDelete, time.Since(start), err) }()

	if id == "" {
		return false, opError(OpDelete, "", ErrMissingIdentifier, nil)
	}

	client, err := d.connect(ctx)
	if err != nil {
		return false, err
	}

	if err := client.DeleteFile(ctx, id); err != nil {
		return false, opError(OpDelete, id, ErrDelete, err)
	}

	d.logger.Info("backup deleted", slog.String("file_id", id))

	return true, nil
}

// Exists reports whether a backup with id exists. Any failure, including
// authentication, reads as false.
func (d *Destination) Exists(ctx context.Context, id string) bool {
	start := time.Now()

	if id == "" {
		return false
	}

	client, err := d.connect(ctx)
	if err == nil {
		err = client.Probe(ctx, id)
	}

	d.metrics.RecordOperation(OpExists, time.Since(start), err)

	if err != nil {
		d.logger.Debug("existence probe failed",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// CountFiles returns len(List).
func (d *Destination) CountFiles(ctx context.Context) (int, error) {
	files, err := d.List(ctx)
	if err != nil {
		return 0, err
	}

	return len(files), nil
}

// QueryFiles returns the window [Offset, Offset+Limit) of List.
func (d *Destination) QueryFiles(ctx context.Context, q Query) ([]RemoteFile, error) {
	if len(q.Filters) > 0 || q.Sort != "" {
		d.logger.Debug("query filters and sort are not applied",
			slog.Any("filters", q.Filters),
			slog.String("sort", q.Sort),
			slog.String("direction", q.Direction),
		)
	}

	files, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	return window(files, q.Offset, q.Limit), nil
}

func window(files []RemoteFile, offset, limit int) []RemoteFile {
	offset = max(offset, 0)
	if offset >= len(files) {
		return []RemoteFile{}
	}

	end := len(files)
	if limit > 0 {
		end = min(offset+limit, end)
	}

	return files[offset:end]
}

// CheckWritable verifies the configured folder resolves and can be listed.
func (d *Destination) CheckWritable(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpCheck, time.Since(start), err) }()

	client, err := d.connect(ctx)
	if err != nil {
		return err
	}

	folderPath := d.Settings().FolderPath

	parentID, err := d.resolver.ResolveStrict(ctx, client, folderPath)
	if err != nil {
		return opError(OpCheck, folderPath, ErrNotWritable, err)
	}

	if _, _, err := client.ListFiles(ctx, gdrive.ListQuery{ParentID: parentID, PageSize: 1, Limit: 1}); err != nil {
		return opError(OpCheck, folderPath, ErrNotWritable, err)
	}

	return nil
}

// About returns the account's storage quota.
func (d *Destination) About(ctx context.Context) (q *gdrive.Quota, err error) {
	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpAbout, time.Since(start), err) }()

	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	q, err = client.About(ctx)
	if err != nil {
		return nil, opError(OpAbout, "", ErrLookup, err)
	}

	return q, nil
}

// ClearFolderCache forgets every resolved folder id.
func (d *Destination) ClearFolderCache() error {
	return d.resolver.Clear()
}
