// Package folder translates a logical folder path ("/backups/site") into a
// Drive folder id, creating missing folders along the way. Resolved ids are
// cached in the store and never expire on their own; Invalidate and Clear
// drop them explicitly.
package folder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/drivebackup/internal/gdrive"
	"github.com/tonimelisma/drivebackup/internal/store"
)

// API is the subset of the Drive client the resolver needs.
type API interface {
	FindFolder(ctx context.Context, name, parentID string) (*gdrive.File, error)
	CreateFolder(ctx context.Context, name, parentID string) (*gdrive.File, error)
}

// Resolver resolves folder paths through a persistent cache. Safe for
// concurrent use; resolutions are serialized so two callers never create the
// same folder twice.
type Resolver struct {
	store  store.TokenStore
	logger *slog.Logger
	mu     sync.Mutex
}

// NewResolver returns a Resolver caching into st.
func NewResolver(st store.TokenStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{store: st, logger: logger}
}

// Normalize trims slashes, drops empty segments and NFC-normalizes each
// segment: "//Backups/ site//" becomes "Backups/ site". The empty string
// means the root folder.
func Normalize(path string) string {
	var segs []string

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}

		segs = append(segs, norm.NFC.String(seg))
	}

	return strings.Join(segs, "/")
}

// Resolve returns the folder id for path and true, or "" and false for the
// root folder. Failures are logged and also resolve to the root so that a
// backup is never lost to a folder lookup problem.
func (r *Resolver) Resolve(ctx context.Context, api API, path string) (string, bool) {
	id, err := r.ResolveStrict(ctx, api, path)
	if err != nil {
		r.logger.Error("folder resolution failed, using root folder",
			slog.String("folder_path", path),
			slog.String("error", err.Error()),
		)

		return "", false
	}

	return id, id != ""
}

// ResolveStrict is Resolve without the root fallback. It returns "" and no
// error for the root folder.
func (r *Resolver) ResolveStrict(ctx context.Context, api API, path string) (string, error) {
	key := Normalize(path)
	if key == "" {
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cache, err := r.store.FolderCache()
	if err != nil {
		return "", fmt.Errorf("folder: loading cache: %w", err)
	}

	if id, ok := cache[key]; ok {
		r.logger.Debug("folder cache hit", slog.String("folder_path", key), slog.String("folder_id", id))

		return id, nil
	}

	parentID := ""

	for _, seg := range strings.Split(key, "/") {
		id, err := r.findOrCreate(ctx, api, seg, parentID)
		if err != nil {
			return "", err
		}

		parentID = id
	}

	cache[key] = parentID

	// The id is correct even if it cannot be cached; the next call walks again.
	if err := r.store.SaveFolderCache(cache); err != nil {
		r.logger.Warn("failed to cache folder id",
			slog.String("folder_path", key),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Info("resolved folder", slog.String("folder_path", key), slog.String("folder_id", parentID))

	return parentID, nil
}

func (r *Resolver) findOrCreate(ctx context.Context, api API, name, parentID string) (string, error) {
	existing, err := api.FindFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("folder: looking up %q: %w", name, err)
	}

	if existing != nil {
		return existing.ID, nil
	}

	created, err := api.CreateFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("folder: creating %q: %w", name, err)
	}

	return created.ID, nil
}

// Invalidate drops the cached id for path, e.g. after the folder was deleted
// remotely.
func (r *Resolver) Invalidate(path string) error {
	key := Normalize(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	cache, err := r.store.FolderCache()
	if err != nil {
		return fmt.Errorf("folder: loading cache: %w", err)
	}

	if _, ok := cache[key]; !ok {
		return nil
	}

	delete(cache, key)

	if err := r.store.SaveFolderCache(cache); err != nil {
		return fmt.Errorf("folder: saving cache: %w", err)
	}

	return nil
}

// Clear drops every cached folder id.
func (r *Resolver) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SaveFolderCache(store.FolderCache{}); err != nil {
		return fmt.Errorf("folder: clearing cache: %w", err)
	}

	return nil
}
