// Package store persists the OAuth client credentials, the OAuth token pair
// and the folder-ID cache. It is the only state shared across invocations.
// All implementations are safe for concurrent use.
package store

import (
	"fmt"
	"log/slog"
	"maps"

	"golang.org/x/oauth2"
)

// Supported backend names for Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ClientCredentials identifies the OAuth application.
type ClientCredentials struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Complete reports whether both the client ID and secret are set.
func (c ClientCredentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// FolderCache maps a normalized logical path ("backups/site") to the remote
// folder ID. Entries are never invalidated automatically.
type FolderCache map[string]string

// Clone returns an independent copy. A nil cache clones to an empty one.
func (c FolderCache) Clone() FolderCache {
	out := make(FolderCache, len(c))
	maps.Copy(out, c)

	return out
}

// TokenStore is the narrow get/set surface over persisted state.
type TokenStore interface {
	// Token returns the stored token, or (nil, nil) when none is stored.
	Token() (*oauth2.Token, error)
	SaveToken(tok *oauth2.Token) error
	// ClearToken removes the access and refresh token. Idempotent.
	ClearToken() error

	ClientCredentials() (ClientCredentials, error)
	SaveClientCredentials(creds ClientCredentials) error

	// FolderCache never returns a nil map on success.
	FolderCache() (FolderCache, error)
	SaveFolderCache(cache FolderCache) error

	Close() error
}

// Open returns the TokenStore for the named backend rooted at path.
func Open(backend, path string, logger *slog.Logger) (TokenStore, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path), nil
	case BackendSQLite:
		return OpenSQLite(path, logger)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}
