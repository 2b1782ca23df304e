package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/oauth2"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Keys in the settings table.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyTokenType    = "token_type"
	keyTokenExpiry  = "token_expiry"
	keyClientID     = "client_id"
	keyClientSecret = "client_secret"
)

const (
	sqlGetSetting = `SELECT value FROM settings WHERE key = ?`

	sqlUpsertSetting = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	sqlDeleteSetting = `DELETE FROM settings WHERE key = ?`

	sqlLoadFolderCache = `SELECT path, folder_id FROM folder_cache`

	sqlClearFolderCache = `DELETE FROM folder_cache`

	sqlInsertFolderCache = `INSERT INTO folder_cache (path, folder_id, cached_at) VALUES (?, ?, ?)`
)

// SQLiteStore keeps state in a SQLite database: a key/value settings table
// and a folder_cache table. Schema migrations run on open.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations. The database uses WAL mode with synchronous=FULL.
func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), DirPerms); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: one connection serializes every statement.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state database ready", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

// runMigrations applies all pending schema migrations with the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLiteStore) Token() (*oauth2.Token, error) {
	ctx := context.Background()

	values, err := s.settings(ctx, keyAccessToken, keyRefreshToken, keyTokenType, keyTokenExpiry)
	if err != nil {
		return nil, err
	}

	if values[keyAccessToken] == "" && values[keyRefreshToken] == "" {
		return nil, nil //nolint:nilnil // sentinel for "not stored"
	}

	tok := &oauth2.Token{
		AccessToken:  values[keyAccessToken],
		RefreshToken: values[keyRefreshToken],
		TokenType:    values[keyTokenType],
	}

	if raw := values[keyTokenExpiry]; raw != "" {
		expiry, parseErr := time.Parse(time.RFC3339Nano, raw)
		if parseErr != nil {
			return nil, fmt.Errorf("store: decoding token expiry %q: %w", raw, parseErr)
		}

		tok.Expiry = expiry
	}

	return tok, nil
}

func (s *SQLiteStore) SaveToken(tok *oauth2.Token) error {
	if tok == nil {
		return s.ClearToken()
	}

	expiry := ""
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}

	return s.setSettings(context.Background(), map[string]string{
		keyAccessToken:  tok.AccessToken,
		keyRefreshToken: tok.RefreshToken,
		keyTokenType:    tok.TokenType,
		keyTokenExpiry:  expiry,
	})
}

func (s *SQLiteStore) ClearToken() error {
	return s.deleteSettings(context.Background(), keyAccessToken, keyRefreshToken, keyTokenType, keyTokenExpiry)
}

func (s *SQLiteStore) ClientCredentials() (ClientCredentials, error) {
	values, err := s.settings(context.Background(), keyClientID, keyClientSecret)
	if err != nil {
		return ClientCredentials{}, err
	}

	return ClientCredentials{
		ClientID:     values[keyClientID],
		ClientSecret: values[keyClientSecret],
	}, nil
}

func (s *SQLiteStore) SaveClientCredentials(creds ClientCredentials) error {
	return s.setSettings(context.Background(), map[string]string{
		keyClientID:     creds.ClientID,
		keyClientSecret: creds.ClientSecret,
	})
}

func (s *SQLiteStore) FolderCache() (FolderCache, error) {
	rows, err := s.db.QueryContext(context.Background(), sqlLoadFolderCache)
	if err != nil {
		return nil, fmt.Errorf("store: loading folder cache: %w", err)
	}
	defer rows.Close()

	cache := make(FolderCache)

	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, fmt.Errorf("store: scanning folder cache row: %w", err)
		}

		cache[path] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating folder cache rows: %w", err)
	}

	return cache, nil
}

// SaveFolderCache replaces the whole cache in one transaction.
func (s *SQLiteStore) SaveFolderCache(cache FolderCache) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning folder cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, sqlClearFolderCache); err != nil {
		return fmt.Errorf("store: clearing folder cache: %w", err)
	}

	now := s.nowFunc().Unix()

	for path, id := range cache {
		if _, err := tx.ExecContext(ctx, sqlInsertFolderCache, path, id, now); err != nil {
			return fmt.Errorf("store: caching folder %q: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing folder cache: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// settings reads the given keys. Absent keys map to "".
func (s *SQLiteStore) settings(ctx context.Context, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))

	for _, key := range keys {
		var value string

		err := s.db.QueryRowContext(ctx, sqlGetSetting, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("store: reading setting %s: %w", key, err)
		}

		values[key] = value
	}

	return values, nil
}

func (s *SQLiteStore) setSettings(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning settings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for key, value := range values {
		if _, err := tx.ExecContext(ctx, sqlUpsertSetting, key, value); err != nil {
			return fmt.Errorf("store: writing setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing settings: %w", err)
	}

	return nil
}

func (s *SQLiteStore) deleteSettings(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning settings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, sqlDeleteSetting, key); err != nil {
			return fmt.Errorf("store: deleting setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing settings: %w", err)
	}

	return nil
}
