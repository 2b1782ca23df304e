package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/drivebackup/internal/auth"
	"github.com/tonimelisma/drivebackup/internal/config"
	"github.com/tonimelisma/drivebackup/internal/destination"
	"github.com/tonimelisma/drivebackup/internal/folder"
	"github.com/tonimelisma/drivebackup/internal/gdrive"
	"github.com/tonimelisma/drivebackup/internal/metrics"
	"github.com/tonimelisma/drivebackup/internal/store"
)

// BackupSession wires the state store, OAuth session and destination for one
// resolved config. Close releases the store.
type BackupSession struct {
	Store       store.TokenStore
	Auth        *auth.Session
	Resolver    *folder.Resolver
	Destination *destination.Destination
}

// NewBackupSession opens the configured state store and builds the
// components on top of it. m may be nil.
func NewBackupSession(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*BackupSession, error) {
	if cfg.State.Path == "" {
		return nil, fmt.Errorf("cannot determine state path for backend %q; set [state] path", cfg.State.Backend)
	}

	st, err := store.Open(cfg.State.Backend, cfg.State.Path, logger)
	if err != nil {
		return nil, err
	}

	sess := auth.NewSession(st, auth.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Timeout:      cfg.Network.TimeoutDuration(),
		Logger:       logger,
		Metrics:      m,
	})

	resolver := folder.NewResolver(st, logger)
	conn := gdrive.NewConnector(sess, cfg.Network.APIEndpoint, logger)

	dest := destination.New(conn, resolver, destination.Options{
		FolderPath: cfg.FolderPath,
		MaxBackups: cfg.MaxBackups,
		Logger:     logger,
		Metrics:    m,
	})

	logger.Debug("backup session ready",
		slog.String("state_backend", cfg.State.Backend),
		slog.String("state_path", cfg.State.Path),
		slog.String("folder_path", cfg.FolderPath),
	)

	return &BackupSession{Store: st, Auth: sess, Resolver: resolver, Destination: dest}, nil
}

// Close releases the state store.
func (s *BackupSession) Close() error {
	return s.Store.Close()
}

// destinationSettings extracts the reconfigurable destination settings.
func destinationSettings(cfg *config.Config) destination.Settings {
	return destination.Settings{FolderPath: cfg.FolderPath, MaxBackups: cfg.MaxBackups}
}

// friendlyAuthError adds the next step to authorization failures.
func friendlyAuthError(err error) error {
	switch {
	case errors.Is(err, auth.ErrMissingClientCredentials):
		return fmt.Errorf("%w; run 'drivebackup configure --client-id ID --client-secret SECRET' first", err)
	case errors.Is(err, auth.ErrNotAuthorized):
		return fmt.Errorf("%w; run 'drivebackup login' first", err)
	case errors.Is(err, auth.ErrExpiredCredential):
		return fmt.Errorf("%w; run 'drivebackup login' again", err)
	default:
		return err
	}
}

// openSession is the common prologue of commands that talk to Drive.
func openSession(cc *CLIContext) (*BackupSession, error) {
	return NewBackupSession(cc.Cfg, cc.Logger, nil)
}
