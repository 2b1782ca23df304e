package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/drivebackup/internal/config"
	"github.com/tonimelisma/drivebackup/internal/destination"
	"github.com/tonimelisma/drivebackup/internal/metrics"
	"github.com/tonimelisma/drivebackup/internal/web"
)

var flagPIDFile string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization and settings web server",
		Long: `Serve the authorization redirect flow, the settings page, a JSON status
endpoint, health checks and Prometheus metrics on [server] listen.

The config file is reloaded when it changes on disk or on SIGHUP; folder_path
and max_backups take effect without a restart. Only one serve process may run
per data directory.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "PID file path (default: <data dir>/serve.pid)")

	return cmd
}

// pidFilePath returns the --pid-file override or the default location.
func pidFilePath() string {
	if flagPIDFile != "" {
		return flagPIDFile
	}

	return config.PIDFilePath()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(pidFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()

	sess, err := NewBackupSession(cc.Cfg, logger, m)
	if err != nil {
		return err
	}
	defer sess.Close()

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)
	reload := func() { reloadConfig(holder, cc, sess.Destination) }

	handler := web.NewHandler(web.Deps{
		Session:     sess.Auth,
		Destination: sess.Destination,
		Store:       sess.Store,
		SaveSettings: func(s destination.Settings) error {
			return persistSettings(holder.Path(), s)
		},
		Logger:  logger,
		Metrics: m,
	})

	ln, err := web.Listen(ctx, holder.Config().Server.Listen)
	if err != nil {
		return err
	}

	logger.Info("serve started",
		slog.String("listen", ln.Addr().String()),
		slog.String("config_path", holder.Path()),
		slog.Int("pid", os.Getpid()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return web.Serve(gctx, ln, handler, logger)
	})

	if dir := filepath.Dir(holder.Path()); dirExists(dir) {
		g.Go(func() error {
			return config.Watch(gctx, holder.Path(), logger, reload)
		})
	} else {
		logger.Info("config directory missing, file watching disabled", slog.String("dir", dir))
	}

	g.Go(func() error {
		return reloadOnSIGHUP(gctx, logger, reload)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("serve stopped")

	return nil
}

// reloadOnSIGHUP calls reload for each SIGHUP until ctx is canceled.
func reloadOnSIGHUP(ctx context.Context, logger *slog.Logger, reload func()) error {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sighup:
			logger.Info("SIGHUP received, reloading config")
			reload()
		}
	}
}

// reloadConfig re-resolves the config file and applies the destination
// settings. An invalid file is logged and the running config kept.
func reloadConfig(holder *config.Holder, cc *CLIContext, dest *destination.Destination) {
	cfg, err := config.Resolve(holder.Path(), cc.Env, cc.CLI)
	if err != nil {
		cc.Logger.Warn("config reload failed, keeping current config",
			slog.String("path", holder.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	old := holder.Update(cfg)
	dest.Reconfigure(destinationSettings(cfg))

	if old.State != cfg.State || old.Server != cfg.Server || old.Network != cfg.Network {
		cc.Logger.Warn("state, server and network settings take effect on restart")
	}

	cc.Logger.Info("config reload complete",
		slog.Uint64("generation", holder.Generation()),
		slog.String("folder_path", cfg.FolderPath),
		slog.Int("max_backups", cfg.MaxBackups),
	)
}

// persistSettings writes settings changed on the settings page to the
// config file.
func persistSettings(path string, s destination.Settings) error {
	if err := config.SetKey(path, "folder_path", s.FolderPath); err != nil {
		return err
	}

	return config.SetKey(path, "max_backups", strconv.Itoa(s.MaxBackups))
}

func dirExists(dir string) bool {
	fi, err := os.Stat(dir)

	return err == nil && fi.IsDir()
}
