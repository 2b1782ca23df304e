package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebackup/internal/auth"
	"github.com/tonimelisma/drivebackup/internal/store"
)

// Client state constants for status reporting.
const (
	clientStateStored = "stored"
	clientStateConfig = "config"
	clientStateNone   = "missing"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authorization, destination settings and quota",
		Long: `Display whether an OAuth client is configured, the authorization state,
the destination folder and retention limit. When authorized, the Drive
storage quota is fetched as well.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport is the JSON output schema of status.
type statusReport struct {
	ConfigPath  string       `json:"config_path"`
	StatePath   string       `json:"state_path"`
	Client      string       `json:"client"`
	State       string       `json:"state"`
	FolderPath  string       `json:"folder_path"`
	MaxBackups  int          `json:"max_backups"`
	Quota       *statusQuota `json:"quota,omitempty"`
	QuotaError  string       `json:"quota_error,omitempty"`
	DaemonState string       `json:"daemon,omitempty"`
}

type statusQuota struct {
	Email string `json:"email"`
	Usage int64  `json:"usage"`
	Limit int64  `json:"limit"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	report := statusReport{
		ConfigPath: cc.CfgPath,
		StatePath:  cc.Cfg.State.Path,
		Client:     clientState(sess.Store, sess.Auth),
		State:      sess.Auth.Status().String(),
		FolderPath: cc.Cfg.FolderPath,
		MaxBackups: cc.Cfg.MaxBackups,
	}

	if sess.Auth.Status() == auth.Authenticated {
		quota, qErr := sess.Destination.About(cmd.Context())
		if qErr != nil {
			cc.Logger.Warn("fetching quota", slog.String("error", qErr.Error()))
			report.QuotaError = friendlyAuthError(qErr).Error()
		} else {
			report.Quota = &statusQuota{Email: quota.Email, Usage: quota.Usage, Limit: quota.Limit}
		}
	}

	if proc, procErr := runningDaemon(pidFilePath()); procErr == nil {
		report.DaemonState = fmt.Sprintf("running (PID %d)", proc.Pid)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, report)
	}

	printStatusText(cc.Stdout, &report)

	return nil
}

// clientState reports where the effective OAuth client comes from.
func clientState(st store.TokenStore, sess *auth.Session) string {
	if stored, err := st.ClientCredentials(); err == nil && stored.Complete() {
		return clientStateStored
	}

	if _, err := sess.ClientCredentials(); errors.Is(err, auth.ErrMissingClientCredentials) {
		return clientStateNone
	}

	return clientStateConfig
}

func printStatusText(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Config:       %s\n", r.ConfigPath)
	fmt.Fprintf(w, "State:        %s\n", r.StatePath)
	fmt.Fprintf(w, "OAuth client: %s\n", r.Client)
	fmt.Fprintf(w, "Authorized:   %s\n", r.State)
	fmt.Fprintf(w, "Folder:       %s\n", r.FolderPath)

	if r.MaxBackups > 0 {
		fmt.Fprintf(w, "Keep:         %d newest backups\n", r.MaxBackups)
	} else {
		fmt.Fprintf(w, "Keep:         all backups\n")
	}

	switch {
	case r.Quota != nil:
		fmt.Fprintf(w, "Account:      %s\n", r.Quota.Email)
		fmt.Fprintf(w, "Storage:      %s\n", formatQuota(r.Quota.Usage, r.Quota.Limit))
	case r.QuotaError != "":
		fmt.Fprintf(w, "Storage:      unavailable (%s)\n", r.QuotaError)
	}

	if r.DaemonState != "" {
		fmt.Fprintf(w, "Daemon:       %s\n", r.DaemonState)
	}
}
