package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebackup/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a top-level config key (folder_path, max_backups, redirect_url, ...)",
		Long: `Set a top-level key in the config file, creating the file from the
default template when it does not exist. A running serve process is notified
to reload.`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

// redactedSecret replaces client_secret in displayed config.
const redactedSecret = "********"

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	shown := *cc.Cfg
	if shown.ClientSecret != "" {
		shown.ClientSecret = redactedSecret
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, shown)
	}

	fmt.Fprintf(cc.Stdout, "# %s\n", cc.CfgPath)

	return toml.NewEncoder(cc.Stdout).Encode(shown)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	key, value := args[0], args[1]

	if err := config.SetKey(cc.CfgPath, key, value); err != nil {
		return err
	}

	// Reject the edit's effect early instead of at the next start.
	if _, err := config.Load(cc.CfgPath); err != nil {
		return fmt.Errorf("config file %s is now invalid: %w", cc.CfgPath, err)
	}

	cc.Statusf("Set %s in %s\n", key, cc.CfgPath)
	notifyDaemon(cc.Flags.Quiet)

	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	created, err := config.WriteDefault(cc.CfgPath)
	if err != nil {
		return err
	}

	if created {
		cc.Statusf("Wrote %s\n", cc.CfgPath)
	} else {
		cc.Statusf("%s already exists\n", cc.CfgPath)
	}

	return nil
}

// notifyDaemon attempts to send SIGHUP to a running serve process.
// Non-fatal: if no daemon is running, prints a note instead.
func notifyDaemon(quiet bool) {
	pidPath := pidFilePath()
	if pidPath == "" {
		return
	}

	if err := sendSIGHUP(pidPath); err != nil {
		statusf(quiet, "Note: %v; changes take effect on next serve start\n", err)
	} else {
		statusf(quiet, "Notified running serve process to reload config\n")
	}
}
