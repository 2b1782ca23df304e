package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebackup/internal/destination"
)

// errNotExist makes `exists` exit with status 1 without an error message.
var errNotExist = errors.New("backup does not exist")

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>",
		Short: "Upload a backup file",
		Long: `Upload a backup into the configured folder. When max_backups is positive,
the oldest backups beyond the limit are deleted afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: runPut,
	}

	cmd.Flags().String("name", "", "remote file name (default: base name of the local file)")
	cmd.Flags().String("description", "", "remote file description")

	return cmd
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}

	cmd.Flags().Int("limit", 0, "show at most this many backups (0 = all)")
	cmd.Flags().Int("offset", 0, "skip this many backups")
	cmd.Flags().Bool("count", false, "print only the number of backups")

	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <id>",
		Short: "Display backup metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id> [local-path]",
		Short: "Download a backup",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <id>",
		Short: "Check whether a backup exists (exit status 1 when it does not)",
		Args:  cobra.ExactArgs(1),
		RunE:  runExists,
	}
}

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete the oldest backups beyond the retention limit",
		Args:  cobra.NoArgs,
		RunE:  runPrune,
	}

	cmd.Flags().Int("keep", 0, "number of backups to keep (default: max_backups)")

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	description, _ := cmd.Flags().GetString("description")

	localPath := args[0]

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("reading %q: %w", localPath, err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", localPath)
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	id, err := sess.Destination.Save(ctx, destination.LocalFile{Path: localPath, Name: name, Description: description})
	if err != nil {
		return friendlyAuthError(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, map[string]string{"id": id})
	}

	fmt.Fprintln(cc.Stdout, id)
	cc.Statusf("Uploaded %s (%s)\n", localPath, formatSize(fi.Size()))

	return nil
}

// lsJSONItem is the JSON output schema for a single backup.
type lsJSONItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
	ModifiedAt  string `json:"modified_at"`
	Description string `json:"description,omitempty"`
}

func toJSONItem(f *destination.RemoteFile) lsJSONItem {
	return lsJSONItem{
		ID:          f.ID,
		Name:        f.Name,
		Size:        f.Size,
		CreatedAt:   f.CreatedAt.UTC().Format(time.RFC3339),
		ModifiedAt:  f.ModifiedAt.UTC().Format(time.RFC3339),
		Description: f.Description,
	}
}

func runLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	countOnly, _ := cmd.Flags().GetBool("count")

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if countOnly {
		n, err := sess.Destination.CountFiles(ctx)
		if err != nil {
			return friendlyAuthError(err)
		}

		if cc.Flags.JSON {
			return printJSON(cc.Stdout, map[string]int{"count": n})
		}

		fmt.Fprintln(cc.Stdout, n)

		return nil
	}

	files, err := sess.Destination.QueryFiles(ctx, destination.Query{Limit: limit, Offset: offset})
	if err != nil {
		return friendlyAuthError(err)
	}

	if cc.Flags.JSON {
		out := make([]lsJSONItem, 0, len(files))
		for i := range files {
			out = append(out, toJSONItem(&files[i]))
		}

		return printJSON(cc.Stdout, out)
	}

	printFilesTable(cc.Stdout, files)

	return nil
}

func printFilesTable(w io.Writer, files []destination.RemoteFile) {
	headers := []string{"ID", "NAME", "SIZE", "CREATED"}
	rows := make([][]string, 0, len(files))

	for i := range files {
		rows = append(rows, []string{files[i].ID, files[i].Name, formatSize(files[i].Size), formatTime(files[i].CreatedAt)})
	}

	printTable(w, headers, rows)
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	f, err := sess.Destination.GetFile(cmd.Context(), args[0])
	if err != nil {
		return friendlyAuthError(err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, toJSONItem(f))
	}

	printStatText(cc.Stdout, f)

	return nil
}

func printStatText(w io.Writer, f *destination.RemoteFile) {
	fmt.Fprintf(w, "ID:          %s\n", f.ID)
	fmt.Fprintf(w, "Name:        %s\n", f.Name)
	fmt.Fprintf(w, "Size:        %s (%d bytes)\n", formatSize(f.Size), f.Size)
	fmt.Fprintf(w, "Created:     %s\n", f.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Modified:    %s\n", f.ModifiedAt.Format(time.RFC3339))

	if f.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", f.Description)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	loaded, err := sess.Destination.Load(ctx, destination.Handle{ID: args[0]})
	if err != nil {
		return friendlyAuthError(err)
	}

	localPath := filepath.Base(loaded.Name)
	if len(args) > 1 {
		localPath = args[1]
	}

	if err := moveFile(loaded.Path, localPath); err != nil {
		_ = loaded.Remove()
		return err
	}

	cc.Logger.Debug("download complete", "local_path", localPath, "bytes", loaded.Size)
	cc.Statusf("Downloaded %s (%s)\n", localPath, formatSize(loaded.Size))

	return nil
}

// moveFile renames src to dst, copying across filesystems when rename fails.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening download: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %q: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("writing %q: %w", dst, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", dst, err)
	}

	return os.Remove(src)
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.Destination.Delete(cmd.Context(), args[0]); err != nil {
		return friendlyAuthError(err)
	}

	cc.Statusf("Deleted %s\n", args[0])

	return nil
}

func runExists(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	exists := sess.Destination.Exists(cmd.Context(), args[0])

	if cc.Flags.JSON {
		if err := printJSON(cc.Stdout, map[string]bool{"exists": exists}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cc.Stdout, exists)
	}

	if !exists {
		return errNotExist
	}

	return nil
}

func runPrune(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	keep := cc.Cfg.MaxBackups
	if cmd.Flags().Changed("keep") {
		keep, _ = cmd.Flags().GetInt("keep")
	}

	if keep <= 0 {
		cc.Statusf("Retention is unlimited; nothing to prune.\n")
		return nil
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	deleted, err := sess.Destination.CleanupOldBackups(cmd.Context(), keep)

	cc.Statusf("Deleted %d old backup(s), keeping %d.\n", deleted, keep)

	if err != nil {
		return friendlyAuthError(err)
	}

	return nil
}
