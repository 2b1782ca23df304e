package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the folder ID cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List cached folder paths and their Drive IDs",
		Args:  cobra.NoArgs,
		RunE:  runCacheShow,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every cached folder ID",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	})

	return cmd
}

func runCacheShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	cache, err := sess.Store.FolderCache()
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, cache)
	}

	if len(cache) == 0 {
		cc.Statusf("Folder cache is empty.\n")
		return nil
	}

	paths := make([]string, 0, len(cache))
	for p := range cache {
		paths = append(paths, p)
	}

	slices.SortFunc(paths, strings.Compare)

	rows := make([][]string, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, []string{"/" + p, cache[p]})
	}

	printTable(cc.Stdout, []string{"PATH", "FOLDER ID"}, rows)

	return nil
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Destination.ClearFolderCache(); err != nil {
		return fmt.Errorf("clearing folder cache: %w", err)
	}

	cc.Statusf("Folder cache cleared.\n")

	return nil
}
