package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// statusf prints a progress or confirmation line to stderr unless quiet.
// Stdout stays reserved for command output so it can be piped.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// formatSize renders bytes with binary units, e.g. "1.5 KB".
func formatSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}

	v := float64(bytes) / 1024
	unit := 0

	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}

	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}

// formatQuota renders Drive storage usage against its limit. A zero limit
// means the account has unlimited storage.
func formatQuota(usage, limit int64) string {
	if limit <= 0 {
		return formatSize(usage) + " used (unlimited)"
	}

	return fmt.Sprintf("%s of %s used (%.0f%%)", formatSize(usage), formatSize(limit), 100*float64(usage)/float64(limit))
}

// recentWindow is how old a backup may be and still show a clock time
// instead of a year, as ls does.
const recentWindow = 180 * 24 * time.Hour

// formatTime renders a backup timestamp in local time.
func formatTime(t time.Time) string {
	return formatTimeAt(t, time.Now())
}

func formatTimeAt(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.In(now.Location())

	if age := now.Sub(t); age >= 0 && age < recentWindow {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes headers and rows as aligned columns.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}
