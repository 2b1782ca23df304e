package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// configFilePermissions keeps client_secret private to the owner.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the config file written by `configure` when none exists.
// Every setting is present as a commented-out default so users can discover
// the options without reading docs. Top-level keys set by `configure` are
// inserted above the first table header.
const configTemplate = `# drivebackup configuration

# Remote folder that receives backups. Nested paths are created on demand.
# folder_path = "/backups"

# Keep at most this many backups in the folder; 0 keeps everything.
# max_backups = 10

# Must match a redirect URI registered for the OAuth client.
# redirect_url = "http://localhost:53682/callback"

[state]
# backend = "file"   # or "sqlite"
# path = ""          # default: platform data directory

[logging]
# log_level = "info"
# log_format = "auto"

[network]
# timeout = "60s"

[server]
# listen = "127.0.0.1:53682"
`

// WriteDefault writes the config template to path unless a file already
// exists there. Reports whether a file was created.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking config file: %w", err)
	}

	slog.Info("creating config file", slog.String("path", path))

	if err := atomicWriteFile(path, []byte(configTemplate)); err != nil {
		return false, err
	}

	return true, nil
}

// SetKey sets a top-level key in the config file at path, creating the file
// from the template first when needed. An existing assignment (commented-out
// or not) is replaced in place; otherwise the key is inserted before the first
// table header. Line-based so user comments survive.
func SetKey(path, key, value string) error {
	if !topLevelKeys[key] {
		return fmt.Errorf("setting config key %q: not a top-level key", key)
	}

	formatted, err := formatTOMLValue(key, value)
	if err != nil {
		return err
	}

	if _, err := WriteDefault(path); err != nil {
		return err
	}

	slog.Info("setting config key", slog.String("path", path), slog.String("key", key))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	lines = setTopLevelLine(lines, key, key+" = "+formatted)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// setTopLevelLine replaces the first assignment to key above the first table
// header, preferring a live assignment over a commented-out one.
func setTopLevelLine(lines []string, key, newLine string) []string {
	firstHeader := len(lines)
	commented := -1

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "[") {
			firstHeader = i

			break
		}

		if assignsKey(trimmed, key) {
			lines[i] = newLine

			return lines
		}

		if commented < 0 && assignsKey(strings.TrimSpace(strings.TrimPrefix(trimmed, "#")), key) {
			commented = i
		}
	}

	if commented >= 0 {
		lines[commented] = newLine

		return lines
	}

	return append(lines[:firstHeader], append([]string{newLine, ""}, lines[firstHeader:]...)...)
}

func assignsKey(line, key string) bool {
	rest, ok := strings.CutPrefix(line, key)
	if !ok {
		return false
	}

	return strings.HasPrefix(strings.TrimSpace(rest), "=")
}

// topLevelKeys are the keys SetKey can write.
var topLevelKeys = map[string]bool{
	"client_id": true, "client_secret": true, "redirect_url": true,
	"folder_path": true, "max_backups": true,
}

// integerKeys are the top-level keys holding integers; every other
// top-level key is a string.
var integerKeys = map[string]bool{"max_backups": true}

// formatTOMLValue renders value as the TOML type of key.
func formatTOMLValue(key, value string) (string, error) {
	if !integerKeys[key] {
		return strconv.Quote(value), nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("setting config key %q: %q is not an integer", key, value)
	}

	return strconv.Itoa(n), nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
