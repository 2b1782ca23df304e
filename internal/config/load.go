package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// State file names inside the data directory, per backend.
const (
	stateFileJSON   = "state.json"
	stateFileSQLite = "state.db"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolvePath picks the config file path: CLI > env > platform default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads the config file at path and applies the rest of the override
// chain: defaults -> config file -> environment variables -> CLI flags.
// The state path is filled from the data directory when unset.
func Resolve(path string, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if env.ClientID != "" {
		cfg.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.ClientSecret = env.ClientSecret
	}

	if env.FolderPath != "" {
		cfg.FolderPath = env.FolderPath
	}

	if cli.FolderPath != nil {
		cfg.FolderPath = *cli.FolderPath
	}

	if cli.MaxBackups != nil {
		cfg.MaxBackups = *cli.MaxBackups
	}

	cfg.State.Path = expandTilde(cfg.State.Path)
	if cfg.State.Path == "" {
		cfg.State.Path = DefaultStatePath(cfg.State.Backend)
	}

	// Overrides can introduce values the file never had.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// DefaultStatePath returns the state location inside the data directory for
// the given backend.
func DefaultStatePath(backend string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	if backend == "sqlite" {
		return filepath.Join(dir, stateFileSQLite)
	}

	return filepath.Join(dir, stateFileJSON)
}
