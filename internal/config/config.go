// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for drivebackup. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// The flat top-level keys describe the backup destination; the tables hold
// process settings.
type Config struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
	FolderPath   string `toml:"folder_path"`
	MaxBackups   int    `toml:"max_backups"`

	State   StateConfig   `toml:"state"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
	Server  ServerConfig  `toml:"server"`
}

// StateConfig selects where tokens, client credentials and the folder cache
// are persisted.
type StateConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior. APIEndpoint overrides the
// Drive API base URL, which is useful behind proxies and in tests.
type NetworkConfig struct {
	Timeout     string `toml:"timeout"`
	APIEndpoint string `toml:"api_endpoint"`
}

// ServerConfig controls the `serve` HTTP listener.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// TimeoutDuration returns the parsed transport timeout, falling back to the
// default when the value is empty or invalid. Validate reports invalid values.
func (n NetworkConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeoutDuration
	}

	return d
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value": --max-backups=0 means unlimited, which
// is different from not passing the flag at all.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	FolderPath *string // --folder flag
	MaxBackups *int    // --max-backups flag
}
