package config

import "time"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultRedirectURL     = "http://localhost:53682/callback"
	defaultFolderPath      = "/backups"
	defaultMaxBackups      = 10
	defaultStateBackend    = "file"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultTimeout         = "60s"
	defaultTimeoutDuration = 60 * time.Second
	defaultListen          = "127.0.0.1:53682"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// The state path is left empty; Resolve fills it from the data directory.
func DefaultConfig() *Config {
	return &Config{
		RedirectURL: defaultRedirectURL,
		FolderPath:  defaultFolderPath,
		MaxBackups:  defaultMaxBackups,
		State: StateConfig{
			Backend: defaultStateBackend,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Server: ServerConfig{
			Listen: defaultListen,
		},
	}
}
