package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "DRIVEBACKUP_CONFIG"
	EnvClientID     = "DRIVEBACKUP_CLIENT_ID"
	EnvClientSecret = "DRIVEBACKUP_CLIENT_SECRET"
	EnvFolderPath   = "DRIVEBACKUP_FOLDER_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string // DRIVEBACKUP_CONFIG: override config file path
	ClientID     string // DRIVEBACKUP_CLIENT_ID
	ClientSecret string // DRIVEBACKUP_CLIENT_SECRET
	FolderPath   string // DRIVEBACKUP_FOLDER_PATH
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		FolderPath:   os.Getenv(EnvFolderPath),
	}
}
