package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
client_id = "id.apps.googleusercontent.com"
client_secret = "shh"
redirect_url = "https://backup.example.com/callback"
folder_path = "/Backups/site-a"
max_backups = 3

[state]
backend = "sqlite"
path = "/var/lib/drivebackup/state.db"

[logging]
log_level = "debug"
log_format = "json"

[network]
timeout = "2m"
api_endpoint = "http://127.0.0.1:9999/drive/v3/"

[server]
listen = "0.0.0.0:8080"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "id.apps.googleusercontent.com", cfg.ClientID)
	assert.Equal(t, "shh", cfg.ClientSecret)
	assert.Equal(t, "https://backup.example.com/callback", cfg.RedirectURL)
	assert.Equal(t, "/Backups/site-a", cfg.FolderPath)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, "/var/lib/drivebackup/state.db", cfg.State.Path)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, 2*time.Minute, cfg.Network.TimeoutDuration())
	assert.Equal(t, "http://127.0.0.1:9999/drive/v3/", cfg.Network.APIEndpoint)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `max_backups = 0`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.MaxBackups)
	assert.Equal(t, defaultFolderPath, cfg.FolderPath)
	assert.Equal(t, defaultRedirectURL, cfg.RedirectURL)
	assert.Equal(t, defaultStateBackend, cfg.State.Backend)
	assert.Equal(t, defaultTimeoutDuration, cfg.Network.TimeoutDuration())
}

func TestLoad_UnknownKeySuggestion(t *testing.T) {
	path := writeTestConfig(t, `
folder_pth = "/x"

[logging]
log_levl = "debug"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "folder_pth", did you mean "folder_path"?`)
	assert.Contains(t, err.Error(), `"logging.log_levl", did you mean "logging.log_level"?`)
}

func TestLoad_UnknownKeyNoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_unrelated_setting = true`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "completely_unrelated_setting"`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `folder_path = `)

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolvePath_Precedence(t *testing.T) {
	assert.Equal(t, "/cli.toml", ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
	assert.Equal(t, "/env.toml", ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, DefaultConfigPath(), ResolvePath(EnvOverrides{}, CLIOverrides{}))
}

func TestResolve_OverrideChain(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	path := writeTestConfig(t, `
folder_path = "/from-file"
max_backups = 5
`)

	folder := "/from-cli"
	zero := 0

	cfg, err := Resolve(path,
		EnvOverrides{ClientID: "env-id", ClientSecret: "env-secret", FolderPath: "/from-env"},
		CLIOverrides{FolderPath: &folder, MaxBackups: &zero},
	)
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.ClientID)
	assert.Equal(t, "env-secret", cfg.ClientSecret)
	assert.Equal(t, "/from-cli", cfg.FolderPath)
	assert.Equal(t, 0, cfg.MaxBackups)
	assert.Equal(t, "state.json", filepath.Base(cfg.State.Path))
}

func TestResolve_EnvFolderWithoutCLI(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "missing.toml"),
		EnvOverrides{FolderPath: "/from-env"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.FolderPath)
}

func TestResolve_InvalidOverride(t *testing.T) {
	negative := -1

	_, err := Resolve(filepath.Join(t.TempDir(), "missing.toml"),
		EnvOverrides{ClientID: "only-id"}, CLIOverrides{MaxBackups: &negative})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_backups")
	assert.Contains(t, err.Error(), "client_id and client_secret")
}

func TestDefaultStatePath_PerBackend(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	if DefaultDataDir() != filepath.Join("/data", appName) {
		t.Skip("XDG_DATA_HOME only applies on Linux")
	}

	assert.Equal(t, "/data/drivebackup/state.db", DefaultStatePath("sqlite"))
	assert.Equal(t, "/data/drivebackup/state.json", DefaultStatePath("file"))
}

func TestPIDFilePath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	if DefaultDataDir() != filepath.Join("/data", appName) {
		t.Skip("XDG_DATA_HOME only applies on Linux")
	}

	assert.Equal(t, "/data/drivebackup/serve.pid", PIDFilePath())
}
