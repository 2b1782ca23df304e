package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedirectURL = "localhost/callback"
	cfg.State.Backend = "postgres"
	cfg.Logging.LogLevel = "loud"
	cfg.Logging.LogFormat = "xml"
	cfg.Network.Timeout = "500ms"
	cfg.Network.APIEndpoint = "ftp://example.com"
	cfg.Server.Listen = "8080"

	err := Validate(cfg)
	require.Error(t, err)

	for _, want := range []string{
		"redirect_url",
		"state.backend",
		"logging.log_level",
		"logging.log_format",
		"network.timeout: must be >= 1s",
		"network.api_endpoint",
		"server.listen",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Timeout(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"60s", false},
		{"1s", false},
		{"0s", true},
		{"soon", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Network.Timeout = tt.value

			if tt.wantErr {
				assert.Error(t, Validate(cfg))
			} else {
				assert.NoError(t, Validate(cfg))
			}
		})
	}
}

func TestValidate_ClientCredentialsPaired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientSecret = "secret"
	assert.ErrorContains(t, Validate(cfg), "must be set together")

	cfg.ClientID = "id"
	assert.NoError(t, Validate(cfg))
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "max_backups", closestMatch("max_backup", knownKeysList))
	assert.Equal(t, "", closestMatch("zzzzzzzzzz", knownKeysList))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "abcd"))
}
