package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

const minTimeout = 1 * time.Second

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDestination(cfg)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	return errors.Join(errs...)
}

func validateDestination(cfg *Config) []error {
	var errs []error

	if (cfg.ClientID == "") != (cfg.ClientSecret == "") {
		errs = append(errs, errors.New("client_id and client_secret: must be set together"))
	}

	if err := validateAbsoluteURL(cfg.RedirectURL); err != nil {
		errs = append(errs, fmt.Errorf("redirect_url: %w", err))
	}

	if cfg.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("max_backups: must be >= 0 (0 = unlimited), got %d", cfg.MaxBackups))
	}

	return errs
}

var validStateBackends = map[string]bool{
	"file":   true,
	"sqlite": true,
}

func validateState(s *StateConfig) []error {
	if !validStateBackends[s.Backend] {
		return []error{fmt.Errorf("state.backend: must be one of file, sqlite; got %q", s.Backend)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("network.timeout: invalid duration %q: %w", n.Timeout, err))
	} else if d < minTimeout {
		errs = append(errs, fmt.Errorf("network.timeout: must be >= %s, got %s", minTimeout, n.Timeout))
	}

	if n.APIEndpoint != "" {
		if err := validateAbsoluteURL(n.APIEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("network.api_endpoint: %w", err))
		}
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return []error{fmt.Errorf("server.listen: %w", err)}
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL, got %q", raw)
	}

	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}

	return nil
}
