// Package testutil provides shared environment helpers for the live E2E
// tests. It depends only on the standard library because e2e/ exercises the
// built binary and cannot import internal/.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvTestAccount     = "DRIVEBACKUP_TEST_ACCOUNT"
	EnvAllowedAccounts = "DRIVEBACKUP_ALLOWED_TEST_ACCOUNTS"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at envPath. A missing
// file is not an error (CI sets the variables directly). Variables already
// set in the environment win over the file.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireAllowedAccount exits the process unless the Google account named by
// DRIVEBACKUP_TEST_ACCOUNT appears in DRIVEBACKUP_ALLOWED_TEST_ACCOUNTS. The
// suite uploads and deletes real files, so it must never run against an
// account nobody opted in.
func RequireAllowedAccount() string {
	allowlist := os.Getenv(EnvAllowedAccounts)
	if allowlist == "" {
		fatalf("%s not set\nExample: %s=backup-test@example.com", EnvAllowedAccounts, EnvAllowedAccounts)
	}

	account := os.Getenv(EnvTestAccount)
	if account == "" {
		fatalf("%s not set", EnvTestAccount)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), account) {
			return account
		}
	}

	fatalf("%s=%q is not in %s=%q", EnvTestAccount, account, EnvAllowedAccounts, allowlist)

	return ""
}

// FindModuleRoot walks up from the working directory to the directory
// holding go.mod, or returns fallback.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestCredentialDir returns .testdata/ under moduleRoot. It holds a
// config.toml and the state file produced by
// `drivebackup --config .testdata/config.toml login`.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(dir); err != nil {
		fatalf(".testdata/ directory not found at %s\n"+
			"Create .testdata/config.toml with [state] path = \".testdata/state.json\" and run login with it.", dir)
	}

	return dir
}

// CopyFile copies src to dst with perm, exiting on failure because the suite
// cannot run without its credentials.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fatalf("cannot read %s: %v", src, err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		fatalf("writing %s: %v", dst, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
