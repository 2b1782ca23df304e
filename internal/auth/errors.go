package auth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrNotAuthorized means no credential was ever obtained.
	ErrNotAuthorized = errors.New("auth: not authorized")
	// ErrExpiredCredential means the access token expired and cannot be
	// refreshed; the user must authorize again.
	ErrExpiredCredential = errors.New("auth: credential expired")
	// ErrAuthExchange means the provider rejected an authorization code.
	ErrAuthExchange = errors.New("auth: authorization code exchange failed")
	// ErrMissingClientCredentials means no OAuth client id/secret is configured.
	ErrMissingClientCredentials = errors.New("auth: missing OAuth client id or secret")
)

// ExchangeError carries the provider's rejection of an authorization code.
type ExchangeError struct {
	Code        string // OAuth error code, e.g. "invalid_grant"
	Description string // provider's error_description
	Err         error  // underlying transport or oauth2 error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("auth: authorization code exchange failed: %s: %s", e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("auth: authorization code exchange failed: %s", e.Code)
	default:
		return fmt.Sprintf("auth: authorization code exchange failed: %s", e.Description)
	}
}

func (e *ExchangeError) Unwrap() []error {
	return []error{ErrAuthExchange, e.Err}
}

// newExchangeError extracts the provider's error code and description when
// the token endpoint answered.
func newExchangeError(err error) *ExchangeError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		desc := re.ErrorDescription
		if desc == "" && re.ErrorCode == "" {
			desc = string(re.Body)
		}

		return &ExchangeError{Code: re.ErrorCode, Description: desc, Err: err}
	}

	return &ExchangeError{Description: err.Error(), Err: err}
}

// providerMessage renders an oauth2 error for wrapping into other errors.
func providerMessage(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		if re.ErrorDescription != "" {
			return re.ErrorCode + ": " + re.ErrorDescription
		}

		return re.ErrorCode
	}

	return err.Error()
}
