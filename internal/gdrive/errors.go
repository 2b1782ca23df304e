package gdrive

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Sentinel errors for Drive API status classification.
// Use errors.Is(err, gdrive.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("gdrive: bad request")
	ErrUnauthorized = errors.New("gdrive: unauthorized")
	ErrForbidden    = errors.New("gdrive: forbidden")
	ErrNotFound     = errors.New("gdrive: not found")
	ErrThrottled    = errors.New("gdrive: throttled")
	ErrServerError  = errors.New("gdrive: server error")
	ErrInvalidItem  = errors.New("gdrive: invalid item")
)

// APIError wraps a sentinel error with the HTTP status code and the
// provider's message.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is(); nil when unclassified
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gdrive: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// rateLimitReasons are the 403 reasons Drive uses for throttling.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// wrapErr converts errors from the generated Drive client into *APIError
// when the provider answered, and plain wrapped errors otherwise.
func wrapErr(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("gdrive: %s: %w", op, err)
	}

	sentinel := classifyStatus(gerr.Code)

	for _, item := range gerr.Errors {
		if gerr.Code == http.StatusForbidden && rateLimitReasons[item.Reason] {
			sentinel = ErrThrottled
		}
	}

	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}

	return &APIError{
		Op:         op,
		StatusCode: gerr.Code,
		Message:    msg,
		Err:        sentinel,
	}
}
