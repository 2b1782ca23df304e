// Package gdrive is a thin client for the Google Drive v3 files API:
// multipart upload, metadata, download, paginated listing, folder lookup
// and creation, deletion and storage quota. Errors are classified into
// sentinels via *APIError.
package gdrive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Client wraps a drive.Service authorized by the HTTP client it was built
// with.
type Client struct {
	svc    *drive.Service
	logger *slog.Logger
}

// NewClient creates a Drive client on top of an authorized HTTP client.
// endpoint overrides the API base URL ("https://www.googleapis.com/drive/v3/")
// when non-empty.
func NewClient(ctx context.Context, httpClient *http.Client, endpoint string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating service: %w", err)
	}

	return &Client{svc: svc, logger: logger}, nil
}

// Authenticator yields an authorized HTTP client. Errors are returned to
// callers unchanged so they can match the authenticator's sentinels.
type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) (*http.Client, error)
}

// Connector builds a fresh Client per operation from the current credentials.
type Connector struct {
	auth     Authenticator
	endpoint string
	logger   *slog.Logger
}

// NewConnector returns a Connector that authorizes through auth and talks to
// endpoint (empty = Google's production API).
func NewConnector(auth Authenticator, endpoint string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}

	return &Connector{auth: auth, endpoint: endpoint, logger: logger}
}

// Connect authenticates and returns a ready Client.
func (c *Connector) Connect(ctx context.Context) (*Client, error) {
	httpClient, err := c.auth.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	return NewClient(ctx, httpClient, c.endpoint, c.logger)
}
