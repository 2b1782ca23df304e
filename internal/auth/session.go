// Package auth manages the OAuth2 token lifecycle against Google: building
// the consent URL, exchanging authorization codes, refreshing expired access
// tokens and handing out authorized HTTP clients. Tokens live in a
// store.TokenStore; a freshly exchanged token is also held in memory for the
// lifetime of the Session.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tonimelisma/drivebackup/internal/metrics"
	"github.com/tonimelisma/drivebackup/internal/store"
)

// DriveFileScope grants access to files the application created.
const DriveFileScope = "https://www.googleapis.com/auth/drive.file"

// expiryDelta treats tokens this close to expiry as already expired,
// matching the oauth2 package's own early-expiry window.
const expiryDelta = 10 * time.Second

// State is the authorization state shown by the settings and status views.
type State int

// Authorization states.
const (
	// Unauthenticated: no token stored or held.
	Unauthenticated State = iota
	// Authenticated: a usable token exists, valid or refreshable.
	Authenticated
	// Expired: the access token expired and there is no refresh token.
	Expired
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// Options configures a Session.
type Options struct {
	// ClientID and ClientSecret are the fallback OAuth client, used when the
	// store holds none.
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
	// Scopes defaults to DriveFileScope.
	Scopes []string
	// HTTPClient is used for token requests and as the base transport of
	// authorized clients. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds each request made with an authorized client.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session produces authorized HTTP clients. Safe for concurrent use; token
// reads and refreshes are serialized.
type Session struct {
	store  store.TokenStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	sessionToken *oauth2.Token
}

// NewSession returns a Session over st.
func NewSession(st store.TokenStore, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Endpoint == (oauth2.Endpoint{}) {
		opts.Endpoint = google.Endpoint
	}

	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{DriveFileScope}
	}

	return &Session{
		store:  st,
		opts:   opts,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// ClientCredentials returns the effective OAuth client: the stored one when
// complete, otherwise the one from Options.
func (s *Session) ClientCredentials() (store.ClientCredentials, error) {
	creds, err := s.store.ClientCredentials()
	if err != nil {
		return store.ClientCredentials{}, fmt.Errorf("auth: reading client credentials: %w", err)
	}

	if creds.Complete() {
		return creds, nil
	}

	fallback := store.ClientCredentials{ClientID: s.opts.ClientID, ClientSecret: s.opts.ClientSecret}
	if fallback.Complete() {
		return fallback, nil
	}

	return store.ClientCredentials{}, ErrMissingClientCredentials
}

// AuthCodeURL returns the consent URL for state. Offline access and a forced
// consent prompt make Google issue a refresh token every time.
func (s *Session) AuthCodeURL(state string) (string, error) {
	creds, err := s.ClientCredentials()
	if err != nil {
		return "", err
	}

	cfg := s.oauthConfig(creds)

	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// Exchange trades an authorization code for a token pair. The token is held
// in memory first and then persisted; when persisting fails the error is
// returned but the in-memory token keeps the Session usable.
func (s *Session) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	creds, err := s.ClientCredentials()
	if err != nil {
		return nil, err
	}

	s.logger.Info("exchanging authorization code")

	tok, err := s.oauthConfig(creds).Exchange(s.oauthCtx(ctx), code)
	if err != nil {
		exErr := newExchangeError(err)
		s.logger.Warn("authorization code exchange failed",
			slog.String("code", exErr.Code),
			slog.String("description", exErr.Description),
		)

		return nil, exErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionToken = tok

	if err := s.store.SaveToken(tok); err != nil {
		return tok, fmt.Errorf("auth: persisting token: %w", err)
	}

	s.logger.Info("authorization successful",
		slog.Time("expiry", tok.Expiry),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return tok, nil
}

// EnsureAuthenticated returns an HTTP client that authorizes every request.
// An expired access token is refreshed and persisted before returning; the
// client persists any later silent refresh too.
func (s *Session) EnsureAuthenticated(ctx context.Context) (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, fromStore, err := s.currentToken()
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotAuthorized
	}

	// Client credentials are only needed to refresh.
	creds, credsErr := s.ClientCredentials()

	if s.expired(tok) {
		if tok.RefreshToken == "" {
			return nil, fmt.Errorf("%w: access token expired at %s and no refresh token is stored; authorize again",
				ErrExpiredCredential, tok.Expiry.Format(time.RFC3339))
		}

		if credsErr != nil {
			return nil, credsErr
		}

		if tok, err = s.refresh(ctx, creds, tok, fromStore); err != nil {
			return nil, err
		}
	}

	// The client outlives this call; refreshes must not inherit its cancellation.
	baseCtx := context.WithoutCancel(s.oauthCtx(ctx))

	var client *http.Client
	if credsErr != nil {
		s.logger.Debug("no OAuth client configured, using access token as is",
			slog.Time("expiry", tok.Expiry))

		client = oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(tok))
	} else {
		cfg := s.oauthConfig(creds)
		client = oauth2.NewClient(baseCtx, cfg.TokenSource(baseCtx, tok))
	}

	client.Timeout = s.opts.Timeout

	return client, nil
}

// Revoke forgets the stored and in-memory tokens. Client credentials stay.
func (s *Session) Revoke() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionToken = nil

	if err := s.store.ClearToken(); err != nil {
		return fmt.Errorf("auth: clearing token: %w", err)
	}

	s.logger.Info("authorization revoked")

	return nil
}

// Status reports the current authorization state. Store read errors count as
// unauthenticated.
func (s *Session) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, _, err := s.currentToken()
	if err != nil {
		s.logger.Warn("reading token for status", slog.String("error", err.Error()))

		return Unauthenticated
	}

	switch {
	case tok == nil:
		return Unauthenticated
	case s.expired(tok) && tok.RefreshToken == "":
		return Expired
	default:
		return Authenticated
	}
}

// currentToken returns the stored token, falling back to the session token.
// Caller holds mu.
func (s *Session) currentToken() (tok *oauth2.Token, fromStore bool, err error) {
	stored, err := s.store.Token()
	if err != nil {
		return nil, false, fmt.Errorf("auth: reading stored token: %w", err)
	}

	if stored != nil && (stored.AccessToken != "" || stored.RefreshToken != "") {
		return stored, true, nil
	}

	if s.sessionToken != nil {
		return s.sessionToken, false, nil
	}

	return nil, false, nil
}

func (s *Session) expired(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return true
	}

	return !tok.Expiry.IsZero() && !tok.Expiry.After(s.now().Add(expiryDelta))
}

// refresh forces a token refresh with the refresh token and persists the
// result immediately. Caller holds mu.
func (s *Session) refresh(
	ctx context.Context, creds store.ClientCredentials, tok *oauth2.Token, fromStore bool,
) (*oauth2.Token, error) {
	s.logger.Info("access token expired, refreshing", slog.Time("expiry", tok.Expiry))

	cfg := s.oauthConfig(creds)
	// Persisted explicitly below.
	cfg.OnTokenChange = nil

	// An empty access token makes the source refresh unconditionally.
	fresh, err := cfg.TokenSource(s.oauthCtx(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		s.opts.Metrics.TokenRefresh(false)
		s.logger.Warn("token refresh failed", slog.String("error", providerMessage(err)))

		return nil, fmt.Errorf("%w: refreshing access token: %s: %w", ErrExpiredCredential, providerMessage(err), err)
	}

	s.opts.Metrics.TokenRefresh(true)

	if !fromStore {
		s.sessionToken = fresh
	}

	if err := s.store.SaveToken(fresh); err != nil {
		s.logger.Error("failed to persist refreshed token", slog.String("error", err.Error()))
	} else {
		s.logger.Info("persisted refreshed token", slog.Time("new_expiry", fresh.Expiry))
	}

	return fresh, nil
}

// oauthConfig builds an oauth2.Config whose OnTokenChange persists tokens
// refreshed silently by authorized clients.
func (s *Session) oauthConfig(creds store.ClientCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  s.opts.RedirectURL,
		Scopes:       s.opts.Scopes,
		Endpoint:     s.opts.Endpoint,
		// Called by ReuseTokenSource after each silent refresh, outside its mutex.
		OnTokenChange: func(tok *oauth2.Token) {
			s.opts.Metrics.TokenRefresh(true)

			if err := s.store.SaveToken(tok); err != nil {
				s.logger.Warn("failed to persist refreshed token", slog.String("error", err.Error()))

				return
			}

			s.logger.Info("persisted silently refreshed token", slog.Time("new_expiry", tok.Expiry))
		},
	}
}

// oauthCtx routes oauth2's token requests through the configured client.
func (s *Session) oauthCtx(ctx context.Context) context.Context {
	if s.opts.HTTPClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, s.opts.HTTPClient)
}
