// Package web serves the authorization redirect flow and a small settings
// page for the Drive destination. The same handler backs the long-running
// serve command and the one-shot login command.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/drivebackup/internal/auth"
	"github.com/tonimelisma/drivebackup/internal/destination"
	"github.com/tonimelisma/drivebackup/internal/metrics"
	"github.com/tonimelisma/drivebackup/internal/store"
)

// Route paths.
const (
	PathAuthorize = "/authorize"
	PathCallback  = "/callback"
	PathRevoke    = "/revoke"
	PathSettings  = "/settings"
	PathStatus    = "/status"
	PathHealth    = "/healthz"
	PathMetrics   = "/metrics"
)

const (
	stateCookie = "drivebackup_oauth_state"
	stateMaxAge = 10 * time.Minute
)

// Session is the part of auth.Session the handler drives.
type Session interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Revoke() error
	Status() auth.State
	ClientCredentials() (store.ClientCredentials, error)
}

// Destination is the part of destination.Destination the settings page
// reads and updates.
type Destination interface {
	Settings() destination.Settings
	Reconfigure(s destination.Settings)
	SupportedOps() []string
}

// Deps wires a Handler.
type Deps struct {
	Session     Session
	Destination Destination
	// Store receives OAuth client credentials entered on the settings page.
	Store store.TokenStore
	// SaveSettings persists settings changed on the settings page. Nil keeps
	// changes in memory only.
	SaveSettings func(destination.Settings) error
	// OnCallback, when set, receives the outcome of every callback request.
	OnCallback func(err error)
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Handler routes the web surface.
type Handler struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler returns the routed handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	h := &Handler{deps: deps, logger: deps.Logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /{$}", h.handleIndex)
	h.mux.HandleFunc("GET "+PathAuthorize, h.handleAuthorize)
	h.mux.HandleFunc("GET "+PathCallback, h.handleCallback)
	h.mux.HandleFunc("GET "+PathRevoke, h.sameOrigin(h.handleRevoke))
	h.mux.HandleFunc("POST "+PathRevoke, h.sameOrigin(h.handleRevoke))
	h.mux.HandleFunc("GET "+PathSettings, h.handleSettings)
	h.mux.HandleFunc("POST "+PathSettings, h.sameOrigin(h.handleSaveSettings))
	h.mux.HandleFunc("GET "+PathStatus, h.handleStatus)
	h.mux.HandleFunc("GET "+PathHealth, h.handleHealth)
	h.mux.Handle("GET "+PathMetrics, deps.Metrics.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	h.mux.ServeHTTP(rec, r)

	// r.Pattern is set by the mux on the request it was given.
	pattern := r.Pattern
	if pattern == "" {
		pattern = "unmatched"
	}

	h.deps.Metrics.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start))

	h.logger.Debug("http request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", time.Since(start)),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, PathSettings, http.StatusFound)
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	authURL, err := h.deps.Session.AuthCodeURL(state)
	if err != nil {
		h.logger.Warn("cannot start authorization", slog.String("error", err.Error()))
		h.redirectWithFlash(w, r, flashError, "Cannot start authorization: "+userMessage(err))

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     PathCallback,
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	err := h.callback(w, r)

	if h.deps.OnCallback != nil {
		h.deps.OnCallback(err)
	}

	if errors.Is(err, errStateMismatch) {
		h.logger.Warn("authorization callback rejected", slog.String("error", err.Error()))
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)

		return
	}

	if err != nil {
		h.logger.Warn("authorization callback failed", slog.String("error", err.Error()))
		h.redirectWithFlash(w, r, flashError, "Authorization failed: "+userMessage(err))

		return
	}

	h.redirectWithFlash(w, r, flashOK, "Google Drive connected.")
}

// ErrCallback classifies callback requests rejected before the code exchange.
var ErrCallback = errors.New("web: invalid authorization callback")

var (
	errStateMismatch     = fmt.Errorf("%w: state mismatch", ErrCallback)
	errIncompleteClient  = errors.New("client ID and client secret must be entered together")
	errNoCredentialStore = errors.New("client credentials cannot be saved without a store")
)

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()

	expected, cookieErr := r.Cookie(stateCookie)
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: PathCallback, MaxAge: -1})

	if errParam := query.Get("error"); errParam != "" {
		if desc := query.Get("error_description"); desc != "" {
			return fmt.Errorf("%w: %s: %s", ErrCallback, errParam, desc)
		}

		return fmt.Errorf("%w: %s", ErrCallback, errParam)
	}

	if cookieErr != nil || expected.Value == "" || query.Get("state") != expected.Value {
		return errStateMismatch
	}

	code := query.Get("code")
	if code == "" {
		return fmt.Errorf("%w: no authorization code received", ErrCallback)
	}

	if _, err := h.deps.Session.Exchange(r.Context(), code); err != nil {
		return err
	}

	return nil
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Session.Revoke(); err != nil {
		h.logger.Error("revoke failed", slog.String("error", err.Error()))
		h.redirectWithFlash(w, r, flashError, "Could not disconnect: "+userMessage(err))

		return
	}

	h.redirectWithFlash(w, r, flashOK, "Google Drive disconnected.")
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	msg := readFlash(w, r)
	settings := h.deps.Destination.Settings()

	state := h.deps.Session.Status()
	_, credErr := h.deps.Session.ClientCredentials()

	page := settingsPage{
		State:      state.String(),
		Authorized: state == auth.Authenticated,
		HasClient:  credErr == nil,
		FolderPath: settings.FolderPath,
		MaxBackups: settings.MaxBackups,
		Flash:      msg,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := settingsTemplate.Execute(w, page); err != nil {
		h.logger.Error("rendering settings page", slog.String("error", err.Error()))
	}
}

func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.redirectWithFlash(w, r, flashError, "Invalid form submission.")
		return
	}

	folderPath := strings.TrimSpace(r.PostForm.Get("folder_path"))
	if folderPath == "" {
		folderPath = "/"
	}

	maxBackups, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("max_backups")))
	if err != nil || maxBackups < 0 {
		h.redirectWithFlash(w, r, flashError, "Max backups must be a whole number, 0 for unlimited.")
		return
	}

	if err := h.saveClientCredentials(r); err != nil {
		h.logger.Error("saving client credentials", slog.String("error", err.Error()))
		h.redirectWithFlash(w, r, flashError, "Could not save settings: "+userMessage(err))

		return
	}

	settings := destination.Settings{FolderPath: folderPath, MaxBackups: maxBackups}

	if h.deps.SaveSettings != nil {
		if err := h.deps.SaveSettings(settings); err != nil {
			h.logger.Error("saving settings", slog.String("error", err.Error()))
			h.redirectWithFlash(w, r, flashError, "Could not save settings: "+userMessage(err))

			return
		}
	}

	h.deps.Destination.Reconfigure(settings)
	h.redirectWithFlash(w, r, flashOK, "Settings saved.")
}

// saveClientCredentials stores the OAuth client from the form when one was
// entered. Both fields are required together.
func (h *Handler) saveClientCredentials(r *http.Request) error {
	creds := store.ClientCredentials{
		ClientID:     strings.TrimSpace(r.PostForm.Get("client_id")),
		ClientSecret: strings.TrimSpace(r.PostForm.Get("client_secret")),
	}

	if creds.ClientID == "" && creds.ClientSecret == "" {
		return nil
	}

	if !creds.Complete() {
		return errIncompleteClient
	}

	if h.deps.Store == nil {
		return errNoCredentialStore
	}

	if err := h.deps.Store.SaveClientCredentials(creds); err != nil {
		return fmt.Errorf("web: saving client credentials: %w", err)
	}

	h.logger.Info("client credentials updated", slog.String("client_id", creds.ClientID))

	return nil
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	State        string   `json:"state"`
	Authorized   bool     `json:"authorized"`
	FolderPath   string   `json:"folder_path"`
	MaxBackups   int      `json:"max_backups"`
	SupportedOps []string `json:"supported_ops"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := h.deps.Session.Status()
	settings := h.deps.Destination.Settings()

	writeJSON(w, http.StatusOK, StatusResponse{
		State:        state.String(),
		Authorized:   state == auth.Authenticated,
		FolderPath:   settings.FolderPath,
		MaxBackups:   settings.MaxBackups,
		SupportedOps: h.deps.Destination.SupportedOps(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// sameOrigin rejects state-changing requests started by another site. Browsers
// send Sec-Fetch-Site on every request; older ones only send Origin on POST.
// Requests carrying neither header come from non-browser clients and pass.
func (h *Handler) sameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := checkSameOrigin(r); err != nil {
			h.logger.Warn("rejected cross-origin request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("reason", err.Error()),
			)
			http.Error(w, "cross-origin request rejected", http.StatusForbidden)

			return
		}

		next(w, r)
	}
}

func checkSameOrigin(r *http.Request) error {
	switch site := r.Header.Get("Sec-Fetch-Site"); site {
	case "", "same-origin", "none":
	default:
		return fmt.Errorf("sec-fetch-site %q", site)
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("malformed origin %q", origin)
	}

	if !strings.EqualFold(u.Host, r.Host) {
		return fmt.Errorf("origin %q does not match host %q", origin, r.Host)
	}

	return nil
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, kind flashKind, msg string) {
	setFlash(w, kind, msg)
	http.Redirect(w, r, PathSettings, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// userMessage picks the part of err worth showing in the browser.
func userMessage(err error) string {
	var exErr *auth.ExchangeError
	if errors.As(err, &exErr) && exErr.Description != "" {
		return exErr.Description
	}

	if errors.Is(err, auth.ErrMissingClientCredentials) {
		return "no OAuth client configured"
	}

	return err.Error()
}
