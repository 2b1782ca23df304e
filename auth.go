package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/drivebackup/internal/store"
	"github.com/tonimelisma/drivebackup/internal/web"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Drive",
		Long: `Authorize drivebackup through Google's consent screen.

A local web server is started on the host and port of redirect_url. Open the
printed URL in a browser, approve access, and the tokens are saved to the
state store. The redirect URL must be registered for your OAuth client.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored Google Drive tokens",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newConfigureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Store the OAuth client ID and secret",
		Long: `Store the OAuth client of your Google Cloud project in the state store.
Stored credentials take precedence over client_id and client_secret in the
config file.`,
		Args: cobra.NoArgs,
		RunE: runConfigure,
	}

	cmd.Flags().String("client-id", "", "OAuth client ID")
	cmd.Flags().String("client-secret", "", "OAuth client secret")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)

	addr, baseURL, err := loopbackAddr(cc.Cfg.RedirectURL)
	if err != nil {
		return err
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.Auth.ClientCredentials(); err != nil {
		return friendlyAuthError(err)
	}

	resultCh := make(chan error, 1)

	handler := web.NewHandler(web.Deps{
		Session:     sess.Auth,
		Destination: sess.Destination,
		Store:       sess.Store,
		OnCallback: func(err error) {
			select {
			case resultCh <- err:
			default:
			}
		},
		Logger: logger,
	})

	ln, err := web.Listen(ctx, addr)
	if err != nil {
		return err
	}

	serveCtx, stopServer := context.WithCancel(ctx)
	serveDone := make(chan error, 1)

	go func() { serveDone <- web.Serve(serveCtx, ln, handler, logger) }()

	// Authorization prompts must always be visible, not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "Open this URL in your browser to authorize:\n%s%s\n", baseURL, web.PathAuthorize)

	err = waitForCallback(ctx, resultCh)

	stopServer()

	if serveErr := <-serveDone; serveErr != nil {
		logger.Warn("login server error", slog.String("error", serveErr.Error()))
	}

	if err != nil {
		return err
	}

	logger.Info("login successful")
	cc.Statusf("Login successful.\n")

	return nil
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan error) error {
	select {
	case err := <-resultCh:
		if err != nil {
			return fmt.Errorf("authorization failed: %w", err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("login canceled: %w", ctx.Err())
	}
}

// loopbackAddr derives the listen address and browser base URL from a
// loopback redirect URL such as http://localhost:53682/callback.
func loopbackAddr(redirectURL string) (addr, baseURL string, err error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing redirect_url: %w", err)
	}

	host := u.Hostname()
	if host != "localhost" && !isLoopbackIP(host) {
		return "", "", fmt.Errorf("login needs a loopback redirect_url (got host %q); use 'drivebackup serve' behind %s instead",
			host, u.Host)
	}

	if u.Path != web.PathCallback {
		return "", "", fmt.Errorf("redirect_url path must be %s, got %q", web.PathCallback, u.Path)
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}

	listenHost := host
	if host == "localhost" {
		listenHost = "127.0.0.1"
	}

	return net.JoinHostPort(listenHost, port), u.Scheme + "://" + u.Host, nil
}

func isLoopbackIP(host string) bool {
	ip := net.ParseIP(strings.Trim(host, "[]"))

	return ip != nil && ip.IsLoopback()
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Auth.Revoke(); err != nil {
		return err
	}

	cc.Statusf("Logged out. Stored tokens removed.\n")

	return nil
}

func runConfigure(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	clientID, err := cmd.Flags().GetString("client-id")
	if err != nil {
		return err
	}

	clientSecret, err := cmd.Flags().GetString("client-secret")
	if err != nil {
		return err
	}

	creds := store.ClientCredentials{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
	}

	if !creds.Complete() {
		return errors.New("both --client-id and --client-secret are required")
	}

	sess, err := openSession(cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Store.SaveClientCredentials(creds); err != nil {
		return err
	}

	cc.Logger.Info("client credentials stored", slog.String("client_id", creds.ClientID))
	cc.Statusf("OAuth client stored. Run 'drivebackup login' to authorize.\n")

	return nil
}
