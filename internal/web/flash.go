package web

import (
	"net/http"
	"net/url"
	"strings"
)

const flashCookie = "drivebackup_flash"

type flashKind string

const (
	flashOK    flashKind = "ok"
	flashError flashKind = "error"
)

// flash is a one-shot message carried across a redirect.
type flash struct {
	Kind    flashKind
	Message string
}

func setFlash(w http.ResponseWriter, kind flashKind, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(string(kind) + "|" + msg),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// readFlash returns the pending message, if any, and clears it.
func readFlash(w http.ResponseWriter, r *http.Request) *flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}

	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})

	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil
	}

	kind, msg, ok := strings.Cut(raw, "|")
	if !ok || msg == "" {
		return nil
	}

	if flashKind(kind) != flashOK {
		kind = string(flashError)
	}

	return &flash{Kind: flashKind(kind), Message: msg}
}
