package handlers

import (
	"net/http"
	"time"

	"github.com/upb/coach-accounts/config"
)

// RefreshCookie writes and reads the HttpOnly refresh token cookie
type RefreshCookie struct {
	cfg config.CookieConfig
	now func() time.Time
}

// NewRefreshCookie creates a RefreshCookie from cookie configuration
func NewRefreshCookie(cfg config.CookieConfig) *RefreshCookie {
	if cfg.RefreshName == "" {
		cfg.RefreshName = "refresh_token"
	}
	if cfg.Path == "" {
		cfg.Path = "/api/v1/auth"
	}
	return &RefreshCookie{cfg: cfg, now: time.Now}
}

// Set stores token until expiresAt
func (c *RefreshCookie) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(c.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.RefreshName,
		Value:    token,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear expires the cookie on the client
func (c *RefreshCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.RefreshName,
		Value:    "",
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Read returns the refresh token presented by the client, or ""
func (c *RefreshCookie) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.cfg.RefreshName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
