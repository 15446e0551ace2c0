package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/upb/coach-accounts/config"
	"github.com/upb/coach-accounts/handlers"
	"github.com/upb/coach-accounts/middleware"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/services"
	"github.com/upb/coach-accounts/services/accounts"
	"github.com/upb/coach-accounts/services/oauth"
	"github.com/upb/coach-accounts/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// StateCookiePath scopes the state cookie to the Google endpoints
	StateCookiePath = "/api/v1/auth/google"
	// FailurePath is where failed callbacks are redirected
	FailurePath = "/api/v1/auth/google/failure"
	// SuccessPath is appended to the front end URL after a successful sign-in
	SuccessPath = "/auth/google/success"

	stateCookieMaxAge = 600
)

// GoogleAuthenticator runs the provider side of the authorization code flow
type GoogleAuthenticator interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.GoogleProfile, error)
}

// SessionService signs in the account matching a provider profile
type SessionService interface {
	LoginWithGoogle(ctx context.Context, profile *oauth.GoogleProfile, meta models.RequestMeta) (*accounts.Session, error)
}

type oauthState struct {
	Nonce    string
	IssuedAt int64
}

// Handler handles the Google OAuth2 flow (login, callback, failure)
type Handler struct {
	google      GoogleAuthenticator
	sessions    SessionService
	refresh     *handlers.RefreshCookie
	codec       *securecookie.SecureCookie
	frontEndURL string
	secure      bool
	logger      *zap.Logger
}

// NewHandler creates a new Google auth handler. google may be nil when
// Google sign-in is not configured; the endpoints then answer 503.
func NewHandler(cfg config.GoogleConfig, google GoogleAuthenticator, sessions SessionService, refresh *handlers.RefreshCookie, secure bool, logger *zap.Logger) *Handler {
	hashKey := []byte(cfg.StateHashKey)
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
		logger.Warn("GOOGLE_STATE_HASH_KEY not set, using a random key; state cookies will not survive a restart")
	}

	codec := securecookie.New(hashKey, nil)
	codec.MaxAge(stateCookieMaxAge)

	return &Handler{
		google:      google,
		sessions:    sessions,
		refresh:     refresh,
		codec:       codec,
		frontEndURL: strings.TrimSuffix(cfg.FrontEndURL, "/"),
		secure:      secure,
		logger:      logger,
	}
}

// HandleGoogleLogin handles GET /api/v1/auth/google
// Sets a signed state cookie and redirects to Google's consent screen.
func (h *Handler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		_ = utils.WriteServiceUnavailable(w, "Google sign-in is not configured", nil)
		return
	}

	nonce, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login", nil)
		return
	}

	encoded, err := h.codec.Encode(StateCookieName, oauthState{Nonce: nonce, IssuedAt: time.Now().Unix()})
	if err != nil {
		h.logger.Error("failed to sign state cookie", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login", nil)
		return
	}

	// Lax: the callback arrives as a cross-site top-level navigation from Google.
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    encoded,
		Path:     StateCookiePath,
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthCodeURL(nonce), http.StatusFound)
}

// HandleGoogleCallback handles GET /api/v1/auth/google/callback
// Validates state, exchanges the code, signs the account in, sets the
// refresh cookie and redirects to the front end with the access token in
// the URL fragment.
func (h *Handler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())
	if h.google == nil {
		_ = utils.WriteServiceUnavailable(w, "Google sign-in is not configured", nil)
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Info("google sign-in cancelled", zap.String("request_id", requestID), zap.String("error", providerErr))
		h.redirectFailure(w, r, "access_denied")
		return
	}

	if !h.validState(r, query.Get("state")) {
		h.logger.Warn("oauth state mismatch", zap.String("request_id", requestID))
		h.redirectFailure(w, r, "invalid_state")
		return
	}
	h.clearState(w)

	profile, err := h.google.Exchange(r.Context(), query.Get("code"))
	if err != nil {
		h.logger.Warn("google code exchange failed", zap.String("request_id", requestID), zap.Error(err))
		h.redirectFailure(w, r, "exchange_failed")
		return
	}

	session, err := h.sessions.LoginWithGoogle(r.Context(), profile, middleware.RequestMeta(r))
	if err != nil {
		reason := failureReason(err)
		h.logger.Warn("google sign-in rejected",
			zap.String("request_id", requestID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		h.redirectFailure(w, r, reason)
		return
	}

	h.refresh.Set(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)

	fragment := url.Values{
		"accessToken": {session.Tokens.AccessToken},
		"expiresAt":   {session.Tokens.AccessExpiresAt.UTC().Format(time.RFC3339)},
	}
	http.Redirect(w, r, h.frontEndURL+SuccessPath+"#"+fragment.Encode(), http.StatusFound)
}

// HandleGoogleFailure handles GET /api/v1/auth/google/failure
func (h *Handler) HandleGoogleFailure(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "login_failed"
	}
	_ = utils.WriteUnauthorized(w, "Google sign-in failed", map[string]interface{}{"reason": reason})
}

func (h *Handler) validState(r *http.Request, state string) bool {
	if state == "" {
		return false
	}
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return false
	}

	var decoded oauthState
	if err := h.codec.Decode(StateCookieName, cookie.Value, &decoded); err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			h.logger.Debug("state cookie failed verification", zap.Error(err))
		}
		return false
	}
	return decoded.Nonce == state
}

func (h *Handler) clearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     StateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, FailurePath+"?"+url.Values{"reason": {reason}}.Encode(), http.StatusFound)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, services.ErrProviderConflict):
		return "account_conflict"
	case errors.Is(err, services.ErrProviderUnverified):
		return "email_unverified"
	case errors.Is(err, services.ErrAccountInactive):
		return "account_inactive"
	default:
		return "login_failed"
	}
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
