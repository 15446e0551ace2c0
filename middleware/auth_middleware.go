package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/tokens"
	"github.com/upb/coach-accounts/utils"
	"go.uber.org/zap"
)

const missingAuthMessage = "Missing or invalid authorization"

// AccessVerifier validates access tokens
type AccessVerifier interface {
	VerifyAccess(token string) (*tokens.AccessClaims, error)
}

// AuthMiddleware handles authentication and authorization
type AuthMiddleware struct {
	verifier AccessVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier AccessVerifier, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth validates the bearer access token and attaches the identity to the request context
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestIDFromContext(r.Context())

		token, ok := extractBearerToken(r)
		if !ok {
			m.logger.Debug("missing or malformed authorization header",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
			)
			_ = utils.WriteUnauthorized(w, missingAuthMessage, nil)
			return
		}

		claims, err := m.verifier.VerifyAccess(token)
		if err != nil {
			reason := "invalid_token"
			message := "Invalid token"
			if errors.Is(err, tokens.ErrTokenExpired) {
				reason = "token_expired"
				message = "Token expired"
			}
			m.logger.Debug("access token rejected",
				zap.String("request_id", requestID),
				zap.String("reason", reason),
				zap.Error(err),
			)
			_ = utils.WriteUnauthorized(w, message, map[string]interface{}{"reason": reason})
			return
		}

		identity := &Identity{ID: claims.AccountID, Email: claims.Email, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// OptionalAuth attaches the identity when a valid bearer token is present.
// Requests without one, or with an invalid one, continue anonymously.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.verifier.VerifyAccess(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		identity := &Identity{ID: claims.AccountID, Email: claims.Email, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireRole allows the request only when the identity holds one of roles
func (m *AuthMiddleware) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				_ = utils.WriteUnauthorized(w, missingAuthMessage, nil)
				return
			}

			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			m.logger.Warn("role check failed",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.Int64("account_id", identity.ID),
				zap.String("role", string(identity.Role)),
			)
			_ = utils.WriteForbidden(w, "Insufficient permissions")
		})
	}
}

// RequireSelfOrAdmin allows the request when the URL parameter param names
// the caller's own account, or the caller is an admin.
func (m *AuthMiddleware) RequireSelfOrAdmin(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r.Context())
			if identity == nil {
				_ = utils.WriteUnauthorized(w, missingAuthMessage, nil)
				return
			}
			if identity.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}

			id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
			if err != nil || id != identity.ID {
				_ = utils.WriteForbidden(w, "You can only access your own account")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>"
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
