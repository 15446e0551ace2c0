package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/tokens"
	"github.com/upb/coach-accounts/utils"
	"go.uber.org/zap"
)

// MockAccessVerifier is a mock implementation of AccessVerifier
type MockAccessVerifier struct {
	mock.Mock
}

func (m *MockAccessVerifier) VerifyAccess(token string) (*tokens.AccessClaims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tokens.AccessClaims), args.Error(1)
}

func okHandler(t *testing.T, want *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r.Context())
		if want == nil {
			assert.Nil(t, identity)
		} else {
			require.NotNil(t, identity)
			assert.Equal(t, *want, *identity)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	var resp utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid bearer token attaches identity", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		m := NewAuthMiddleware(verifier, logger)

		verifier.On("VerifyAccess", "good").Return(&tokens.AccessClaims{
			AccountID: 7,
			Email:     "coach@example.com",
			Role:      models.RoleCoach,
			ExpiresAt: time.Now().Add(time.Minute),
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer good")
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, &Identity{ID: 7, Email: "coach@example.com", Role: models.RoleCoach})).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		verifier.AssertExpectations(t)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		m := NewAuthMiddleware(verifier, logger)

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, missingAuthMessage, decodeError(t, w).Message)
		verifier.AssertNotCalled(t, "VerifyAccess", mock.Anything)
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		for _, header := range []string{"Basic abc", "Bearer", "Bearer   ", "token"} {
			verifier := new(MockAccessVerifier)
			m := NewAuthMiddleware(verifier, logger)

			req := httptest.NewRequest(http.MethodGet, "/profile", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()

			m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code, header)
			verifier.AssertNotCalled(t, "VerifyAccess", mock.Anything)
		}
	})

	t.Run("expired token reports token_expired", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		m := NewAuthMiddleware(verifier, logger)
		verifier.On("VerifyAccess", "old").Return(nil, fmt.Errorf("verify: %w", tokens.ErrTokenExpired))

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer old")
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "token_expired", decodeError(t, w).Details["reason"])
	})

	t.Run("invalid token reports invalid_token", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		m := NewAuthMiddleware(verifier, logger)
		verifier.On("VerifyAccess", "forged").Return(nil, tokens.ErrInvalidToken)

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "bearer forged")
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_token", decodeError(t, w).Details["reason"])
	})

	t.Run("refresh token presented as access is invalid", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		m := NewAuthMiddleware(verifier, logger)
		verifier.On("VerifyAccess", "refresh").Return(nil, tokens.ErrWrongTokenType)

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer refresh")
		w := httptest.NewRecorder()

		m.RequireAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_token", decodeError(t, w).Details["reason"])
	})
}

func TestOptionalAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("anonymous request passes", func(t *testing.T) {
		m := NewAuthMiddleware(new(MockAccessVerifier), logger)

		w := httptest.NewRecorder()
		m.OptionalAuth(okHandler(t, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid token passes anonymously", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		verifier.On("VerifyAccess", "bad").Return(nil, tokens.ErrInvalidToken)
		m := NewAuthMiddleware(verifier, logger)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		w := httptest.NewRecorder()
		m.OptionalAuth(okHandler(t, nil)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("valid token attaches identity", func(t *testing.T) {
		verifier := new(MockAccessVerifier)
		verifier.On("VerifyAccess", "good").Return(&tokens.AccessClaims{AccountID: 3, Email: "u@example.com", Role: models.RoleUser}, nil)
		m := NewAuthMiddleware(verifier, logger)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer good")
		w := httptest.NewRecorder()
		m.OptionalAuth(okHandler(t, &Identity{ID: 3, Email: "u@example.com", Role: models.RoleUser})).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(new(MockAccessVerifier), zap.NewNop())
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{"admin allowed", &Identity{ID: 1, Role: models.RoleAdmin}, http.StatusOK},
		{"coach allowed", &Identity{ID: 2, Role: models.RoleCoach}, http.StatusOK},
		{"user forbidden", &Identity{ID: 3, Role: models.RoleUser}, http.StatusForbidden},
		{"anonymous unauthorized", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.identity))
			}
			w := httptest.NewRecorder()

			m.RequireRole(models.RoleAdmin, models.RoleCoach)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireSelfOrAdmin(t *testing.T) {
	m := NewAuthMiddleware(new(MockAccessVerifier), zap.NewNop())

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity
			switch r.Header.Get("X-Test-Role") {
			case "admin":
				identity = &Identity{ID: 1, Role: models.RoleAdmin}
			case "user":
				identity = &Identity{ID: 5, Role: models.RoleUser}
			}
			if identity != nil {
				r = r.WithContext(WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	})
	router.With(m.RequireSelfOrAdmin("id")).Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name string
		role string
		path string
		want int
	}{
		{"self allowed", "user", "/users/5", http.StatusOK},
		{"other forbidden", "user", "/users/6", http.StatusForbidden},
		{"non-numeric forbidden", "user", "/users/me", http.StatusForbidden},
		{"admin allowed for anyone", "admin", "/users/6", http.StatusOK},
		{"anonymous unauthorized", "", "/users/5", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Test-Role", tt.role)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestMeta(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("User-Agent", "tests")

	meta := RequestMeta(req)

	assert.Equal(t, "10.0.0.1:1234", meta.IPAddress)
	assert.Equal(t, "tests", meta.UserAgent)
	assert.Empty(t, meta.RequestID)
}
