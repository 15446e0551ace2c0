package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/coach-accounts/app"
	"github.com/upb/coach-accounts/config"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories/memory"
	"go.uber.org/zap/zaptest"
)

// recordingNotifier keeps the raw tokens that would have been emailed
type recordingNotifier struct {
	mu           sync.Mutex
	verification map[string]string
}

func (n *recordingNotifier) SendVerification(_ context.Context, account *models.Account, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[account.Email] = token
	return nil
}

func (n *recordingNotifier) SendPasswordReset(context.Context, *models.Account, string, time.Time) error {
	return nil
}

func (n *recordingNotifier) SendPasswordChanged(context.Context, *models.Account) error { return nil }

func (n *recordingNotifier) SendWelcome(context.Context, *models.Account) error { return nil }

func (n *recordingNotifier) verificationToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

type testServer struct {
	handler  http.Handler
	store    *memory.Store
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			ShutdownTimeout: 2 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*"},
		},
		JWT: config.JWTConfig{
			AccessSecret:  "routes-access-secret",
			RefreshSecret: "routes-refresh-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			Issuer:        "coach-accounts",
			Audience:      "coach-app",
		},
		Cookie:   config.CookieConfig{RefreshName: "refresh_token", Path: "/api/v1/auth"},
		Password: config.PasswordConfig{BcryptCost: 4},
		Notify:   config.NotifyConfig{Workers: 1, QueueSize: 16, WriteTimeout: time.Second},
		Audit:    config.AuditConfig{BufferSize: 64, WorkerCount: 1},
	}

	store := memory.NewStore()
	notifier := &recordingNotifier{verification: make(map[string]string)}
	deps, err := app.NewWithStorage(cfg, zaptest.NewLogger(t), app.Storage{
		Repositories: store.Repositories(),
		TxManager:    store.TransactionManager(),
	}, notifier)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	return &testServer{handler: SetupRoutes(deps), store: store, notifier: notifier}
}

type request struct {
	method string
	path   string
	body   interface{}
	token  string
	cookie *http.Cookie
}

func (s *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(req.body))
	}
	r := httptest.NewRequest(req.method, req.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.cookie != nil {
		r.AddCookie(req.cookie)
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	return envelope.Data
}

func refreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func (s *testServer) register(t *testing.T, email, username string) {
	t.Helper()
	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]interface{}{
		"email":     email,
		"username":  username,
		"firstName": "Test",
		"password":  "Passw0rd!",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// login returns the access token and refresh cookie
func (s *testServer) login(t *testing.T, identifier, password string) (string, *http.Cookie) {
	t.Helper()
	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
		"emailOrUsername": identifier,
		"password":        password,
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	cookie := refreshCookie(w)
	require.NotNil(t, cookie)
	data := decodeData(t, w)
	return data["accessToken"].(string), cookie
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = s.do(t, request{method: http.MethodGet, path: "/readyz"})
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	checks := data["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["database"])
}

func TestProtectedEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"get profile", http.MethodGet, "/api/v1/auth/profile", http.StatusUnauthorized},
		{"update profile", http.MethodPut, "/api/v1/auth/profile", http.StatusUnauthorized},
		{"body information", http.MethodPut, "/api/v1/auth/body-information", http.StatusUnauthorized},
		{"change password", http.MethodPost, "/api/v1/auth/change-password", http.StatusUnauthorized},
		{"list users", http.MethodGet, "/api/v1/users", http.StatusUnauthorized},
		{"get user", http.MethodGet, "/api/v1/users/1", http.StatusUnauthorized},
		{"user events", http.MethodGet, "/api/v1/users/1/events", http.StatusUnauthorized},
		{"refresh without cookie", http.MethodPost, "/api/v1/auth/refresh-token", http.StatusUnauthorized},
		{"not found", http.MethodGet, "/api/v1/nonexistent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, request{method: tc.method, path: tc.path})
			assert.Equal(t, tc.expectedStatus, w.Code, "endpoint: %s %s", tc.method, tc.path)
		})
	}
}

func TestGoogleLoginNotConfigured(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: http.MethodGet, path: "/api/v1/auth/google"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", "POST")
	r.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t)
	const email = "alice@example.com"

	s.register(t, email, "alice")

	t.Run("duplicate email conflicts", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]interface{}{
			"email":     "Alice@Example.com",
			"username":  "runner_two",
			"firstName": "Other",
			"password":  "Passw0rd!",
		}})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("weak password is rejected", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/register", body: map[string]interface{}{
			"email":     "weak@example.com",
			"username":  "weakling",
			"firstName": "Weak",
			"password":  "password",
		}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	access, cookie := s.login(t, email, "Passw0rd!")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/api/v1/auth", cookie.Path)

	t.Run("login by username", func(t *testing.T) {
		_, c := s.login(t, "alice", "Passw0rd!")
		assert.NotEmpty(t, c.Value)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login", body: map[string]string{
			"emailOrUsername": email,
			"password":        "Wrong1234",
		}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("profile before and after verification", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodGet, path: "/api/v1/auth/profile", token: access})
		require.Equal(t, http.StatusOK, w.Code)
		profile := decodeData(t, w)
		assert.Equal(t, email, profile["email"])
		assert.Equal(t, false, profile["isEmailVerified"])
		assert.NotContains(t, profile, "passwordHash")

		token := s.notifier.verificationToken(email)
		require.NotEmpty(t, token)

		w = s.do(t, request{method: http.MethodGet, path: "/api/v1/auth/verify-email/" + token})
		assert.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, request{method: http.MethodGet, path: "/api/v1/auth/verify-email/" + token})
		assert.Equal(t, http.StatusBadRequest, w.Code, "verification tokens are single use")

		w = s.do(t, request{method: http.MethodGet, path: "/api/v1/auth/profile", token: access})
		assert.Equal(t, true, decodeData(t, w)["isEmailVerified"])
	})

	t.Run("body information derives bmi", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPut, path: "/api/v1/auth/body-information", token: access,
			body: map[string]interface{}{"height": 180, "weight": 80}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := decodeData(t, w)
		assert.InDelta(t, 24.69, data["bmi"], 0.001)
		assert.Equal(t, "normal", data["bmiCategory"])

		w = s.do(t, request{method: http.MethodPut, path: "/api/v1/auth/body-information", token: access,
			body: map[string]interface{}{"weight": nil}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data = decodeData(t, w)
		assert.Nil(t, data["weight"])
		assert.Nil(t, data["bmi"])
		assert.InDelta(t, 180, data["height"], 0.001)
	})

	t.Run("profile update ignores privileged fields", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPut, path: "/api/v1/auth/profile", token: access,
			body: map[string]interface{}{"bio": "Marathoner", "role": "admin"}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := decodeData(t, w)
		assert.Equal(t, "Marathoner", data["bio"])
		assert.Equal(t, "user", data["role"])
	})

	t.Run("refresh rotates the cookie", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh-token", cookie: cookie})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		rotated := refreshCookie(w)
		require.NotNil(t, rotated)
		assert.NotEqual(t, cookie.Value, rotated.Value)
		assert.NotEmpty(t, decodeData(t, w)["accessToken"])

		w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh-token", cookie: cookie})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "a redeemed refresh token cannot be replayed")

		cookie = rotated
	})

	t.Run("logout revokes the refresh token", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/logout", cookie: cookie})
		require.Equal(t, http.StatusOK, w.Code)
		cleared := refreshCookie(w)
		require.NotNil(t, cleared)
		assert.Empty(t, cleared.Value)

		w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh-token", cookie: cookie})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("logout with only an access token revokes every session", func(t *testing.T) {
		access, first := s.login(t, "alice", "Passw0rd!")
		_, second := s.login(t, "alice", "Passw0rd!")

		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/logout", token: access})
		require.Equal(t, http.StatusOK, w.Code)

		for _, c := range []*http.Cookie{first, second} {
			w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/refresh-token", cookie: c})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		}
	})
}

func TestPasswordReset(t *testing.T) {
	s := newTestServer(t)
	const email = "reset@example.com"
	s.register(t, email, "resetter")

	t.Run("unknown email gets the generic response", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/forgot-password",
			body: map[string]string{"email": "nobody@example.com"}})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, decodeData(t, w))
	})

	w := s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/forgot-password",
		body: map[string]string{"email": email}})
	require.Equal(t, http.StatusOK, w.Code)
	resetToken, _ := decodeData(t, w)["resetToken"].(string)
	require.NotEmpty(t, resetToken)

	w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/reset-password",
		body: map[string]string{"token": resetToken, "newPassword": "N3wSecret!"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reset := decodeData(t, w)
	assert.Equal(t, email, reset["email"])
	assert.NotContains(t, reset, "passwordHash")
	assert.NotContains(t, reset, "passwordResetToken")

	w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/reset-password",
		body: map[string]string{"token": resetToken, "newPassword": "Another9!"}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "reset tokens are single use")

	w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login",
		body: map[string]string{"emailOrUsername": email, "password": "Passw0rd!"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.login(t, email, "N3wSecret!")
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	repo := s.store.Repositories().Accounts

	s.register(t, "member@example.com", "member")
	s.register(t, "boss@example.com", "boss")

	member, err := repo.GetByEmail(ctx, "member@example.com")
	require.NoError(t, err)
	boss, err := repo.GetByEmail(ctx, "boss@example.com")
	require.NoError(t, err)

	memberToken, _ := s.login(t, "member", "Passw0rd!")

	t.Run("regular user", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodGet, path: "/api/v1/users", token: memberToken})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/users/%d", member.ID), token: memberToken})
		assert.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/users/%d", boss.ID), token: memberToken})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(t, request{method: http.MethodDelete, path: fmt.Sprintf("/api/v1/users/%d", boss.ID), token: memberToken})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	boss.Role = models.RoleAdmin
	require.NoError(t, repo.Update(ctx, boss))
	adminToken, _ := s.login(t, "boss", "Passw0rd!")

	t.Run("admin lists and filters", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodGet, path: "/api/v1/users", token: adminToken})
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 2, decodeData(t, w)["total"])

		w = s.do(t, request{method: http.MethodGet, path: "/api/v1/users?role=admin", token: adminToken})
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, decodeData(t, w)["total"])

		w = s.do(t, request{method: http.MethodGet, path: "/api/v1/users?limit=abc", token: adminToken})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("admin promotes to coach", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodPut, path: fmt.Sprintf("/api/v1/users/%d", member.ID), token: adminToken,
			body: map[string]interface{}{"role": "coach"}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "coach", decodeData(t, w)["role"])
	})

	t.Run("admin cannot deactivate themselves", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodDelete, path: fmt.Sprintf("/api/v1/users/%d", boss.ID), token: adminToken})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("admin deactivates a member", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodDelete, path: fmt.Sprintf("/api/v1/users/%d", member.ID), token: adminToken})
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, request{method: http.MethodPost, path: "/api/v1/auth/login",
			body: map[string]string{"emailOrUsername": "member", "password": "Passw0rd!"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("admin reads auth events", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/api/v1/users/%d/events", member.ID), token: adminToken})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		w := s.do(t, request{method: http.MethodGet, path: "/api/v1/users/9999", token: adminToken})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
