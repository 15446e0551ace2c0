package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/coach-accounts/internal/observability"
	"github.com/upb/coach-accounts/middleware"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/services/accounts"
	"github.com/upb/coach-accounts/utils"
	"go.uber.org/zap"
)

// RegisterRequest is the payload of POST /register. Optional profile
// fields may be supplied alongside the required ones.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Username  string `json:"username" validate:"required,username"`
	FirstName string `json:"firstName" validate:"required,min=1,max=50"`
	LastName  string `json:"lastName" validate:"omitempty,max=50"`
	Password  string `json:"password" validate:"required,password"`
	accounts.ProfileUpdate
}

// LoginRequest is the payload of POST /login
type LoginRequest struct {
	EmailOrUsername string `json:"emailOrUsername" validate:"required,max=255"`
	Password        string `json:"password" validate:"required,max=128"`
}

// EmailRequest carries a single email address
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the payload of POST /reset-password
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,password"`
}

// ChangePasswordRequest is the payload of POST /change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,password,nefield=CurrentPassword"`
}

// SessionResponse is returned by login and OAuth sign-in
type SessionResponse struct {
	User                 models.AccountView `json:"user"`
	AccessToken          string             `json:"accessToken"`
	AccessTokenExpiresAt time.Time          `json:"accessTokenExpiresAt"`
}

// AccessTokenResponse is returned by refresh
type AccessTokenResponse struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

// AccountService defines the account operations used by the account handler
type AccountService interface {
	Register(ctx context.Context, in accounts.RegisterInput, meta models.RequestMeta) (*models.Account, error)
	Login(ctx context.Context, identifier, password string, meta models.RequestMeta) (*accounts.Session, error)
	Refresh(ctx context.Context, refreshToken string, meta models.RequestMeta) (*accounts.Session, error)
	Logout(ctx context.Context, refreshToken string, meta models.RequestMeta) error
	RevokeSessions(ctx context.Context, id int64, meta models.RequestMeta) error
	RequestPasswordReset(ctx context.Context, email string, meta models.RequestMeta) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string, meta models.RequestMeta) (*models.Account, error)
	ChangePassword(ctx context.Context, id int64, current, newPassword string, meta models.RequestMeta) error
	VerifyEmail(ctx context.Context, token string, meta models.RequestMeta) (*models.Account, error)
	ResendVerification(ctx context.Context, email string, meta models.RequestMeta) error
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	UpdateProfile(ctx context.Context, id int64, p accounts.ProfileUpdate, meta models.RequestMeta) (*models.Account, error)
	UpdateBodyInformation(ctx context.Context, id int64, b accounts.BodyUpdate, meta models.RequestMeta) (*models.Account, error)
}

// AccountHandler handles the /auth endpoints for local accounts
type AccountHandler struct {
	accounts   AccountService
	cookie     *RefreshCookie
	production bool
	logger     *zap.Logger
}

// NewAccountHandler creates a new AccountHandler. Outside production the
// forgot-password response echoes the reset token and internal errors carry detail.
func NewAccountHandler(svc AccountService, cookie *RefreshCookie, production bool, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:   svc,
		cookie:     cookie,
		production: production,
		logger:     logger,
	}
}

func (h *AccountHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	HandleServiceError(w, err, observability.ForRequest(r.Context(), h.logger), !h.production)
}

// decode reads and validates the request body, writing a 400 on failure
func (h *AccountHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

// identity returns the authenticated caller, writing a 401 when absent
func identity(w http.ResponseWriter, r *http.Request) (*middleware.Identity, bool) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		_ = utils.WriteUnauthorized(w, "Missing or invalid authorization", nil)
		return nil, false
	}
	return id, true
}

// HandleRegister handles POST /api/v1/auth/register
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	profile := req.ProfileUpdate
	profile.FirstName = models.Optional[string]{}
	profile.LastName = models.Optional[string]{}

	account, err := h.accounts.Register(r.Context(), accounts.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Profile:   profile,
	}, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	observability.ForRequest(r.Context(), h.logger).Info("account registered", zap.Int64("account_id", account.ID))
	_ = utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse{
		Data:    account.View(),
		Message: "Registration successful. Please check your email to verify your account.",
	})
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.accounts.Login(r.Context(), req.EmailOrUsername, req.Password, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.cookie.Set(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)
	_ = utils.WriteOK(w, SessionResponse{
		User:                 session.Account.View(),
		AccessToken:          session.Tokens.AccessToken,
		AccessTokenExpiresAt: session.Tokens.AccessExpiresAt,
	})
}

// HandleRefresh handles POST /api/v1/auth/refresh-token
func (h *AccountHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := h.cookie.Read(r)
	if token == "" {
		_ = utils.WriteUnauthorized(w, "Refresh token required", map[string]interface{}{"reason": "missing_refresh_token"})
		return
	}

	session, err := h.accounts.Refresh(r.Context(), token, middleware.RequestMeta(r))
	if err != nil {
		h.cookie.Clear(w)
		h.fail(w, r, err)
		return
	}

	h.cookie.Set(w, session.Tokens.RefreshToken, session.Tokens.RefreshExpiresAt)
	_ = utils.WriteOK(w, AccessTokenResponse{
		AccessToken:          session.Tokens.AccessToken,
		AccessTokenExpiresAt: session.Tokens.AccessExpiresAt,
	})
}

// HandleLogout handles POST /api/v1/auth/logout. It always succeeds.
// Without a refresh cookie, a caller identified by its access token has all
// of its refresh tokens revoked.
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meta := middleware.RequestMeta(r)
	refresh := h.cookie.Read(r)

	var err error
	if identity := middleware.GetIdentity(ctx); refresh == "" && identity != nil {
		err = h.accounts.RevokeSessions(ctx, identity.ID, meta)
	} else {
		err = h.accounts.Logout(ctx, refresh, meta)
	}
	if err != nil {
		observability.ForRequest(r.Context(), h.logger).Warn("logout failed to revoke refresh token", zap.Error(err))
	}

	h.cookie.Clear(w)
	_ = utils.WriteMessage(w, "Logged out successfully")
}

// HandleForgotPassword handles POST /api/v1/auth/forgot-password. The
// response is the same whether or not the email belongs to an account.
func (h *AccountHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.accounts.RequestPasswordReset(r.Context(), req.Email, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response := utils.SuccessResponse{
		Message: "If an account with that email exists, a password reset link has been sent.",
	}
	if !h.production && token != "" {
		response.Data = map[string]string{"resetToken": token}
	}
	_ = utils.WriteJSON(w, http.StatusOK, response)
}

// HandleResetPassword handles POST /api/v1/auth/reset-password
func (h *AccountHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accounts.ResetPassword(r.Context(), req.Token, req.NewPassword, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{
		Data:    account.View(),
		Message: "Password has been reset successfully",
	})
}

// HandleVerifyEmail handles GET /api/v1/auth/verify-email/{token}
func (h *AccountHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	account, err := h.accounts.VerifyEmail(r.Context(), token, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{
		Data:    account.View(),
		Message: "Email verified successfully",
	})
}

// HandleResendVerification handles POST /api/v1/auth/resend-verification
func (h *AccountHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.accounts.ResendVerification(r.Context(), req.Email, middleware.RequestMeta(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteMessage(w, "Verification email sent")
}

// HandleGetProfile handles GET /api/v1/auth/profile
func (h *AccountHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), id.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, account.View())
}

// HandleUpdateProfile handles PUT /api/v1/auth/profile
func (h *AccountHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req accounts.ProfileUpdate
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accounts.UpdateProfile(r.Context(), id.ID, req, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, account.View())
}

// HandleUpdateBodyInformation handles PUT /api/v1/auth/body-information
func (h *AccountHandler) HandleUpdateBodyInformation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req accounts.BodyUpdate
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accounts.UpdateBodyInformation(r.Context(), id.ID, req, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, account.View())
}

// HandleChangePassword handles POST /api/v1/auth/change-password
func (h *AccountHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), id.ID, req.CurrentPassword, req.NewPassword, middleware.RequestMeta(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteMessage(w, "Password changed successfully")
}
