package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/coach-accounts/internal/observability"
	"github.com/upb/coach-accounts/middleware"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"github.com/upb/coach-accounts/services/accounts"
	"github.com/upb/coach-accounts/utils"
	"go.uber.org/zap"
)

// AccountListResponse is one page of accounts
type AccountListResponse struct {
	Users  []models.AccountView `json:"users"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset"`
}

// UserService defines the administrative account operations
type UserService interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccounts(ctx context.Context, filter repositories.AccountFilter) ([]*models.Account, int, error)
	AdminUpdate(ctx context.Context, id int64, u accounts.AdminUpdate, meta models.RequestMeta) (*models.Account, error)
	Deactivate(ctx context.Context, id int64, meta models.RequestMeta) error
	ListEvents(ctx context.Context, id int64, limit, offset int) ([]*models.AuthEvent, error)
}

// UserHandler handles the /users endpoints
type UserHandler struct {
	users      UserService
	production bool
	logger     *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(svc UserService, production bool, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:      svc,
		production: production,
		logger:     logger,
	}
}

func (h *UserHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	HandleServiceError(w, err, observability.ForRequest(r.Context(), h.logger), !h.production)
}

// accountID parses the {id} URL parameter, writing a 400 when malformed
func (h *UserHandler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		_ = utils.WriteBadRequest(w, "Invalid user ID", map[string]interface{}{"id": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// HandleListUsers handles GET /api/v1/users
// Query parameters: limit, offset, role, isActive, search
func (h *UserHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.AccountFilter{Search: query.Get("search")}
	invalid := make(map[string]interface{})

	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			invalid["limit"] = "limit must be a positive integer"
		}
		filter.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			invalid["offset"] = "offset must be a non-negative integer"
		}
		filter.Offset = n
	}
	if v := query.Get("role"); v != "" {
		role := models.Role(v)
		if !role.Valid() {
			invalid["role"] = "role must be one of: user coach admin"
		}
		filter.Role = &role
	}
	if v := query.Get("isActive"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			invalid["isActive"] = "isActive must be true or false"
		}
		filter.IsActive = &active
	}
	if len(invalid) > 0 {
		_ = utils.WriteBadRequest(w, "Validation failed", invalid)
		return
	}

	users, total, err := h.users.ListAccounts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, AccountListResponse{
		Users:  models.Views(users),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleGetUser handles GET /api/v1/users/{id}
func (h *UserHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	account, err := h.users.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, account.View())
}

// HandleUpdateUser handles PUT /api/v1/users/{id}
func (h *UserHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var req accounts.AdminUpdate
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	account, err := h.users.AdminUpdate(r.Context(), id, req, middleware.RequestMeta(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, account.View())
}

// HandleDeleteUser handles DELETE /api/v1/users/{id}. Accounts are
// deactivated, never removed.
func (h *UserHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	if caller := middleware.GetIdentity(r.Context()); caller != nil && caller.ID == id {
		_ = utils.WriteBadRequest(w, "You cannot deactivate your own account", nil)
		return
	}

	if err := h.users.Deactivate(r.Context(), id, middleware.RequestMeta(r)); err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteMessage(w, "User deactivated successfully")
}

// HandleListUserEvents handles GET /api/v1/users/{id}/events
func (h *UserHandler) HandleListUserEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.users.ListEvents(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	_ = utils.WriteOK(w, events)
}
