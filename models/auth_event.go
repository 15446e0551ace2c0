package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuthAction represents the kind of account lifecycle event being recorded
type AuthAction string

const (
	AuthActionRegister               AuthAction = "register"
	AuthActionLogin                  AuthAction = "login"
	AuthActionLoginFailed            AuthAction = "login_failed"
	AuthActionLogout                 AuthAction = "logout"
	AuthActionTokenRefreshed         AuthAction = "token_refreshed"
	AuthActionPasswordResetRequested AuthAction = "password_reset_requested"
	AuthActionPasswordReset          AuthAction = "password_reset"
	AuthActionPasswordChanged        AuthAction = "password_changed"
	AuthActionEmailVerified          AuthAction = "email_verified"
	AuthActionVerificationResent     AuthAction = "verification_resent"
	AuthActionOAuthLogin             AuthAction = "oauth_login"
	AuthActionAccountUpdated         AuthAction = "account_updated"
	AuthActionAccountDeactivated     AuthAction = "account_deactivated"
)

// AuthEvent is an audit trail entry for a security-relevant account action
type AuthEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	AccountID *int64          `json:"accountId,omitempty" db:"account_id"`
	Action    AuthAction      `json:"action" db:"action"`
	IPAddress string          `json:"ipAddress" db:"ip_address"`
	UserAgent string          `json:"userAgent" db:"user_agent"`
	RequestID string          `json:"requestId" db:"request_id"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(action AuthAction) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
}

// WithAccount sets the account the event concerns
func (e *AuthEvent) WithAccount(accountID int64) *AuthEvent {
	e.AccountID = &accountID
	return e
}

// WithDetails sets the details
func (e *AuthEvent) WithDetails(details interface{}) *AuthEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(meta RequestMeta) *AuthEvent {
	e.RequestID = meta.RequestID
	e.IPAddress = meta.IPAddress
	e.UserAgent = meta.UserAgent
	return e
}

// RequestMeta carries caller metadata from the HTTP layer into services
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}
