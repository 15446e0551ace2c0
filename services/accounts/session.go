package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"github.com/upb/coach-accounts/services"
	"github.com/upb/coach-accounts/services/oauth"
	"github.com/upb/coach-accounts/tokens"
	"go.uber.org/zap"
)

const maxUsernameAttempts = 5

var usernameStrip = regexp.MustCompile(`[^a-z0-9_.]`)

// Login authenticates with an email or username and a password. Unknown
// accounts, wrong passwords and OAuth-only accounts all fail with the same
// ErrInvalidCredentials. ErrAccountInactive is only reported once the
// password has been verified.
func (m *Manager) Login(ctx context.Context, identifier, plain string, meta models.RequestMeta) (*Session, error) {
	account, err := m.findByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			m.record(models.AuthActionLoginFailed, 0, meta, map[string]interface{}{"reason": "unknown_account"})
			return nil, services.ErrInvalidCredentials
		}
		return nil, services.WrapInternal("failed to load account", err)
	}

	if account.IsOAuth() || !m.hasher.Verify(plain, account.PasswordHash) {
		m.record(models.AuthActionLoginFailed, account.ID, meta, map[string]interface{}{"reason": "bad_credentials"})
		return nil, services.ErrInvalidCredentials
	}

	if !account.IsActive {
		m.record(models.AuthActionLoginFailed, account.ID, meta, map[string]interface{}{"reason": "inactive"})
		return nil, services.ErrAccountInactive
	}

	m.touchLogin(ctx, account)

	session, err := m.issueSession(account)
	if err != nil {
		return nil, err
	}

	m.record(models.AuthActionLogin, account.ID, meta, nil)
	return session, nil
}

// LoginWithGoogle signs in with a Google identity, creating the account on
// first use. An email already registered with a password is never taken
// over.
func (m *Manager) LoginWithGoogle(ctx context.Context, profile *oauth.GoogleProfile, meta models.RequestMeta) (*Session, error) {
	if profile == nil || profile.Email == "" || !profile.EmailVerified {
		return nil, services.ErrProviderUnverified
	}

	account, err := m.resolveGoogleAccount(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, services.ErrAccountInactive
	}

	m.touchLogin(ctx, account)

	session, err := m.issueSession(account)
	if err != nil {
		return nil, err
	}

	m.record(models.AuthActionOAuthLogin, account.ID, meta, map[string]interface{}{"provider": "google"})
	return session, nil
}

func (m *Manager) resolveGoogleAccount(ctx context.Context, profile *oauth.GoogleProfile) (*models.Account, error) {
	if profile.Subject != "" {
		account, err := m.accounts.GetByGoogleID(ctx, profile.Subject)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapInternal("failed to load account", err)
		}
	}

	email := models.NormalizeEmail(profile.Email)
	account, err := m.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if !account.IsOAuth() {
			m.logger.Warn("google sign-in for password account rejected", zap.Int64("account_id", account.ID))
			return nil, services.ErrProviderConflict
		}
		if account.GoogleID != nil && profile.Subject != "" && *account.GoogleID != profile.Subject {
			return nil, services.ErrProviderConflict
		}
		return account, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, services.WrapInternal("failed to load account", err)
	}

	return m.createGoogleAccount(ctx, email, profile)
}

func (m *Manager) createGoogleAccount(ctx context.Context, email string, profile *oauth.GoogleProfile) (*models.Account, error) {
	firstName, lastName := profile.GivenName, profile.FamilyName
	if firstName == "" && lastName == "" {
		firstName, lastName, _ = strings.Cut(profile.Name, " ")
	}

	base := usernameFromEmail(email)
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			suffix, err := rand.Int(rand.Reader, big.NewInt(10000))
			if err != nil {
				return nil, services.WrapInternal("failed to generate username", err)
			}
			username = fmt.Sprintf("%s%04d", base, suffix.Int64())
		}

		account := models.NewOAuthAccount(email, username, m.sanitize(firstName), m.sanitize(lastName), profile.Subject)
		if profile.Picture != "" {
			picture := profile.Picture
			account.Avatar = &picture
		}

		err := m.accounts.Create(ctx, account)
		if err == nil {
			m.logger.Info("account created from google sign-in", zap.Int64("account_id", account.ID))
			m.record(models.AuthActionRegister, account.ID, models.RequestMeta{}, map[string]interface{}{"provider": "google"})
			return account, nil
		}

		mapped := mapDuplicate(err)
		if !errors.Is(mapped, services.ErrUsernameTaken) {
			return nil, mapped
		}
	}
	return nil, services.WrapInternal("failed to allocate username", errors.New("too many collisions"))
}

// usernameFromEmail derives a username candidate from the local part
func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	name := usernameStrip.ReplaceAllString(strings.ToLower(local), "")
	if len(name) > 24 {
		name = name[:24]
	}
	for len(name) < 3 {
		name += "_"
	}
	return name
}

// touchLogin stamps lastLogin. Failure does not block the sign-in.
func (m *Manager) touchLogin(ctx context.Context, account *models.Account) {
	now := m.clock()
	if err := m.accounts.RecordLogin(ctx, account.ID, now); err != nil {
		m.logger.Warn("failed to record last login", zap.Int64("account_id", account.ID), zap.Error(err))
		return
	}
	account.LastLogin = &now
}

// Refresh exchanges a refresh token for a new token pair. Each refresh
// token can be redeemed once: the account's token version moves forward
// and the presented token stops verifying.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, meta models.RequestMeta) (*Session, error) {
	claims, err := m.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, mapTokenError(err)
	}

	account, err := m.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidToken
		}
		return nil, services.WrapInternal("failed to load account", err)
	}
	if !account.IsActive {
		return nil, services.ErrUnauthorized.WithDetail("reason", "account_inactive")
	}
	if claims.Version != account.TokenVersion {
		m.logger.Warn("stale refresh token presented",
			zap.Int64("account_id", account.ID),
			zap.Int("token_version", claims.Version))
		return nil, services.ErrInvalidToken
	}

	version, err := m.accounts.RotateTokenVersion(ctx, account.ID, claims.Version)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidToken
		}
		return nil, services.WrapInternal("failed to rotate refresh token", err)
	}
	account.TokenVersion = version

	session, err := m.issueSession(account)
	if err != nil {
		return nil, err
	}

	m.record(models.AuthActionTokenRefreshed, account.ID, meta, nil)
	return session, nil
}

// Logout revokes the presented refresh token and every earlier one. Invalid
// or missing tokens are ignored.
func (m *Manager) Logout(ctx context.Context, refreshToken string, meta models.RequestMeta) error {
	if refreshToken == "" {
		return nil
	}
	claims, err := m.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}

	if _, err := m.accounts.RotateTokenVersion(ctx, claims.AccountID, claims.Version); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return services.WrapInternal("failed to revoke refresh token", err)
	}

	m.record(models.AuthActionLogout, claims.AccountID, meta, nil)
	return nil
}

// RevokeSessions invalidates every outstanding refresh token of the account
func (m *Manager) RevokeSessions(ctx context.Context, id int64, meta models.RequestMeta) error {
	account, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	if _, err := m.accounts.RotateTokenVersion(ctx, id, account.TokenVersion); err != nil {
		// a concurrent rotation already revoked them
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return services.WrapInternal("failed to revoke refresh tokens", err)
	}

	m.record(models.AuthActionLogout, id, meta, map[string]interface{}{"scope": "all"})
	return nil
}

// mapTokenError translates token verification failures
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, tokens.ErrTokenExpired):
		return services.ErrTokenExpired.WithDetail("reason", "token_expired")
	default:
		return services.ErrInvalidToken.WithDetail("reason", "invalid_token")
	}
}
