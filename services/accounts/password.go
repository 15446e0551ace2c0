package accounts

import (
	"context"
	"errors"

	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"github.com/upb/coach-accounts/services"
	"github.com/upb/coach-accounts/services/notify"
	"go.uber.org/zap"
)

// RequestPasswordReset issues a reset token valid for PasswordResetTTL and
// emails it. Unknown, inactive and OAuth accounts get an empty token and a
// nil error so callers cannot tell them apart.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string, meta models.RequestMeta) (string, error) {
	account, err := m.accounts.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil
		}
		return "", services.WrapInternal("failed to load account", err)
	}
	if !account.IsActive || account.IsOAuth() {
		m.logger.Debug("password reset skipped", zap.Int64("account_id", account.ID))
		return "", nil
	}

	raw, digest, err := newSecretToken()
	if err != nil {
		return "", services.WrapInternal("failed to create reset token", err)
	}
	expires := m.clock().Add(PasswordResetTTL)

	if err := m.accounts.SetPasswordReset(ctx, account.ID, digest, expires); err != nil {
		return "", services.WrapInternal("failed to store reset token", err)
	}
	account.PasswordResetToken = &digest
	account.PasswordResetExpires = &expires

	m.record(models.AuthActionPasswordResetRequested, account.ID, meta, nil)
	m.sendAsync("password_reset", account.ID, func(n notify.Notifier) error {
		return n.SendPasswordReset(ctx, account, raw, expires)
	})

	return raw, nil
}

// ResetPassword sets a new password using a reset token. The token must
// expire strictly after now and can be consumed once; a concurrent second
// attempt fails with ErrInvalidResetToken. Outstanding refresh tokens are
// revoked.
func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string, meta models.RequestMeta) (*models.Account, error) {
	if token == "" {
		return nil, services.ErrInvalidResetToken
	}
	digest := digestToken(token)

	account, err := m.accounts.GetByResetToken(ctx, digest)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidResetToken
		}
		return nil, services.WrapInternal("failed to look up reset token", err)
	}

	now := m.clock()
	if !account.ResetPending(now) {
		return nil, services.ErrInvalidResetToken
	}
	if !account.IsActive {
		return nil, services.ErrAccountInactive
	}

	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return nil, services.ErrInvalidInput.Wrap(err).WithDetail("newPassword", "password cannot be used")
	}

	if err := m.accounts.ConsumePasswordReset(ctx, account.ID, digest, hash, now); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidResetToken
		}
		return nil, services.WrapInternal("failed to reset password", err)
	}

	account.PasswordHash = &hash
	account.PasswordResetToken = nil
	account.PasswordResetExpires = nil
	account.TokenVersion++
	account.UpdatedAt = now

	m.record(models.AuthActionPasswordReset, account.ID, meta, nil)
	m.sendAsync("password_changed", account.ID, func(n notify.Notifier) error {
		return n.SendPasswordChanged(ctx, account)
	})

	return account, nil
}

// ChangePassword replaces the password of a local account after checking
// the current one.
func (m *Manager) ChangePassword(ctx context.Context, id int64, current, newPassword string, meta models.RequestMeta) error {
	account, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	if account.IsOAuth() {
		return services.ErrPasswordNotSupported
	}
	if !m.hasher.Verify(current, account.PasswordHash) {
		return services.ErrCurrentPasswordMismatch
	}

	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return services.ErrInvalidInput.Wrap(err).WithDetail("newPassword", "password cannot be used")
	}
	if err := m.accounts.UpdatePassword(ctx, id, hash); err != nil {
		return services.WrapInternal("failed to update password", err)
	}
	account.PasswordHash = &hash

	m.record(models.AuthActionPasswordChanged, id, meta, nil)
	m.sendAsync("password_changed", id, func(n notify.Notifier) error {
		return n.SendPasswordChanged(ctx, account)
	})
	return nil
}
