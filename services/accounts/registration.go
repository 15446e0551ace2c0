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

// RegisterInput is a local sign-up request. Profile carries optional
// fitness attributes supplied at sign-up.
type RegisterInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
	Profile   ProfileUpdate
}

// Register creates a local account and emails a verification link. When the
// email cannot be sent the account is kept and ErrVerificationDelivery is
// returned alongside it.
func (m *Manager) Register(ctx context.Context, in RegisterInput, meta models.RequestMeta) (*models.Account, error) {
	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return nil, services.ErrInvalidInput.Wrap(err).WithDetail("password", "password cannot be used")
	}

	raw, digest, err := newSecretToken()
	if err != nil {
		return nil, services.WrapInternal("failed to create verification token", err)
	}

	account := models.NewLocalAccount(in.Email, in.Username, m.sanitize(in.FirstName), m.sanitize(in.LastName), hash)
	account.EmailVerificationToken = &digest
	if err := m.applyProfile(account, in.Profile); err != nil {
		return nil, err
	}

	err = services.WithTransaction(ctx, m.txMgr, func(ctx context.Context) error {
		if _, err := m.accounts.GetByEmail(ctx, account.Email); err == nil {
			return services.ErrEmailTaken
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return services.WrapInternal("failed to check email", err)
		}
		if _, err := m.accounts.GetByUsername(ctx, account.Username); err == nil {
			return services.ErrUsernameTaken
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return services.WrapInternal("failed to check username", err)
		}

		if err := m.accounts.Create(ctx, account); err != nil {
			return mapDuplicate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("account registered", zap.Int64("account_id", account.ID))
	m.record(models.AuthActionRegister, account.ID, meta, nil)

	if err := m.mailer.SendVerification(ctx, account, raw); err != nil {
		m.logger.Error("failed to send verification email",
			zap.Int64("account_id", account.ID),
			zap.Error(err))
		return account, services.ErrVerificationDelivery.Wrap(err)
	}

	m.sendAsync("welcome", account.ID, func(n notify.Notifier) error {
		return n.SendWelcome(ctx, account)
	})

	return account, nil
}

// VerifyEmail marks the account owning token as verified. The token is
// single use.
func (m *Manager) VerifyEmail(ctx context.Context, token string, meta models.RequestMeta) (*models.Account, error) {
	if token == "" {
		return nil, services.ErrInvalidVerificationToken
	}
	digest := digestToken(token)

	account, err := m.accounts.GetByVerificationToken(ctx, digest)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidVerificationToken
		}
		return nil, services.WrapInternal("failed to look up verification token", err)
	}

	if err := m.accounts.MarkEmailVerified(ctx, account.ID, digest); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidVerificationToken
		}
		return nil, services.WrapInternal("failed to verify email", err)
	}

	account.IsEmailVerified = true
	account.EmailVerificationToken = nil
	account.UpdatedAt = m.clock()

	m.record(models.AuthActionEmailVerified, account.ID, meta, nil)
	return account, nil
}

// ResendVerification replaces the verification token of an unverified
// account and emails the new one. The previous token stops working.
func (m *Manager) ResendVerification(ctx context.Context, email string, meta models.RequestMeta) error {
	account, err := m.accounts.GetByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrAccountNotFound
		}
		return services.WrapInternal("failed to load account", err)
	}
	if account.IsEmailVerified {
		return services.ErrAlreadyVerified
	}
	if !account.IsActive {
		return services.ErrAccountInactive
	}

	raw, digest, err := newSecretToken()
	if err != nil {
		return services.WrapInternal("failed to create verification token", err)
	}
	if err := m.accounts.SetVerificationToken(ctx, account.ID, digest); err != nil {
		return services.WrapInternal("failed to store verification token", err)
	}
	account.EmailVerificationToken = &digest

	m.record(models.AuthActionVerificationResent, account.ID, meta, nil)

	if err := m.mailer.SendVerification(ctx, account, raw); err != nil {
		m.logger.Error("failed to resend verification email",
			zap.Int64("account_id", account.ID),
			zap.Error(err))
		return services.ErrVerificationDelivery.Wrap(err)
	}
	return nil
}
