package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"github.com/upb/coach-accounts/services"
	"github.com/upb/coach-accounts/services/audit"
	"github.com/upb/coach-accounts/services/notify"
	"github.com/upb/coach-accounts/services/password"
	"github.com/upb/coach-accounts/tokens"
	"go.uber.org/zap"
)

// PasswordResetTTL is how long a reset token stays valid
const PasswordResetTTL = 10 * time.Minute

// Session is the result of a successful sign-in or refresh
type Session struct {
	Account *models.Account
	Tokens  *tokens.Pair
}

// Deps groups the collaborators of the Manager
type Deps struct {
	Accounts    repositories.AccountRepository
	Events      repositories.AuthEventRepository
	TxManager   repositories.TransactionManager
	Hasher      *password.Hasher
	Issuer      *tokens.Issuer
	Mailer      notify.Notifier // synchronous, used where delivery failure is reported
	AsyncMailer notify.Notifier // fire-and-forget
	Audit       audit.Recorder
	Logger      *zap.Logger
	Now         func() time.Time
}

// Manager implements the account lifecycle: registration, sign-in, token
// refresh, verification, password reset and profile management.
type Manager struct {
	accounts  repositories.AccountRepository
	events    repositories.AuthEventRepository
	txMgr     repositories.TransactionManager
	hasher    *password.Hasher
	issuer    *tokens.Issuer
	mailer    notify.Notifier
	async     notify.Notifier
	audit     audit.Recorder
	sanitizer *bluemonday.Policy
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a new Manager
func NewManager(deps Deps) *Manager {
	m := &Manager{
		accounts:  deps.Accounts,
		events:    deps.Events,
		txMgr:     deps.TxManager,
		hasher:    deps.Hasher,
		issuer:    deps.Issuer,
		mailer:    deps.Mailer,
		async:     deps.AsyncMailer,
		audit:     deps.Audit,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if m.hasher == nil {
		m.hasher = password.NewHasher(password.DefaultCost)
	}
	if m.async == nil {
		m.async = m.mailer
	}
	if m.audit == nil {
		m.audit = audit.NopRecorder{}
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// record sends an auth event to the audit trail
func (m *Manager) record(action models.AuthAction, accountID int64, meta models.RequestMeta, details map[string]interface{}) {
	event := models.NewAuthEvent(action).WithRequest(meta)
	if accountID > 0 {
		event.WithAccount(accountID)
	}
	if len(details) > 0 {
		event.WithDetails(details)
	}
	m.audit.Record(event)
}

// sendAsync hands a best-effort email to the async notifier. Errors are
// logged and dropped.
func (m *Manager) sendAsync(kind string, accountID int64, send func(n notify.Notifier) error) {
	if m.async == nil {
		return
	}
	if err := send(m.async); err != nil {
		m.logger.Warn("failed to queue email",
			zap.String("type", kind),
			zap.Int64("account_id", accountID),
			zap.Error(err))
	}
}

// sanitize strips all markup from free text and trims it
func (m *Manager) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(m.sanitizer.Sanitize(s)))
}

func (m *Manager) sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	clean := m.sanitize(*s)
	return &clean
}

// lookup loads an account and maps storage errors into the domain taxonomy
func (m *Manager) lookup(ctx context.Context, id int64) (*models.Account, error) {
	account, err := m.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrAccountNotFound
		}
		return nil, services.WrapInternal("failed to load account", err)
	}
	return account, nil
}

// findByIdentifier resolves an email or a username, email first
func (m *Manager) findByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	account, err := m.accounts.GetByEmail(ctx, models.NormalizeEmail(identifier))
	if err == nil || !errors.Is(err, repositories.ErrNotFound) {
		return account, err
	}
	return m.accounts.GetByUsername(ctx, models.NormalizeUsername(identifier))
}

// mapDuplicate turns a unique violation into the matching conflict error
func mapDuplicate(err error) error {
	var dup *repositories.DuplicateError
	if errors.As(err, &dup) {
		switch dup.Constraint {
		case repositories.ConstraintUsernameUnique:
			return services.ErrUsernameTaken
		case repositories.ConstraintGoogleIDUnique:
			return services.ErrProviderConflict
		default:
			return services.ErrEmailTaken
		}
	}
	if errors.Is(err, repositories.ErrDuplicate) {
		return services.ErrEmailTaken
	}
	if errors.Is(err, repositories.ErrConstraint) {
		return services.ErrInvalidInput.Wrap(err)
	}
	return services.WrapInternal("failed to save account", err)
}

// newSecretToken returns a random hex token and the digest stored for it
func newSecretToken() (raw, digest string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = hex.EncodeToString(buf)
	return raw, digestToken(raw), nil
}

// digestToken is the stored form of an emailed token
func digestToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) issueSession(account *models.Account) (*Session, error) {
	pair, err := m.issuer.IssuePair(account)
	if err != nil {
		return nil, services.WrapInternal("failed to issue tokens", err)
	}
	return &Session{Account: account, Tokens: pair}, nil
}
