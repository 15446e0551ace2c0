package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/coach-accounts/models"
)

// Storage-level sentinel errors. Implementations wrap them so callers can
// match with errors.Is regardless of the backing driver.
var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("duplicate record")
	ErrConstraint = errors.New("constraint violation")
)

// DuplicateError carries the name of the violated unique constraint
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return "duplicate record: " + e.Constraint
}

// Unwrap allows errors.Is(err, ErrDuplicate)
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// Unique constraint names shared by the schema and the service layer
const (
	ConstraintEmailUnique    = "accounts_email_key"
	ConstraintUsernameUnique = "accounts_username_key"
	ConstraintGoogleIDUnique = "accounts_google_id_key"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// AccountFilter narrows an admin account listing
type AccountFilter struct {
	Limit    int
	Offset   int
	Role     *models.Role
	IsActive *bool
	// Search matches email, username, first or last name (case-insensitive substring)
	Search string
}

// AccountRepository handles account data operations.
// Email and username arguments are expected to be normalized already.
type AccountRepository interface {
	// Create inserts the account and fills ID, TokenVersion and timestamps
	Create(ctx context.Context, account *models.Account) error

	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByGoogleID(ctx context.Context, googleID string) (*models.Account, error)

	// GetByVerificationToken looks up by the stored token digest
	GetByVerificationToken(ctx context.Context, digest string) (*models.Account, error)

	// GetByResetToken looks up by the stored token digest
	GetByResetToken(ctx context.Context, digest string) (*models.Account, error)

	// List returns one page of accounts and the total count matching the filter
	List(ctx context.Context, filter AccountFilter) ([]*models.Account, int, error)

	// Update persists profile, role and flag columns
	Update(ctx context.Context, account *models.Account) error

	// UpdateProfile persists profile columns only and refreshes account's
	// role, flags, TokenVersion and UpdatedAt from the stored row
	UpdateProfile(ctx context.Context, account *models.Account) error

	SetVerificationToken(ctx context.Context, id int64, digest string) error

	// MarkEmailVerified clears the verification token only if it still
	// equals digest. Returns ErrNotFound when nothing matched.
	MarkEmailVerified(ctx context.Context, id int64, digest string) error

	SetPasswordReset(ctx context.Context, id int64, digest string, expires time.Time) error

	// ConsumePasswordReset sets the new hash and clears the reset token only
	// if the stored digest still equals digest and has not expired at now.
	// Returns ErrNotFound when nothing matched.
	ConsumePasswordReset(ctx context.Context, id int64, digest, passwordHash string, now time.Time) error

	UpdatePassword(ctx context.Context, id int64, passwordHash string) error

	RecordLogin(ctx context.Context, id int64, at time.Time) error

	// RotateTokenVersion advances token_version from expected to expected+1.
	// Returns ErrNotFound when the stored version differs.
	RotateTokenVersion(ctx context.Context, id int64, expected int) (int, error)

	// SoftDelete marks the account inactive and invalidates refresh tokens
	SoftDelete(ctx context.Context, id int64) error
}

// AuthEventRepository handles auth event data operations
type AuthEventRepository interface {
	Insert(ctx context.Context, event *models.AuthEvent) error

	// ListByAccount returns the newest events first
	ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.AuthEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Accounts   AccountRepository
	AuthEvents AuthEventRepository
}
