package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"go.uber.org/zap"
)

const accountColumns = `
	id, email, username, first_name, last_name,
	password_hash, auth_provider, google_id,
	role, is_active, is_email_verified,
	email_verification_token, password_reset_token, password_reset_expires,
	token_version, last_login,
	height, weight, date_of_birth, gender, activity_level, fitness_goal,
	body_fat_percentage, bio, phone, avatar, bmi,
	created_at, updated_at`

// maxListLimit caps admin listings
const maxListLimit = 100

// AccountRepository implements the repositories.AccountRepository interface
type AccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB, logger *zap.Logger) repositories.AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(
		&a.ID, &a.Email, &a.Username, &a.FirstName, &a.LastName,
		&a.PasswordHash, &a.AuthProvider, &a.GoogleID,
		&a.Role, &a.IsActive, &a.IsEmailVerified,
		&a.EmailVerificationToken, &a.PasswordResetToken, &a.PasswordResetExpires,
		&a.TokenVersion, &a.LastLogin,
		&a.Height, &a.Weight, &a.DateOfBirth, &a.Gender, &a.ActivityLevel, &a.FitnessGoal,
		&a.BodyFatPercentage, &a.Bio, &a.Phone, &a.Avatar, &a.BMI,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (
			email, username, first_name, last_name,
			password_hash, auth_provider, google_id,
			role, is_active, is_email_verified, email_verification_token,
			height, weight, date_of_birth, gender, activity_level, fitness_goal,
			body_fat_percentage, bio, phone, avatar, bmi
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		RETURNING id, token_version, created_at, updated_at
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		account.Email,
		account.Username,
		account.FirstName,
		account.LastName,
		account.PasswordHash,
		account.AuthProvider,
		account.GoogleID,
		account.Role,
		account.IsActive,
		account.IsEmailVerified,
		account.EmailVerificationToken,
		account.Height,
		account.Weight,
		account.DateOfBirth,
		account.Gender,
		account.ActivityLevel,
		account.FitnessGoal,
		account.BodyFatPercentage,
		account.Bio,
		account.Phone,
		account.Avatar,
		account.BMI,
	).Scan(&account.ID, &account.TokenVersion, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return mapError("create account", err)
	}

	r.logger.Debug("account created", zap.Int64("id", account.ID), zap.String("provider", string(account.AuthProvider)))
	return nil
}

func (r *AccountRepository) getOne(ctx context.Context, op, column string, arg interface{}) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s = $1`, accountColumns, column)

	executor := GetExecutor(ctx, r.db)
	account, err := scanAccount(executor.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, mapError(op, err)
	}
	return account, nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	return r.getOne(ctx, "get account by id", "id", id)
}

// GetByEmail retrieves an account by normalized email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getOne(ctx, "get account by email", "email", email)
}

// GetByUsername retrieves an account by normalized username
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.getOne(ctx, "get account by username", "username", username)
}

// GetByGoogleID retrieves an account by Google subject
func (r *AccountRepository) GetByGoogleID(ctx context.Context, googleID string) (*models.Account, error) {
	return r.getOne(ctx, "get account by google id", "google_id", googleID)
}

// GetByVerificationToken retrieves an account by verification token digest
func (r *AccountRepository) GetByVerificationToken(ctx context.Context, digest string) (*models.Account, error) {
	return r.getOne(ctx, "get account by verification token", "email_verification_token", digest)
}

// GetByResetToken retrieves an account by reset token digest
func (r *AccountRepository) GetByResetToken(ctx context.Context, digest string) (*models.Account, error) {
	return r.getOne(ctx, "get account by reset token", "password_reset_token", digest)
}

// List retrieves a page of accounts, newest first
func (r *AccountRepository) List(ctx context.Context, filter repositories.AccountFilter) ([]*models.Account, int, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.Role != nil {
		args = append(args, *filter.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(s))+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(email LIKE $%d OR username LIKE $%d OR LOWER(first_name) LIKE $%d OR LOWER(last_name) LIKE $%d)",
			n, n, n, n))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	executor := GetExecutor(ctx, r.db)

	var total int
	if err := executor.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts"+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError("count accounts", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM accounts%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		accountColumns, where, len(args)-1, len(args))

	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError("list accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0, limit)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Update persists profile, role and flag columns. Only the admin path uses it.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET first_name = $2,
		    last_name = $3,
		    role = $4,
		    is_active = $5,
		    is_email_verified = $6,
		    height = $7,
		    weight = $8,
		    date_of_birth = $9,
		    gender = $10,
		    activity_level = $11,
		    fitness_goal = $12,
		    body_fat_percentage = $13,
		    bio = $14,
		    phone = $15,
		    avatar = $16,
		    bmi = $17,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		account.ID,
		account.FirstName,
		account.LastName,
		account.Role,
		account.IsActive,
		account.IsEmailVerified,
		account.Height,
		account.Weight,
		account.DateOfBirth,
		account.Gender,
		account.ActivityLevel,
		account.FitnessGoal,
		account.BodyFatPercentage,
		account.Bio,
		account.Phone,
		account.Avatar,
		account.BMI,
	).Scan(&account.UpdatedAt)
	if err != nil {
		return mapError("update account", err)
	}

	r.logger.Debug("account updated", zap.Int64("id", account.ID))
	return nil
}

// UpdateProfile writes only the self-service profile columns. Role and
// lifecycle flags are read back from the row, never written.
func (r *AccountRepository) UpdateProfile(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET first_name = $2,
		    last_name = $3,
		    height = $4,
		    weight = $5,
		    date_of_birth = $6,
		    gender = $7,
		    activity_level = $8,
		    fitness_goal = $9,
		    body_fat_percentage = $10,
		    bio = $11,
		    phone = $12,
		    avatar = $13,
		    bmi = $14,
		    updated_at = now()
		WHERE id = $1
		RETURNING role, is_active, is_email_verified, token_version, updated_at
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		account.ID,
		account.FirstName,
		account.LastName,
		account.Height,
		account.Weight,
		account.DateOfBirth,
		account.Gender,
		account.ActivityLevel,
		account.FitnessGoal,
		account.BodyFatPercentage,
		account.Bio,
		account.Phone,
		account.Avatar,
		account.BMI,
	).Scan(&account.Role, &account.IsActive, &account.IsEmailVerified, &account.TokenVersion, &account.UpdatedAt)
	if err != nil {
		return mapError("update account profile", err)
	}

	r.logger.Debug("account profile updated", zap.Int64("id", account.ID))
	return nil
}

func (r *AccountRepository) exec(ctx context.Context, op, query string, args ...interface{}) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(op, err)
	}
	return expectOneRow(op, result)
}

// SetVerificationToken stores a new verification digest, replacing any previous one
func (r *AccountRepository) SetVerificationToken(ctx context.Context, id int64, digest string) error {
	return r.exec(ctx, "set verification token",
		`UPDATE accounts SET email_verification_token = $2, updated_at = now() WHERE id = $1`,
		id, digest)
}

// MarkEmailVerified flips the verified flag if the digest still matches
func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id int64, digest string) error {
	return r.exec(ctx, "mark email verified",
		`UPDATE accounts
		 SET is_email_verified = true, email_verification_token = NULL, updated_at = now()
		 WHERE id = $1 AND email_verification_token = $2`,
		id, digest)
}

// SetPasswordReset stores a reset digest and its expiry together
func (r *AccountRepository) SetPasswordReset(ctx context.Context, id int64, digest string, expires time.Time) error {
	return r.exec(ctx, "set password reset",
		`UPDATE accounts
		 SET password_reset_token = $2, password_reset_expires = $3, updated_at = now()
		 WHERE id = $1`,
		id, digest, expires)
}

// ConsumePasswordReset swaps the password hash and clears the reset pair in one statement.
// Outstanding refresh tokens are invalidated as well.
func (r *AccountRepository) ConsumePasswordReset(ctx context.Context, id int64, digest, passwordHash string, now time.Time) error {
	return r.exec(ctx, "consume password reset",
		`UPDATE accounts
		 SET password_hash = $3,
		     password_reset_token = NULL,
		     password_reset_expires = NULL,
		     token_version = token_version + 1,
		     updated_at = now()
		 WHERE id = $1 AND password_reset_token = $2 AND password_reset_expires > $4`,
		id, digest, passwordHash, now)
}

// UpdatePassword replaces the password hash of a local account
func (r *AccountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return r.exec(ctx, "update password",
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1 AND auth_provider = 'local'`,
		id, passwordHash)
}

// RecordLogin stamps last_login
func (r *AccountRepository) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, "record login",
		`UPDATE accounts SET last_login = $2 WHERE id = $1`,
		id, at)
}

// RotateTokenVersion advances token_version when it still equals expected
func (r *AccountRepository) RotateTokenVersion(ctx context.Context, id int64, expected int) (int, error) {
	query := `
		UPDATE accounts
		SET token_version = token_version + 1
		WHERE id = $1 AND token_version = $2
		RETURNING token_version
	`

	executor := GetExecutor(ctx, r.db)
	var version int
	if err := executor.QueryRowContext(ctx, query, id, expected).Scan(&version); err != nil {
		return 0, mapError("rotate token version", err)
	}
	return version, nil
}

// SoftDelete deactivates the account and invalidates its refresh tokens
func (r *AccountRepository) SoftDelete(ctx context.Context, id int64) error {
	if err := r.exec(ctx, "soft delete account",
		`UPDATE accounts
		 SET is_active = false, token_version = token_version + 1, updated_at = now()
		 WHERE id = $1`,
		id); err != nil {
		return err
	}

	r.logger.Debug("account deactivated", zap.Int64("id", id))
	return nil
}
