// Package memory is an in-process implementation of the repositories
// interfaces. Uniqueness and compare-and-swap semantics match the postgres
// implementation; transactions provide no isolation or rollback.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
)

// Store holds accounts and auth events in memory
type Store struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	events   []*models.AuthEvent
	nextID   int64
	now      func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]*models.Account),
		nextID:   1,
		now:      time.Now,
	}
}

// Repositories returns the store wrapped in the repository aggregate
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Accounts:   (*AccountRepository)(s),
		AuthEvents: (*AuthEventRepository)(s),
	}
}

// TransactionManager returns a manager whose transactions run directly against the store
func (s *Store) TransactionManager() repositories.TransactionManager {
	return transactionManager{}
}

// Events returns a snapshot of all recorded auth events
func (s *Store) Events() []*models.AuthEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AuthEvent(nil), s.events...)
}

// AccountRepository is the Store viewed as a repositories.AccountRepository
type AccountRepository Store

func (r *AccountRepository) store() *Store { return (*Store)(r) }

func (r *AccountRepository) Create(_ context.Context, account *models.Account) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return &repositories.DuplicateError{Constraint: repositories.ConstraintEmailUnique}
		}
		if existing.Username == account.Username {
			return &repositories.DuplicateError{Constraint: repositories.ConstraintUsernameUnique}
		}
		if account.GoogleID != nil && existing.GoogleID != nil && *existing.GoogleID == *account.GoogleID {
			return &repositories.DuplicateError{Constraint: repositories.ConstraintGoogleIDUnique}
		}
	}

	now := s.now().UTC()
	account.ID = s.nextID
	account.TokenVersion = 0
	account.CreatedAt = now
	account.UpdatedAt = now
	s.nextID++
	s.accounts[account.ID] = clone(account)
	return nil
}

func (r *AccountRepository) find(match func(a *models.Account) bool) (*models.Account, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if match(a) {
			return clone(a), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *AccountRepository) GetByID(_ context.Context, id int64) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.ID == id })
}

func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.Email == email })
}

func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.Username == username })
}

func (r *AccountRepository) GetByGoogleID(_ context.Context, googleID string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.GoogleID != nil && *a.GoogleID == googleID })
}

func (r *AccountRepository) GetByVerificationToken(_ context.Context, digest string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool {
		return a.EmailVerificationToken != nil && *a.EmailVerificationToken == digest
	})
}

func (r *AccountRepository) GetByResetToken(_ context.Context, digest string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool {
		return a.PasswordResetToken != nil && *a.PasswordResetToken == digest
	})
}

func (r *AccountRepository) List(_ context.Context, filter repositories.AccountFilter) ([]*models.Account, int, error) {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var matched []*models.Account
	for _, a := range s.accounts {
		if filter.Role != nil && a.Role != *filter.Role {
			continue
		}
		if filter.IsActive != nil && a.IsActive != *filter.IsActive {
			continue
		}
		if search != "" &&
			!strings.Contains(a.Email, search) &&
			!strings.Contains(a.Username, search) &&
			!strings.Contains(strings.ToLower(a.FirstName), search) &&
			!strings.Contains(strings.ToLower(a.LastName), search) {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}

	page := make([]*models.Account, 0, end-start)
	for _, a := range matched[start:end] {
		page = append(page, clone(a))
	}
	return page, total, nil
}

// mutate applies fn to the stored account when it exists and cond holds
func (r *AccountRepository) mutate(id int64, cond func(a *models.Account) bool, fn func(a *models.Account)) error {
	s := r.store()
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || (cond != nil && !cond(a)) {
		return repositories.ErrNotFound
	}
	fn(a)
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (r *AccountRepository) Update(_ context.Context, account *models.Account) error {
	return r.mutate(account.ID, nil, func(a *models.Account) {
		copyProfile(a, account)
		a.Role = account.Role
		a.IsActive = account.IsActive
		a.IsEmailVerified = account.IsEmailVerified
		account.UpdatedAt = r.store().now().UTC()
	})
}

func (r *AccountRepository) UpdateProfile(_ context.Context, account *models.Account) error {
	return r.mutate(account.ID, nil, func(a *models.Account) {
		copyProfile(a, account)
		account.Role = a.Role
		account.IsActive = a.IsActive
		account.IsEmailVerified = a.IsEmailVerified
		account.TokenVersion = a.TokenVersion
		account.UpdatedAt = r.store().now().UTC()
	})
}

func copyProfile(dst, src *models.Account) {
	dst.FirstName = src.FirstName
	dst.LastName = src.LastName
	dst.Height = copyPtr(src.Height)
	dst.Weight = copyPtr(src.Weight)
	dst.DateOfBirth = copyPtr(src.DateOfBirth)
	dst.Gender = copyPtr(src.Gender)
	dst.ActivityLevel = copyPtr(src.ActivityLevel)
	dst.FitnessGoal = copyPtr(src.FitnessGoal)
	dst.BodyFatPercentage = copyPtr(src.BodyFatPercentage)
	dst.Bio = copyPtr(src.Bio)
	dst.Phone = copyPtr(src.Phone)
	dst.Avatar = copyPtr(src.Avatar)
	dst.BMI = copyPtr(src.BMI)
}

func (r *AccountRepository) SetVerificationToken(_ context.Context, id int64, digest string) error {
	return r.mutate(id, nil, func(a *models.Account) {
		a.EmailVerificationToken = &digest
	})
}

func (r *AccountRepository) MarkEmailVerified(_ context.Context, id int64, digest string) error {
	return r.mutate(id,
		func(a *models.Account) bool {
			return a.EmailVerificationToken != nil && *a.EmailVerificationToken == digest
		},
		func(a *models.Account) {
			a.IsEmailVerified = true
			a.EmailVerificationToken = nil
		})
}

func (r *AccountRepository) SetPasswordReset(_ context.Context, id int64, digest string, expires time.Time) error {
	return r.mutate(id, nil, func(a *models.Account) {
		a.PasswordResetToken = &digest
		a.PasswordResetExpires = &expires
	})
}

func (r *AccountRepository) ConsumePasswordReset(_ context.Context, id int64, digest, passwordHash string, now time.Time) error {
	return r.mutate(id,
		func(a *models.Account) bool {
			return a.PasswordResetToken != nil && *a.PasswordResetToken == digest && a.ResetPending(now)
		},
		func(a *models.Account) {
			a.PasswordHash = &passwordHash
			a.PasswordResetToken = nil
			a.PasswordResetExpires = nil
			a.TokenVersion++
		})
}

func (r *AccountRepository) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return r.mutate(id,
		func(a *models.Account) bool { return a.AuthProvider == models.ProviderLocal },
		func(a *models.Account) { a.PasswordHash = &passwordHash })
}

func (r *AccountRepository) RecordLogin(_ context.Context, id int64, at time.Time) error {
	return r.mutate(id, nil, func(a *models.Account) { a.LastLogin = &at })
}

func (r *AccountRepository) RotateTokenVersion(_ context.Context, id int64, expected int) (int, error) {
	var version int
	err := r.mutate(id,
		func(a *models.Account) bool { return a.TokenVersion == expected },
		func(a *models.Account) {
			a.TokenVersion++
			version = a.TokenVersion
		})
	return version, err
}

func (r *AccountRepository) SoftDelete(_ context.Context, id int64) error {
	return r.mutate(id, nil, func(a *models.Account) {
		a.IsActive = false
		a.TokenVersion++
	})
}

// AuthEventRepository is the Store viewed as a repositories.AuthEventRepository
type AuthEventRepository Store

func (r *AuthEventRepository) Insert(_ context.Context, event *models.AuthEvent) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	s.events = append(s.events, &e)
	return nil
}

func (r *AuthEventRepository) ListByAccount(_ context.Context, accountID int64, limit, offset int) ([]*models.AuthEvent, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AuthEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.AccountID != nil && *e.AccountID == accountID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return []*models.AuthEvent{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type transactionManager struct{}

func (transactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return transaction{ctx: ctx}, nil
}

func (transactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, transaction{ctx: ctx})
}

type transaction struct {
	ctx context.Context
}

func (t transaction) Commit() error            { return nil }
func (t transaction) Rollback() error          { return nil }
func (t transaction) Context() context.Context { return t.ctx }

func clone(a *models.Account) *models.Account {
	c := *a
	c.PasswordHash = copyPtr(a.PasswordHash)
	c.GoogleID = copyPtr(a.GoogleID)
	c.EmailVerificationToken = copyPtr(a.EmailVerificationToken)
	c.PasswordResetToken = copyPtr(a.PasswordResetToken)
	c.PasswordResetExpires = copyPtr(a.PasswordResetExpires)
	c.LastLogin = copyPtr(a.LastLogin)
	c.Height = copyPtr(a.Height)
	c.Weight = copyPtr(a.Weight)
	c.DateOfBirth = copyPtr(a.DateOfBirth)
	c.Gender = copyPtr(a.Gender)
	c.ActivityLevel = copyPtr(a.ActivityLevel)
	c.FitnessGoal = copyPtr(a.FitnessGoal)
	c.BodyFatPercentage = copyPtr(a.BodyFatPercentage)
	c.Bio = copyPtr(a.Bio)
	c.Phone = copyPtr(a.Phone)
	c.Avatar = copyPtr(a.Avatar)
	c.BMI = copyPtr(a.BMI)
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
