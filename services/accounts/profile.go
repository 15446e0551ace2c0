package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
	"github.com/upb/coach-accounts/services"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxEventLimit    = 200
)

// ProfileUpdate is the self-service patch. Absent fields are left alone and
// explicit nulls clear nullable fields. It has no role, flag, password or
// token fields, so a payload carrying them changes nothing.
type ProfileUpdate struct {
	FirstName         models.Optional[string]  `json:"firstName" validate:"omitempty,min=1,max=50"`
	LastName          models.Optional[string]  `json:"lastName" validate:"omitempty,max=50"`
	Height            models.Optional[float64] `json:"height" validate:"omitempty,gte=50,lte=300"`
	Weight            models.Optional[float64] `json:"weight" validate:"omitempty,gte=20,lte=500"`
	DateOfBirth       models.Optional[string]  `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Gender            models.Optional[string]  `json:"gender" validate:"omitempty,oneof=male female other"`
	ActivityLevel     models.Optional[string]  `json:"activityLevel" validate:"omitempty,oneof=sedentary lightly_active moderately_active very_active extremely_active"`
	FitnessGoal       models.Optional[string]  `json:"fitnessGoal" validate:"omitempty,oneof=lose_weight maintain_weight gain_weight build_muscle improve_endurance general_fitness"`
	BodyFatPercentage models.Optional[float64] `json:"bodyFatPercentage" validate:"omitempty,gte=2,lte=70"`
	Bio               models.Optional[string]  `json:"bio" validate:"omitempty,max=500"`
	Phone             models.Optional[string]  `json:"phone" validate:"omitempty,max=20"`
	Avatar            models.Optional[string]  `json:"avatar" validate:"omitempty,url,max=500"`
}

// BodyUpdate is the body-information subset of the profile
type BodyUpdate struct {
	Height            models.Optional[float64] `json:"height" validate:"omitempty,gte=50,lte=300"`
	Weight            models.Optional[float64] `json:"weight" validate:"omitempty,gte=20,lte=500"`
	BodyFatPercentage models.Optional[float64] `json:"bodyFatPercentage" validate:"omitempty,gte=2,lte=70"`
	ActivityLevel     models.Optional[string]  `json:"activityLevel" validate:"omitempty,oneof=sedentary lightly_active moderately_active very_active extremely_active"`
	FitnessGoal       models.Optional[string]  `json:"fitnessGoal" validate:"omitempty,oneof=lose_weight maintain_weight gain_weight build_muscle improve_endurance general_fitness"`
}

func (b BodyUpdate) profile() ProfileUpdate {
	return ProfileUpdate{
		Height:            b.Height,
		Weight:            b.Weight,
		BodyFatPercentage: b.BodyFatPercentage,
		ActivityLevel:     b.ActivityLevel,
		FitnessGoal:       b.FitnessGoal,
	}
}

// AdminUpdate is the administrative patch: the profile plus role and
// lifecycle flags.
type AdminUpdate struct {
	ProfileUpdate
	Role            *models.Role `json:"role" validate:"omitempty,oneof=user coach admin"`
	IsActive        *bool        `json:"isActive"`
	IsEmailVerified *bool        `json:"isEmailVerified"`
}

// applyProfile copies the present fields of p onto account and refreshes BMI
func (m *Manager) applyProfile(account *models.Account, p ProfileUpdate) error {
	invalid := func(field, msg string) error {
		return services.ErrInvalidInput.WithDetail(field, msg)
	}

	if p.FirstName.Set {
		if p.FirstName.Value == nil || m.sanitize(*p.FirstName.Value) == "" {
			return invalid("firstName", "firstName cannot be empty")
		}
		account.FirstName = m.sanitize(*p.FirstName.Value)
	}
	if p.LastName.Set {
		account.LastName = ""
		if p.LastName.Value != nil {
			account.LastName = m.sanitize(*p.LastName.Value)
		}
	}

	p.Height.Apply(&account.Height)
	p.Weight.Apply(&account.Weight)
	p.BodyFatPercentage.Apply(&account.BodyFatPercentage)

	if p.DateOfBirth.Set {
		if p.DateOfBirth.Value == nil {
			account.DateOfBirth = nil
		} else {
			dob, err := time.Parse(models.DateLayout, *p.DateOfBirth.Value)
			if err != nil {
				return invalid("dateOfBirth", "dateOfBirth must be formatted as YYYY-MM-DD")
			}
			if !dob.Before(m.clock()) {
				return invalid("dateOfBirth", "dateOfBirth must be in the past")
			}
			account.DateOfBirth = &dob
		}
	}

	enums := []struct {
		field   string
		value   models.Optional[string]
		allowed string
		dst     **string
	}{
		{"gender", p.Gender, models.GenderValues, &account.Gender},
		{"activityLevel", p.ActivityLevel, models.ActivityLevelValues, &account.ActivityLevel},
		{"fitnessGoal", p.FitnessGoal, models.FitnessGoalValues, &account.FitnessGoal},
	}
	for _, e := range enums {
		if e.value.Value != nil && !oneOf(*e.value.Value, e.allowed) {
			return invalid(e.field, e.field+" must be one of: "+e.allowed)
		}
		e.value.Apply(e.dst)
	}

	p.Bio.Apply(&account.Bio)
	account.Bio = m.sanitizePtr(account.Bio)
	p.Phone.Apply(&account.Phone)
	account.Phone = m.sanitizePtr(account.Phone)
	p.Avatar.Apply(&account.Avatar)

	account.RecomputeBMI()
	return nil
}

func oneOf(value, allowed string) bool {
	for _, a := range strings.Fields(allowed) {
		if value == a {
			return true
		}
	}
	return false
}

// GetAccount returns an account by id
func (m *Manager) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	return m.lookup(ctx, id)
}

// ListAccounts returns one page of accounts and the total matching the filter
func (m *Manager) ListAccounts(ctx context.Context, filter repositories.AccountFilter) ([]*models.Account, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, 0, services.ErrInvalidInput.WithDetail("role", "unknown role")
	}

	accounts, total, err := m.accounts.List(ctx, filter)
	if err != nil {
		return nil, 0, services.WrapInternal("failed to list accounts", err)
	}
	return accounts, total, nil
}

// UpdateProfile applies a self-service patch
func (m *Manager) UpdateProfile(ctx context.Context, id int64, p ProfileUpdate, meta models.RequestMeta) (*models.Account, error) {
	account, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.applyProfile(account, p); err != nil {
		return nil, err
	}
	if err := m.persist(ctx, account, m.accounts.UpdateProfile); err != nil {
		return nil, err
	}

	m.record(models.AuthActionAccountUpdated, id, meta, map[string]interface{}{"by": "self"})
	return account, nil
}

// UpdateBodyInformation applies the body-metrics subset of a profile patch
func (m *Manager) UpdateBodyInformation(ctx context.Context, id int64, b BodyUpdate, meta models.RequestMeta) (*models.Account, error) {
	return m.UpdateProfile(ctx, id, b.profile(), meta)
}

// AdminUpdate applies an administrative patch. Deactivating an account also
// revokes its refresh tokens.
func (m *Manager) AdminUpdate(ctx context.Context, id int64, u AdminUpdate, meta models.RequestMeta) (*models.Account, error) {
	if u.Role != nil && !u.Role.Valid() {
		return nil, services.ErrInvalidInput.WithDetail("role", "role must be one of: user coach admin")
	}

	return services.WithTransactionResult(ctx, m.txMgr, func(ctx context.Context) (*models.Account, error) {
		account, err := m.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		wasActive := account.IsActive

		if err := m.applyProfile(account, u.ProfileUpdate); err != nil {
			return nil, err
		}
		if u.Role != nil {
			account.Role = *u.Role
		}
		if u.IsActive != nil {
			account.IsActive = *u.IsActive
		}
		if u.IsEmailVerified != nil {
			account.IsEmailVerified = *u.IsEmailVerified
		}

		if err := m.persist(ctx, account, m.accounts.Update); err != nil {
			return nil, err
		}
		deactivated := wasActive && !account.IsActive
		if deactivated {
			if err := m.accounts.SoftDelete(ctx, id); err != nil {
				return nil, services.WrapInternal("failed to deactivate account", err)
			}
			account.TokenVersion++
		}

		m.logger.Info("account updated by admin",
			zap.Int64("account_id", id),
			zap.String("role", string(account.Role)),
			zap.Bool("is_active", account.IsActive))
		m.record(models.AuthActionAccountUpdated, id, meta, map[string]interface{}{"by": "admin"})
		if deactivated {
			m.record(models.AuthActionAccountDeactivated, id, meta, nil)
		}
		return account, nil
	})
}

// Deactivate soft-deletes an account and revokes its refresh tokens
func (m *Manager) Deactivate(ctx context.Context, id int64, meta models.RequestMeta) error {
	if err := m.accounts.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrAccountNotFound
		}
		return services.WrapInternal("failed to deactivate account", err)
	}

	m.logger.Info("account deactivated", zap.Int64("account_id", id))
	m.record(models.AuthActionAccountDeactivated, id, meta, nil)
	return nil
}

// ListEvents returns an account's auth events, newest first
func (m *Manager) ListEvents(ctx context.Context, id int64, limit, offset int) ([]*models.AuthEvent, error) {
	if _, err := m.lookup(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	if offset < 0 {
		offset = 0
	}

	events, err := m.events.ListByAccount(ctx, id, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list auth events", err)
	}
	return events, nil
}

// persist runs one of the repository account writers and maps its errors
func (m *Manager) persist(ctx context.Context, account *models.Account, write func(context.Context, *models.Account) error) error {
	if err := write(ctx, account); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrAccountNotFound
		}
		if errors.Is(err, repositories.ErrConstraint) {
			return services.ErrInvalidInput.Wrap(err)
		}
		return services.WrapInternal("failed to update account", err)
	}
	return nil
}
