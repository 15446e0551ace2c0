package models

import "time"

// AccountView is the sanitized representation returned to clients. It never
// carries the password hash, verification or reset tokens, or the token version.
type AccountView struct {
	ID                int64        `json:"id"`
	Email             string       `json:"email"`
	Username          string       `json:"username"`
	FirstName         string       `json:"firstName"`
	LastName          string       `json:"lastName"`
	Role              Role         `json:"role"`
	AuthProvider      AuthProvider `json:"authProvider"`
	IsActive          bool         `json:"isActive"`
	IsEmailVerified   bool         `json:"isEmailVerified"`
	LastLogin         *time.Time   `json:"lastLogin"`
	Height            *float64     `json:"height"`
	Weight            *float64     `json:"weight"`
	DateOfBirth       *string      `json:"dateOfBirth"`
	Gender            *string      `json:"gender"`
	ActivityLevel     *string      `json:"activityLevel"`
	FitnessGoal       *string      `json:"fitnessGoal"`
	BodyFatPercentage *float64     `json:"bodyFatPercentage"`
	Bio               *string      `json:"bio"`
	Phone             *string      `json:"phone"`
	Avatar            *string      `json:"avatar"`
	BMI               *float64     `json:"bmi"`
	BMICategory       *string      `json:"bmiCategory,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// View returns the sanitized form of the account
func (a *Account) View() AccountView {
	v := AccountView{
		ID:                a.ID,
		Email:             a.Email,
		Username:          a.Username,
		FirstName:         a.FirstName,
		LastName:          a.LastName,
		Role:              a.Role,
		AuthProvider:      a.AuthProvider,
		IsActive:          a.IsActive,
		IsEmailVerified:   a.IsEmailVerified,
		LastLogin:         a.LastLogin,
		Height:            a.Height,
		Weight:            a.Weight,
		Gender:            a.Gender,
		ActivityLevel:     a.ActivityLevel,
		FitnessGoal:       a.FitnessGoal,
		BodyFatPercentage: a.BodyFatPercentage,
		Bio:               a.Bio,
		Phone:             a.Phone,
		Avatar:            a.Avatar,
		BMI:               a.BMI,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
	if a.DateOfBirth != nil {
		dob := a.DateOfBirth.Format(DateLayout)
		v.DateOfBirth = &dob
	}
	if a.BMI != nil {
		category := BMICategory(*a.BMI)
		v.BMICategory = &category
	}
	return v
}

// Views converts a slice of accounts
func Views(accounts []*Account) []AccountView {
	out := make([]AccountView, len(accounts))
	for i, a := range accounts {
		out[i] = a.View()
	}
	return out
}
