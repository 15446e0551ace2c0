package models

import (
	"math"
	"strings"
	"time"
)

// Role represents the authorization role of an account
type Role string

const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleCoach, RoleAdmin:
		return true
	}
	return false
}

// AuthProvider identifies how an account authenticates
type AuthProvider string

const (
	ProviderLocal AuthProvider = "local"
	ProviderOAuth AuthProvider = "oauth"
)

// Accepted values for the enumerated profile attributes. Kept as strings so
// validator oneof tags and the database CHECK constraints can share them.
const (
	GenderValues        = "male female other"
	ActivityLevelValues = "sedentary lightly_active moderately_active very_active extremely_active"
	FitnessGoalValues   = "lose_weight maintain_weight gain_weight build_muscle improve_endurance general_fitness"
)

// DateLayout is the wire format for dateOfBirth
const DateLayout = "2006-01-02"

// Account is the persisted user record: identity, credential, lifecycle
// state and fitness profile.
type Account struct {
	ID        int64  `db:"id"`
	Email     string `db:"email"`
	Username  string `db:"username"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`

	// PasswordHash is nil exactly when AuthProvider is ProviderOAuth.
	PasswordHash *string      `db:"password_hash"`
	AuthProvider AuthProvider `db:"auth_provider"`
	GoogleID     *string      `db:"google_id"`

	Role            Role `db:"role"`
	IsActive        bool `db:"is_active"`
	IsEmailVerified bool `db:"is_email_verified"`

	// Token columns hold SHA-256 digests, never the raw values sent by email.
	EmailVerificationToken *string    `db:"email_verification_token"`
	PasswordResetToken     *string    `db:"password_reset_token"`
	PasswordResetExpires   *time.Time `db:"password_reset_expires"`

	// TokenVersion is embedded in refresh tokens and advanced on every
	// rotation, logout and deactivation.
	TokenVersion int        `db:"token_version"`
	LastLogin    *time.Time `db:"last_login"`

	Height            *float64   `db:"height"` // centimeters
	Weight            *float64   `db:"weight"` // kilograms
	DateOfBirth       *time.Time `db:"date_of_birth"`
	Gender            *string    `db:"gender"`
	ActivityLevel     *string    `db:"activity_level"`
	FitnessGoal       *string    `db:"fitness_goal"`
	BodyFatPercentage *float64   `db:"body_fat_percentage"`
	Bio               *string    `db:"bio"`
	Phone             *string    `db:"phone"`
	Avatar            *string    `db:"avatar"`
	BMI               *float64   `db:"bmi"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TableName returns the table name for the Account model
func (Account) TableName() string {
	return "accounts"
}

// NewLocalAccount creates an active, unverified account that signs in with a password
func NewLocalAccount(email, username, firstName, lastName, passwordHash string) *Account {
	return &Account{
		Email:        NormalizeEmail(email),
		Username:     NormalizeUsername(username),
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		PasswordHash: &passwordHash,
		AuthProvider: ProviderLocal,
		Role:         RoleUser,
		IsActive:     true,
	}
}

// NewOAuthAccount creates an active account backed by an external identity
// provider. The provider has already verified the email.
func NewOAuthAccount(email, username, firstName, lastName, googleID string) *Account {
	a := &Account{
		Email:           NormalizeEmail(email),
		Username:        NormalizeUsername(username),
		FirstName:       strings.TrimSpace(firstName),
		LastName:        strings.TrimSpace(lastName),
		AuthProvider:    ProviderOAuth,
		Role:            RoleUser,
		IsActive:        true,
		IsEmailVerified: true,
	}
	if googleID != "" {
		a.GoogleID = &googleID
	}
	return a
}

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims and lower-cases a username
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// IsOAuth returns true if the account has no local password
func (a *Account) IsOAuth() bool {
	return a.AuthProvider == ProviderOAuth
}

// IsAdmin returns true if the account has the admin role
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// FullName joins first and last name
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// ResetPending reports whether a password reset token is live at now.
// The expiry is exclusive: a token expiring exactly at now is dead.
func (a *Account) ResetPending(now time.Time) bool {
	return a.PasswordResetToken != nil &&
		a.PasswordResetExpires != nil &&
		a.PasswordResetExpires.After(now)
}

// RecomputeBMI refreshes the derived BMI from height and weight
func (a *Account) RecomputeBMI() {
	a.BMI = ComputeBMI(a.Height, a.Weight)
}

// ComputeBMI returns weight / (height in meters)^2 rounded to two decimals,
// or nil unless both inputs are present and positive.
func ComputeBMI(heightCm, weightKg *float64) *float64 {
	if heightCm == nil || weightKg == nil || *heightCm <= 0 || *weightKg <= 0 {
		return nil
	}
	h := *heightCm / 100.0
	bmi := math.Round(*weightKg/(h*h)*100) / 100
	return &bmi
}

// BMICategory buckets a BMI value using the WHO adult ranges
func BMICategory(bmi float64) string {
	switch {
	case bmi < 18.5:
		return "underweight"
	case bmi < 25.0:
		return "normal"
	case bmi < 30.0:
		return "overweight"
	default:
		return "obese"
	}
}
