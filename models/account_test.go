package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestComputeBMI(t *testing.T) {
	tests := []struct {
		name   string
		height *float64
		weight *float64
		want   *float64
	}{
		{name: "metric height and weight", height: floatPtr(180), weight: floatPtr(80), want: floatPtr(24.69)},
		{name: "missing weight", height: floatPtr(180), weight: nil, want: nil},
		{name: "missing height", height: nil, weight: floatPtr(80), want: nil},
		{name: "zero height", height: floatPtr(0), weight: floatPtr(80), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBMI(tt.height, tt.weight)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.01)
		})
	}
}

func TestAccount_RecomputeBMI(t *testing.T) {
	a := &Account{Height: floatPtr(180), Weight: floatPtr(80)}
	a.RecomputeBMI()
	require.NotNil(t, a.BMI)
	assert.InDelta(t, 24.69, *a.BMI, 0.01)

	a.Weight = nil
	a.RecomputeBMI()
	assert.Nil(t, a.BMI)
}

func TestNewLocalAccount(t *testing.T) {
	a := NewLocalAccount("  Alice@Example.COM ", "Alice", "Alice", "Smith", "hash")

	assert.Equal(t, "alice@example.com", a.Email)
	assert.Equal(t, "alice", a.Username)
	assert.Equal(t, ProviderLocal, a.AuthProvider)
	assert.Equal(t, RoleUser, a.Role)
	assert.True(t, a.IsActive)
	assert.False(t, a.IsEmailVerified)
	require.NotNil(t, a.PasswordHash)
	assert.Equal(t, "hash", *a.PasswordHash)
}

func TestNewOAuthAccount(t *testing.T) {
	a := NewOAuthAccount("bob@example.com", "bob", "Bob", "", "google-123")

	assert.Equal(t, ProviderOAuth, a.AuthProvider)
	assert.Nil(t, a.PasswordHash)
	assert.True(t, a.IsEmailVerified)
	assert.True(t, a.IsOAuth())
	require.NotNil(t, a.GoogleID)
	assert.Equal(t, "google-123", *a.GoogleID)
}

func TestAccount_ResetPending(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token := "digest"

	t.Run("future expiry", func(t *testing.T) {
		exp := now.Add(time.Minute)
		a := &Account{PasswordResetToken: &token, PasswordResetExpires: &exp}
		assert.True(t, a.ResetPending(now))
	})

	t.Run("expiry equal to now is expired", func(t *testing.T) {
		exp := now
		a := &Account{PasswordResetToken: &token, PasswordResetExpires: &exp}
		assert.False(t, a.ResetPending(now))
	})

	t.Run("no token", func(t *testing.T) {
		assert.False(t, (&Account{}).ResetPending(now))
	})
}

func TestAccount_View(t *testing.T) {
	hash := "$2a$12$secret"
	token := "verification-digest"
	dob := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	a := &Account{
		ID:                     7,
		Email:                  "alice@example.com",
		Username:               "alice",
		PasswordHash:           &hash,
		EmailVerificationToken: &token,
		PasswordResetToken:     &token,
		TokenVersion:           3,
		DateOfBirth:            &dob,
		Height:                 floatPtr(180),
		Weight:                 floatPtr(80),
	}
	a.RecomputeBMI()

	data, err := json.Marshal(a.View())
	require.NoError(t, err)

	body := string(data)
	assert.NotContains(t, body, hash)
	assert.NotContains(t, body, token)
	assert.NotContains(t, body, "tokenVersion")
	assert.Contains(t, body, `"dateOfBirth":"1990-05-17"`)
	assert.Contains(t, body, `"bmiCategory":"normal"`)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleCoach.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("root").Valid())
}
