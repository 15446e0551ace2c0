package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/coach-accounts/models"
	"github.com/upb/coach-accounts/repositories"
)

func TestStore_CreateEnforcesUniqueness(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	require.NoError(t, repos.Accounts.Create(ctx, models.NewLocalAccount("a@example.com", "alice", "A", "", "h")))

	err := repos.Accounts.Create(ctx, models.NewLocalAccount("A@example.com", "other", "A", "", "h"))
	var dup *repositories.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, repositories.ConstraintEmailUnique, dup.Constraint)

	err = repos.Accounts.Create(ctx, models.NewLocalAccount("b@example.com", "ALICE", "A", "", "h"))
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, repositories.ConstraintUsernameUnique, dup.Constraint)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	account := models.NewLocalAccount("a@example.com", "alice", "A", "", "h")
	require.NoError(t, repos.Accounts.Create(ctx, account))

	loaded, err := repos.Accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	loaded.Role = models.RoleAdmin

	again, err := repos.Accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, again.Role)
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	now := time.Now().UTC()

	account := models.NewLocalAccount("a@example.com", "alice", "A", "", "h")
	require.NoError(t, repos.Accounts.Create(ctx, account))

	version, err := repos.Accounts.RotateTokenVersion(ctx, account.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	_, err = repos.Accounts.RotateTokenVersion(ctx, account.ID, 0)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, repos.Accounts.SetPasswordReset(ctx, account.ID, "digest", now.Add(time.Minute)))
	require.NoError(t, repos.Accounts.ConsumePasswordReset(ctx, account.ID, "digest", "new", now))
	assert.ErrorIs(t, repos.Accounts.ConsumePasswordReset(ctx, account.ID, "digest", "new", now), repositories.ErrNotFound)
}

func TestStore_ListAndEvents(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repos := store.Repositories()

	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, repos.Accounts.Create(ctx, models.NewLocalAccount(name+"@example.com", name, name, "", "h")))
	}

	page, total, err := repos.Accounts.List(ctx, repositories.AccountFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)

	page, total, err = repos.Accounts.List(ctx, repositories.AccountFilter{Limit: 2, Search: "CAR"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].Username)

	require.NoError(t, repos.AuthEvents.Insert(ctx, models.NewAuthEvent(models.AuthActionLogin).WithAccount(1)))
	require.NoError(t, repos.AuthEvents.Insert(ctx, models.NewAuthEvent(models.AuthActionLogout).WithAccount(1)))
	require.NoError(t, repos.AuthEvents.Insert(ctx, models.NewAuthEvent(models.AuthActionLogin).WithAccount(2)))

	events, err := repos.AuthEvents.ListByAccount(ctx, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuthActionLogout, events[0].Action)
	assert.Len(t, store.Events(), 3)
}
