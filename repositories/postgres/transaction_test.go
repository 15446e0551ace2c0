package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/coach-accounts/repositories"
	"go.uber.org/zap"
)

func newMockTxManager(t *testing.T) (repositories.TransactionManager, *DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db := WrapDB(sqlDB, zap.NewNop())
	return NewTransactionManager(db, zap.NewNop()), db, mock
}

func TestTransactionManager_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and routes queries through the transaction", func(t *testing.T) {
		tm, db, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewAccountRepository(db, zap.NewNop())
		err := tm.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
			_, ok := GetTransactionFromContext(txCtx)
			assert.True(t, ok)
			return repo.SetVerificationToken(txCtx, 1, "digest")
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		tm, _, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		tm, _, mock := newMockTxManager(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(outerCtx context.Context, outer repositories.Transaction) error {
			return tm.InTransaction(outerCtx, func(innerCtx context.Context, inner repositories.Transaction) error {
				assert.Same(t, outer, inner)
				return nil
			})
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		tm, _, mock := newMockTxManager(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		called := false
		err := tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			called = true
			return nil
		})

		assert.Error(t, err)
		assert.False(t, called)
	})
}
