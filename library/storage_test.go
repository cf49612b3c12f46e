package library

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDependencies struct {
	db      *Database
	mock    sqlmock.Sqlmock
	cleanup func()
}

func setupMockDB(t *testing.T) *mockDependencies {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err, "Error mocking DB")

	mock.ExpectPrepare(selectUserByIDSQL)
	mock.ExpectPrepare(selectSessionSQL)
	db, err := newDatabase(sqlx.NewDb(conn, "sqlite3"))
	require.NoError(t, err)

	return &mockDependencies{
		db:   db,
		mock: mock,
		cleanup: func() {
			assert.NoError(t, mock.ExpectationsWereMet(), "Expectations were not met")
			conn.Close()
		},
	}
}

func TestStorageFailuresAreInternal(t *testing.T) {
	ioErr := errors.New("disk I/O error")

	testCases := []struct {
		name      string
		mockSetup func(sqlmock.Sqlmock)
		call      func(ctx context.Context, db *Database) error
	}{
		{
			name: "checkout cannot begin",
			mockSetup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin().WillReturnError(ioErr)
			},
			call: func(ctx context.Context, db *Database) error {
				_, err := db.CheckoutBook(ctx, 1, 1)
				return err
			},
		},
		{
			name: "return fails mid transaction",
			mockSetup: func(m sqlmock.Sqlmock) {
				m.ExpectBegin()
				m.ExpectQuery(selectOpenEntrySQL).
					WithArgs(int64(3)).
					WillReturnError(ioErr)
				m.ExpectRollback()
			},
			call: func(ctx context.Context, db *Database) error {
				_, err := db.ReturnBook(ctx, 3, 0)
				return err
			},
		},
		{
			name: "user lookup fails",
			mockSetup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(selectUserByIDSQL).WithArgs(int64(5)).WillReturnError(ioErr)
			},
			call: func(ctx context.Context, db *Database) error {
				_, err := db.GetUser(ctx, 5)
				return err
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deps := setupMockDB(t)
			defer deps.cleanup()

			tc.mockSetup(deps.mock)
			err := tc.call(context.Background(), deps.db)

			require.Error(t, err)
			assert.ErrorIs(t, err, ioErr)
			assert.Equal(t, KindInternal, KindOf(err))
			assert.Equal(t, "internal server error", MessageOf(err))
		})
	}
}

func TestCommitFailureIsInternal(t *testing.T) {
	deps := setupMockDB(t)
	defer deps.cleanup()

	commitErr := errors.New("database is locked")
	deps.mock.ExpectBegin()
	deps.mock.ExpectExec(`DELETE FROM books WHERE id=?`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	deps.mock.ExpectCommit().WillReturnError(commitErr)

	err := deps.db.withTx(context.Background(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`DELETE FROM books WHERE id=?`, int64(2))
		return err
	})
	assert.ErrorIs(t, err, commitErr)
	assert.Equal(t, KindInternal, KindOf(err))
}
