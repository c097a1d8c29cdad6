package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_GetUser(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now().UTC()
		rows := sqlmock.NewRows([]string{
			"id", "username", "email", "display_name", "role", "password_hash", "active",
			"mfa_enabled", "totp_secret", "locale", "webauthn_id", "created_at", "updated_at", "last_login_at",
		}).AddRow(1, "alice", "alice@example.com", "Alice", "editor", "hash", true,
			false, "", "en", "handle", now, now, nil)

		mock.ExpectQuery(`SELECT id, username, email, .* FROM users WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnRows(rows)

		u, err := store.GetUser(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, RoleEditor, u.Role)
		assert.Nil(t, u.LastLoginAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs(int64(2)).
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetUser(ctx, 2)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs(int64(3)).
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetUser(ctx, 3)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "failed to get user")
	})
}

func TestStore_RevokeSession(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("revoked", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE sessions SET revoked_at = \$1 WHERE user_id = \$2 AND id = \$3`).
			WithArgs(now, int64(1), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.RevokeSession(ctx, now, 1, 5))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE sessions SET revoked_at`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.RevokeSession(ctx, now, 1, 5), ErrNotFound)
	})
}

func TestStore_EnableTOTPRollsBack(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET mfa_enabled = \$1, totp_secret = \$2`).
		WithArgs(true, "SECRET", now, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM recovery_codes WHERE user_id = \$1`).
		WithArgs(int64(1)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.EnableTOTP(ctx, 1, "SECRET", []string{"h1"}, now)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM sessions`).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM invitations`).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM password_resets`).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 1))

	counts, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, PurgeCounts{Sessions: 4, Invitations: 2, Resets: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}
