// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/pkg/errutil"
)

var t0 = time.Date(2026, time.April, 2, 8, 30, 0, 0, time.UTC)

var userCols = []string{
	"id", "email", "username", "password_hash", "banned", "deleted",
	"last_login", "last_activity", "created_at", "updated_at",
}

var tokenCols = []string{"id", "user_id", "selector", "verifier_hash", "expires_at", "created_at", "updated_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func uniqueErr(constraint string) error {
	return &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraint}
}

func TestUserRepository_Create(t *testing.T) {
	user, err := auth.NewUser("alice@example.com", "", "hash", t0)
	require.NoError(t, err)

	tests := []struct {
		name     string
		execErr  error
		wantCode string
		field    string
	}{
		{name: "success"},
		{name: "email taken", execErr: uniqueErr("users_email_live_key"), wantCode: "USER_CONFLICT", field: "email"},
		{name: "username taken", execErr: uniqueErr("users_username_live_key"), wantCode: "USER_CONFLICT", field: "username"},
		{name: "other failure", execErr: errors.New("connection refused"), wantCode: "USER_CREATE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			exp := mock.ExpectExec(`INSERT INTO users`).
				WithArgs(user.ID.String(), "alice@example.com", (*string)(nil), "hash", false, false,
					(*time.Time)(nil), (*time.Time)(nil), t0, t0)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			err := postgres.NewUserRepository(mock).Create(context.Background(), user)
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
			if tt.field != "" {
				assert.True(t, errors.Is(err, auth.ErrConflict))
				errutil.AssertErrorContext(t, err, "field", tt.field)
			}
		})
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	id := ulid.Make()
	username := "alice"
	login := t0.Add(time.Hour)

	t.Run("scans nullable columns", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE id = \$1 AND NOT deleted`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userCols).AddRow(
				id.String(), "alice@example.com", &username, "hash", true, false,
				&login, (*time.Time)(nil), t0, t0))

		got, err := postgres.NewUserRepository(mock).GetByID(context.Background(), id, auth.ExcludeDeleted)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "alice", got.Username)
		assert.True(t, got.Banned)
		require.NotNil(t, got.LastLogin)
		assert.True(t, got.LastLogin.Equal(login))
		assert.Nil(t, got.LastActivity)
	})

	t.Run("null username is empty", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE id = \$1$`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userCols).AddRow(
				id.String(), "alice@example.com", (*string)(nil), "hash", false, true,
				(*time.Time)(nil), (*time.Time)(nil), t0, t0))

		got, err := postgres.NewUserRepository(mock).GetByID(context.Background(), id, auth.IncludeDeleted)
		require.NoError(t, err)
		assert.Empty(t, got.Username)
		assert.True(t, got.Deleted)
	})

	t.Run("missing row is not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM users`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userCols))

		_, err := postgres.NewUserRepository(mock).GetByID(context.Background(), id, auth.ExcludeDeleted)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("query failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`SELECT .+ FROM users`).
			WithArgs(id.String()).
			WillReturnError(errors.New("connection refused"))

		_, err := postgres.NewUserRepository(mock).GetByID(context.Background(), id, auth.ExcludeDeleted)
		errutil.AssertErrorCode(t, err, "USER_GET_FAILED")
		assert.False(t, errors.Is(err, auth.ErrNotFound))
	})
}

func TestUserRepository_GetByEmailPrefersLiveRow(t *testing.T) {
	mock := newMock(t)
	id := ulid.Make()
	mock.ExpectQuery(`WHERE email = \$1\s+ORDER BY deleted ASC, created_at DESC\s+LIMIT 1`).
		WithArgs("alice@example.com").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(
			id.String(), "alice@example.com", (*string)(nil), "hash", false, false,
			(*time.Time)(nil), (*time.Time)(nil), t0, t0))

	got, err := postgres.NewUserRepository(mock).GetByEmail(context.Background(), "alice@example.com", auth.IncludeDeleted)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestUserRepository_Update(t *testing.T) {
	id := ulid.Make()

	t.Run("writes only supplied columns", func(t *testing.T) {
		mock := newMock(t)
		banned := true
		mock.ExpectExec(`UPDATE users SET banned = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs(true, t0, id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := postgres.NewUserRepository(mock).Update(context.Background(), id, auth.UserPatch{Banned: &banned, UpdatedAt: &t0})
		require.NoError(t, err)
	})

	t.Run("empty username stores null", func(t *testing.T) {
		mock := newMock(t)
		empty := ""
		mock.ExpectExec(`UPDATE users SET username = \$1 WHERE id = \$2`).
			WithArgs((*string)(nil), id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := postgres.NewUserRepository(mock).Update(context.Background(), id, auth.UserPatch{Username: &empty})
		require.NoError(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE users SET`).
			WithArgs(t0, id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := postgres.NewUserRepository(mock).Update(context.Background(), id, auth.UserPatch{UpdatedAt: &t0})
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("email conflict", func(t *testing.T) {
		mock := newMock(t)
		email := "taken@example.com"
		mock.ExpectExec(`UPDATE users SET email = \$1`).
			WithArgs(email, id.String()).
			WillReturnError(uniqueErr("users_email_live_key"))

		err := postgres.NewUserRepository(mock).Update(context.Background(), id, auth.UserPatch{Email: &email})
		assert.True(t, errors.Is(err, auth.ErrConflict))
		errutil.AssertErrorContext(t, err, "field", "email")
	})
}

func TestLoginTokenRepository(t *testing.T) {
	ctx := context.Background()
	id, userID := ulid.Make(), ulid.Make()
	token := &auth.LoginToken{
		ID: id, UserID: userID, Selector: "sel", VerifierHash: "hash",
		ExpiresAt: t0.Add(time.Hour), CreatedAt: t0, UpdatedAt: t0,
	}

	t.Run("create conflict on selector", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO login_tokens`).
			WithArgs(id.String(), userID.String(), "sel", "hash", token.ExpiresAt, t0, t0).
			WillReturnError(uniqueErr("login_tokens_selector_key"))

		err := postgres.NewLoginTokenRepository(mock).Create(ctx, token)
		assert.True(t, errors.Is(err, auth.ErrConflict))
		errutil.AssertErrorCode(t, err, "LOGIN_TOKEN_CONFLICT")
		errutil.AssertErrorContext(t, err, "field", "selector")
		var cerr *auth.ConflictError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "selector", cerr.Field)
		var pgErr *pgconn.PgError
		assert.True(t, errors.As(err, &pgErr), "the driver error stays in the chain")
	})

	t.Run("get by selector", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM login_tokens\s+WHERE selector = \$1`).
			WithArgs("sel").
			WillReturnRows(pgxmock.NewRows(tokenCols).
				AddRow(id.String(), userID.String(), "sel", "hash", token.ExpiresAt, t0, t0))

		got, err := postgres.NewLoginTokenRepository(mock).GetBySelector(ctx, "sel")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, userID, got.UserID)
		assert.True(t, got.ExpiresAt.Equal(token.ExpiresAt))
	})

	t.Run("unknown selector", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM login_tokens`).
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows(tokenCols))

		_, err := postgres.NewLoginTokenRepository(mock).GetBySelector(ctx, "nope")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("list by user", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`WHERE user_id = \$1\s+ORDER BY created_at, id`).
			WithArgs(userID.String()).
			WillReturnRows(pgxmock.NewRows(tokenCols).
				AddRow(id.String(), userID.String(), "sel", "hash", token.ExpiresAt, t0, t0).
				AddRow(ulid.Make().String(), userID.String(), "sel2", "hash2", token.ExpiresAt, t0, t0))

		got, err := postgres.NewLoginTokenRepository(mock).ListByUser(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("extend missing token", func(t *testing.T) {
		mock := newMock(t)
		later := t0.Add(2 * time.Hour)
		mock.ExpectExec(`UPDATE login_tokens SET expires_at = \$1, updated_at = \$2 WHERE id = \$3`).
			WithArgs(later, t0, id.String()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := postgres.NewLoginTokenRepository(mock).Extend(ctx, id, later, t0)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		errutil.AssertErrorCode(t, err, "LOGIN_TOKEN_NOT_FOUND")
	})

	t.Run("delete scoped to owner", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM login_tokens WHERE id = \$1 AND user_id = \$2`).
			WithArgs(id.String(), userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, postgres.NewLoginTokenRepository(mock).Delete(ctx, userID, id))
	})

	t.Run("delete by user expired only", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM login_tokens WHERE user_id = \$1 AND expires_at < \$2`).
			WithArgs(userID.String(), t0).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		n, err := postgres.NewLoginTokenRepository(mock).DeleteByUser(ctx, userID, &t0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("delete by user all", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM login_tokens WHERE user_id = \$1$`).
			WithArgs(userID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 5))

		n, err := postgres.NewLoginTokenRepository(mock).DeleteByUser(ctx, userID, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("delete expired failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM login_tokens WHERE expires_at < \$1`).
			WithArgs(t0).
			WillReturnError(errors.New("connection reset"))

		_, err := postgres.NewLoginTokenRepository(mock).DeleteExpired(ctx, t0)
		errutil.AssertErrorCode(t, err, "LOGIN_TOKEN_DELETE_FAILED")
	})
}
