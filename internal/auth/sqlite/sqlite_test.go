// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/sqlite"
	"github.com/holomush/authcore/pkg/errutil"
)

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newUser(t *testing.T, email, username string) *auth.User {
	t.Helper()
	u, err := auth.NewUser(email, username, "$argon2id$v=19$m=64,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5", t0)
	require.NoError(t, err)
	return u
}

func TestOpen(t *testing.T) {
	t.Run("rejects empty path", func(t *testing.T) {
		_, err := sqlite.Open(context.Background(), "  ")
		errutil.AssertErrorCode(t, err, "SQLITE_OPEN_FAILED")
	})

	t.Run("reopening applies schema idempotently", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "auth.db")
		db, err := sqlite.Open(context.Background(), path)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = sqlite.Open(context.Background(), path)
		require.NoError(t, err)
		require.NoError(t, db.Ping(context.Background()))
		require.NoError(t, db.Close())
	})
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	users := db.Users()

	alice := newUser(t, "alice@example.com", "alice")
	require.NoError(t, users.Create(ctx, alice))

	t.Run("round trip", func(t *testing.T) {
		got, err := users.GetByID(ctx, alice.ID, auth.ExcludeDeleted)
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.ID)
		assert.Equal(t, "alice@example.com", got.Email)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, alice.PasswordHash, got.PasswordHash)
		assert.Nil(t, got.LastLogin)
		assert.True(t, got.CreatedAt.Equal(t0))
	})

	t.Run("user without username stores NULL", func(t *testing.T) {
		u := newUser(t, "nousername@example.com", "")
		require.NoError(t, users.Create(ctx, u))
		v := newUser(t, "nousername2@example.com", "")
		require.NoError(t, users.Create(ctx, v), "NULL usernames must not collide")

		got, err := users.GetByID(ctx, u.ID, auth.ExcludeDeleted)
		require.NoError(t, err)
		assert.Empty(t, got.Username)
	})

	t.Run("duplicate live email is a conflict", func(t *testing.T) {
		err := users.Create(ctx, newUser(t, "alice@example.com", "other"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrConflict))
		errutil.AssertErrorCode(t, err, "USER_CONFLICT")
		errutil.AssertErrorContext(t, err, "field", "email")
		var cerr *auth.ConflictError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "email", cerr.Field)
	})

	t.Run("duplicate live username is a conflict", func(t *testing.T) {
		err := users.Create(ctx, newUser(t, "another@example.com", "alice"))
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "field", "username")
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := users.GetByID(ctx, ulid.Make(), auth.IncludeDeleted)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")

		err = users.Update(ctx, ulid.Make(), auth.UserPatch{UpdatedAt: &t0})
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("soft delete frees email and hides row", func(t *testing.T) {
		bob := newUser(t, "bob@example.com", "bob")
		require.NoError(t, users.Create(ctx, bob))

		deleted := true
		require.NoError(t, users.Update(ctx, bob.ID, auth.UserPatch{Deleted: &deleted}))

		_, err := users.GetByEmail(ctx, "bob@example.com", auth.ExcludeDeleted)
		assert.True(t, errors.Is(err, auth.ErrNotFound))

		got, err := users.GetByEmail(ctx, "bob@example.com", auth.IncludeDeleted)
		require.NoError(t, err)
		assert.True(t, got.Deleted)

		bob2 := newUser(t, "bob@example.com", "bob")
		require.NoError(t, users.Create(ctx, bob2))

		got, err = users.GetByEmail(ctx, "bob@example.com", auth.IncludeDeleted)
		require.NoError(t, err)
		assert.Equal(t, bob2.ID, got.ID, "live row is preferred")
	})

	t.Run("partial update leaves other columns", func(t *testing.T) {
		carol := newUser(t, "carol@example.com", "carol")
		require.NoError(t, users.Create(ctx, carol))

		later := t0.Add(time.Hour)
		name := ""
		require.NoError(t, users.Update(ctx, carol.ID, auth.UserPatch{
			Username:     &name,
			LastActivity: &later,
			UpdatedAt:    &later,
		}))

		got, err := users.GetByID(ctx, carol.ID, auth.ExcludeDeleted)
		require.NoError(t, err)
		assert.Empty(t, got.Username)
		assert.Equal(t, carol.PasswordHash, got.PasswordHash)
		assert.Equal(t, carol.Email, got.Email)
		require.NotNil(t, got.LastActivity)
		assert.True(t, got.LastActivity.Equal(later))
		assert.Nil(t, got.LastLogin)
	})

	t.Run("update into a taken email is a conflict", func(t *testing.T) {
		dave := newUser(t, "dave@example.com", "")
		require.NoError(t, users.Create(ctx, dave))

		taken := "alice@example.com"
		err := users.Update(ctx, dave.ID, auth.UserPatch{Email: &taken})
		assert.True(t, errors.Is(err, auth.ErrConflict))
	})
}

func TestLoginTokenRepository(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	users := db.Users()
	tokens := db.Tokens()

	owner := newUser(t, "owner@example.com", "")
	require.NoError(t, users.Create(ctx, owner))

	mk := func(selector string, expiresAt time.Time) *auth.LoginToken {
		tok := &auth.LoginToken{
			ID:           ulid.Make(),
			UserID:       owner.ID,
			Selector:     selector,
			VerifierHash: auth.HashVerifier("verifier-" + selector),
			ExpiresAt:    expiresAt,
			CreatedAt:    t0,
			UpdatedAt:    t0,
		}
		require.NoError(t, tokens.Create(ctx, tok))
		return tok
	}

	live := mk("live", t0.Add(24*time.Hour))
	expired := mk("expired", t0.Add(-time.Hour))

	t.Run("get by selector", func(t *testing.T) {
		got, err := tokens.GetBySelector(ctx, "live")
		require.NoError(t, err)
		assert.Equal(t, live.ID, got.ID)
		assert.Equal(t, owner.ID, got.UserID)
		assert.Equal(t, live.VerifierHash, got.VerifierHash)
		assert.True(t, got.ExpiresAt.Equal(live.ExpiresAt))

		_, err = tokens.GetBySelector(ctx, "missing")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("duplicate selector is a conflict", func(t *testing.T) {
		err := tokens.Create(ctx, &auth.LoginToken{
			ID: ulid.Make(), UserID: owner.ID, Selector: "live", VerifierHash: "x",
			ExpiresAt: t0, CreatedAt: t0, UpdatedAt: t0,
		})
		assert.True(t, errors.Is(err, auth.ErrConflict))
		errutil.AssertErrorCode(t, err, "LOGIN_TOKEN_CONFLICT")
		errutil.AssertErrorContext(t, err, "field", "selector")
	})

	t.Run("list by user", func(t *testing.T) {
		got, err := tokens.ListByUser(ctx, owner.ID)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		none, err := tokens.ListByUser(ctx, ulid.Make())
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("extend", func(t *testing.T) {
		newExpiry := t0.Add(48 * time.Hour)
		require.NoError(t, tokens.Extend(ctx, live.ID, newExpiry, t0.Add(time.Minute)))
		got, err := tokens.GetBySelector(ctx, "live")
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.Equal(newExpiry))
		assert.Equal(t, "live", got.Selector)

		err = tokens.Extend(ctx, ulid.Make(), newExpiry, t0)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("delete checks ownership", func(t *testing.T) {
		err := tokens.Delete(ctx, ulid.Make(), live.ID)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("delete by user expired only", func(t *testing.T) {
		n, err := tokens.DeleteByUser(ctx, owner.ID, &t0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = tokens.GetBySelector(ctx, expired.Selector)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
		_, err = tokens.GetBySelector(ctx, live.Selector)
		assert.NoError(t, err)
	})

	t.Run("delete expired globally", func(t *testing.T) {
		mk("old", t0.Add(-2*time.Hour))
		n, err := tokens.DeleteExpired(ctx, t0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("delete by user all", func(t *testing.T) {
		n, err := tokens.DeleteByUser(ctx, owner.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
