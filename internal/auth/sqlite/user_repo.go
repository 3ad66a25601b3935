// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const userColumns = `id, email, username, password_hash, banned, deleted,
	last_login, last_activity, created_at, updated_at`

// UserRepository implements auth.UserRepository on SQLite.
type UserRepository struct {
	db *sql.DB
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		user.ID.String(),
		user.Email,
		nullString(user.Username),
		user.PasswordHash,
		boolInt(user.Banned),
		boolInt(user.Deleted),
		nullTime(user.LastLogin),
		nullTime(user.LastActivity),
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)
	if field, ok := uniqueViolation(err); ok {
		return conflict("USER_CONFLICT", field, err)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID, visibility auth.Visibility) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`+liveFilter(visibility), id.String())
	return scanUserRow(row, "id", id.String())
}

// GetByEmail retrieves a user by exact email, preferring a live row.
func (r *UserRepository) GetByEmail(ctx context.Context, email string, visibility auth.Visibility) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`+
		liveFilter(visibility)+` ORDER BY deleted ASC, created_at DESC LIMIT 1`, email)
	return scanUserRow(row, "email", email)
}

// GetByUsername retrieves a user by exact username, preferring a live row.
func (r *UserRepository) GetByUsername(ctx context.Context, username string, visibility auth.Visibility) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`+
		liveFilter(visibility)+` ORDER BY deleted ASC, created_at DESC LIMIT 1`, username)
	return scanUserRow(row, "username", username)
}

// Update writes the non-nil fields of patch.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, patch auth.UserPatch) error {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.Username != nil {
		set("username", nullString(*patch.Username))
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.Banned != nil {
		set("banned", boolInt(*patch.Banned))
	}
	if patch.Deleted != nil {
		set("deleted", boolInt(*patch.Deleted))
	}
	if patch.LastLogin != nil {
		set("last_login", toMillis(*patch.LastLogin))
	}
	if patch.LastActivity != nil {
		set("last_activity", toMillis(*patch.LastActivity))
	}
	if patch.UpdatedAt != nil {
		set("updated_at", toMillis(*patch.UpdatedAt))
	}
	if len(sets) == 0 {
		// Nothing to write; still report unknown users.
		_, err := r.GetByID(ctx, id, auth.IncludeDeleted)
		return err
	}

	args = append(args, id.String())
	result, err := r.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if field, ok := uniqueViolation(err); ok {
		return conflict("USER_CONFLICT", field, err)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "rows affected").
			With("id", id.String()).
			Wrap(err)
	}
	if n == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func liveFilter(visibility auth.Visibility) string {
	if visibility == auth.IncludeDeleted {
		return ""
	}
	return ` AND deleted = 0`
}

func scanUserRow(row *sql.Row, key, value string) (*auth.User, error) {
	var (
		u                       auth.User
		id                      string
		username                sql.NullString
		lastLogin, lastActivity sql.NullInt64
		createdAt, updatedAt    int64
	)
	err := row.Scan(&id, &u.Email, &username, &u.PasswordHash, &u.Banned, &u.Deleted,
		&lastLogin, &lastActivity, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "scan user").
			With(key, value).
			Wrap(err)
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "parse user id").
			With("id", id).
			Wrap(err)
	}
	u.ID = parsed
	u.Username = username.String
	u.LastLogin = nullMillis(lastLogin)
	u.LastActivity = nullMillis(lastActivity)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
