// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const userColumns = `id, email, username, password_hash, banned, deleted,
	       last_login, last_activity, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Querier) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, username, password_hash, banned, deleted,
			last_login, last_activity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		user.ID.String(),
		user.Email,
		nullableString(user.Username),
		user.PasswordHash,
		user.Banned,
		user.Deleted,
		user.LastLogin,
		user.LastActivity,
		user.CreatedAt,
		user.UpdatedAt,
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
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1`+liveFilter(visibility), id.String())
	return scanUser(row, "id", id.String())
}

// GetByEmail retrieves a user by exact email, preferring a live row.
func (r *UserRepository) GetByEmail(ctx context.Context, email string, visibility auth.Visibility) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1`+liveFilter(visibility)+`
		ORDER BY deleted ASC, created_at DESC
		LIMIT 1`, email)
	return scanUser(row, "email", email)
}

// GetByUsername retrieves a user by exact username, preferring a live row.
func (r *UserRepository) GetByUsername(ctx context.Context, username string, visibility auth.Visibility) (*auth.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1`+liveFilter(visibility)+`
		ORDER BY deleted ASC, created_at DESC
		LIMIT 1`, username)
	return scanUser(row, "username", username)
}

// Update writes the non-nil fields of patch.
func (r *UserRepository) Update(ctx context.Context, id ulid.ULID, patch auth.UserPatch) error {
	sets, args := patchColumns(patch)
	if len(sets) == 0 {
		_, err := r.GetByID(ctx, id, auth.IncludeDeleted)
		return err
	}

	args = append(args, id.String())
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args)),
		args...)
	if field, ok := uniqueViolation(err); ok {
		return conflict("USER_CONFLICT", field, err)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// patchColumns builds the SET clauses for patch in a fixed column order.
func patchColumns(patch auth.UserPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.Username != nil {
		set("username", nullableString(*patch.Username))
	}
	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.Banned != nil {
		set("banned", *patch.Banned)
	}
	if patch.Deleted != nil {
		set("deleted", *patch.Deleted)
	}
	if patch.LastLogin != nil {
		set("last_login", *patch.LastLogin)
	}
	if patch.LastActivity != nil {
		set("last_activity", *patch.LastActivity)
	}
	if patch.UpdatedAt != nil {
		set("updated_at", *patch.UpdatedAt)
	}
	return sets, args
}

func liveFilter(visibility auth.Visibility) string {
	if visibility == auth.IncludeDeleted {
		return ""
	}
	return " AND NOT deleted"
}

func scanUser(row pgx.Row, key, value string) (*auth.User, error) {
	var (
		u                       auth.User
		id                      string
		username                *string
		lastLogin, lastActivity *time.Time
	)
	err := row.Scan(&id, &u.Email, &username, &u.PasswordHash, &u.Banned, &u.Deleted,
		&lastLogin, &lastActivity, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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
	if username != nil {
		u.Username = *username
	}
	u.LastLogin = utcPtr(lastLogin)
	u.LastActivity = utcPtr(lastActivity)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
