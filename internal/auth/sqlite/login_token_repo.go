// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const tokenColumns = `id, user_id, selector, verifier_hash, expires_at, created_at, updated_at`

// LoginTokenRepository implements auth.LoginTokenRepository on SQLite.
type LoginTokenRepository struct {
	db *sql.DB
}

// Create stores a new login token.
func (r *LoginTokenRepository) Create(ctx context.Context, token *auth.LoginToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.Selector,
		token.VerifierHash,
		toMillis(token.ExpiresAt),
		toMillis(token.CreatedAt),
		toMillis(token.UpdatedAt),
	)
	if field, ok := uniqueViolation(err); ok {
		return conflict("LOGIN_TOKEN_CONFLICT", field, err)
	}
	if err != nil {
		return oops.Code("LOGIN_TOKEN_CREATE_FAILED").
			With("operation", "insert login token").
			With("user_id", token.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetBySelector retrieves a login token by selector.
func (r *LoginTokenRepository) GetBySelector(ctx context.Context, selector string) (*auth.LoginToken, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM login_tokens WHERE selector = ?`, selector)
	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("LOGIN_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("LOGIN_TOKEN_GET_FAILED").
			With("operation", "get login token by selector").
			Wrap(err)
	}
	return token, nil
}

// ListByUser returns every token of the user ordered by creation.
func (r *LoginTokenRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.LoginToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM login_tokens
		WHERE user_id = ?
		ORDER BY created_at, id
	`, userID.String())
	if err != nil {
		return nil, oops.Code("LOGIN_TOKEN_LIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.LoginToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, oops.Code("LOGIN_TOKEN_LIST_FAILED").
				With("operation", "scan login token").
				With("user_id", userID.String()).
				Wrap(err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("LOGIN_TOKEN_LIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tokens, nil
}

// Extend sets a new expiry on the token.
func (r *LoginTokenRepository) Extend(ctx context.Context, id ulid.ULID, expiresAt, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE login_tokens SET expires_at = ?, updated_at = ? WHERE id = ?
	`, toMillis(expiresAt), toMillis(updatedAt), id.String())
	if err != nil {
		return oops.Code("LOGIN_TOKEN_EXTEND_FAILED").
			With("token_id", id.String()).
			Wrap(err)
	}
	return requireAffected(result, "token_id", id.String())
}

// Delete removes a single token owned by userID.
func (r *LoginTokenRepository) Delete(ctx context.Context, userID, id ulid.ULID) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM login_tokens WHERE id = ? AND user_id = ?
	`, id.String(), userID.String())
	if err != nil {
		return oops.Code("LOGIN_TOKEN_DELETE_FAILED").
			With("token_id", id.String()).
			Wrap(err)
	}
	return requireAffected(result, "token_id", id.String())
}

// DeleteByUser removes the user's tokens, optionally only expired ones.
func (r *LoginTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID, expiredBefore *time.Time) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if expiredBefore != nil {
		result, err = r.db.ExecContext(ctx, `
			DELETE FROM login_tokens WHERE user_id = ? AND expires_at < ?
		`, userID.String(), toMillis(*expiredBefore))
	} else {
		result, err = r.db.ExecContext(ctx, `DELETE FROM login_tokens WHERE user_id = ?`, userID.String())
	}
	if err != nil {
		return 0, oops.Code("LOGIN_TOKEN_DELETE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected()
}

// DeleteExpired removes every token that expired before the given time.
func (r *LoginTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_tokens WHERE expires_at < ?`, toMillis(before))
	if err != nil {
		return 0, oops.Code("LOGIN_TOKEN_DELETE_FAILED").
			With("operation", "delete expired").
			Wrap(err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(row scanner) (*auth.LoginToken, error) {
	var (
		t                               auth.LoginToken
		id, userID                      string
		expiresAt, createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &userID, &t.Selector, &t.VerifierHash, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = ulid.Parse(id); err != nil {
		return nil, oops.With("id", id).Wrap(err)
	}
	if t.UserID, err = ulid.Parse(userID); err != nil {
		return nil, oops.With("user_id", userID).Wrap(err)
	}
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func requireAffected(result sql.Result, key, value string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return oops.Code("LOGIN_TOKEN_UPDATE_FAILED").With(key, value).Wrap(err)
	}
	if n == 0 {
		return oops.Code("LOGIN_TOKEN_NOT_FOUND").With(key, value).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ auth.LoginTokenRepository = (*LoginTokenRepository)(nil)
