// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const tokenColumns = `id, user_id, selector, verifier_hash, expires_at, created_at, updated_at`

// LoginTokenRepository implements auth.LoginTokenRepository using PostgreSQL.
type LoginTokenRepository struct {
	pool Querier
}

// NewLoginTokenRepository creates a new LoginTokenRepository.
func NewLoginTokenRepository(pool Querier) *LoginTokenRepository {
	return &LoginTokenRepository{pool: pool}
}

// Create stores a new login token.
func (r *LoginTokenRepository) Create(ctx context.Context, token *auth.LoginToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO login_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		token.ID.String(),
		token.UserID.String(),
		token.Selector,
		token.VerifierHash,
		token.ExpiresAt,
		token.CreatedAt,
		token.UpdatedAt,
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
	row := r.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM login_tokens
		WHERE selector = $1
	`, selector)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("LOGIN_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("LOGIN_TOKEN_GET_FAILED").
			With("operation", "get login token by selector").
			Wrap(err)
	}
	return token, nil
}

// ListByUser returns every token of the user, oldest first.
func (r *LoginTokenRepository) ListByUser(ctx context.Context, userID ulid.ULID) ([]*auth.LoginToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM login_tokens
		WHERE user_id = $1
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
			With("operation", "iterate login tokens").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tokens, nil
}

// Extend sets a new expiry on the token.
func (r *LoginTokenRepository) Extend(ctx context.Context, id ulid.ULID, expiresAt, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE login_tokens SET expires_at = $1, updated_at = $2 WHERE id = $3
	`, expiresAt, updatedAt, id.String())
	if err != nil {
		return oops.Code("LOGIN_TOKEN_EXTEND_FAILED").
			With("token_id", id.String()).
			Wrap(err)
	}
	return requireAffected(tag, id)
}

// Delete removes a single token owned by userID.
func (r *LoginTokenRepository) Delete(ctx context.Context, userID, id ulid.ULID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM login_tokens WHERE id = $1 AND user_id = $2
	`, id.String(), userID.String())
	if err != nil {
		return oops.Code("LOGIN_TOKEN_DELETE_FAILED").
			With("token_id", id.String()).
			Wrap(err)
	}
	return requireAffected(tag, id)
}

// DeleteByUser removes the user's tokens, optionally only expired ones.
func (r *LoginTokenRepository) DeleteByUser(ctx context.Context, userID ulid.ULID, expiredBefore *time.Time) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expiredBefore != nil {
		tag, err = r.pool.Exec(ctx, `
			DELETE FROM login_tokens WHERE user_id = $1 AND expires_at < $2
		`, userID.String(), *expiredBefore)
	} else {
		tag, err = r.pool.Exec(ctx, `DELETE FROM login_tokens WHERE user_id = $1`, userID.String())
	}
	if err != nil {
		return 0, oops.Code("LOGIN_TOKEN_DELETE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes every token that expired before the given time.
func (r *LoginTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("LOGIN_TOKEN_DELETE_FAILED").
			With("operation", "delete expired").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (*auth.LoginToken, error) {
	var (
		t          auth.LoginToken
		id, userID string
	)
	if err := row.Scan(&id, &userID, &t.Selector, &t.VerifierHash, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ID, err = ulid.Parse(id); err != nil {
		return nil, oops.With("id", id).Wrap(err)
	}
	if t.UserID, err = ulid.Parse(userID); err != nil {
		return nil, oops.With("user_id", userID).Wrap(err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func requireAffected(tag pgconn.CommandTag, id ulid.ULID) error {
	if tag.RowsAffected() == 0 {
		return oops.Code("LOGIN_TOKEN_NOT_FOUND").
			With("token_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ auth.LoginTokenRepository = (*LoginTokenRepository)(nil)
