// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the auth repositories on PostgreSQL.
// The schema is managed by the migrations in internal/store.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// Querier is the subset of a pgx pool the repositories need. Both
// *pgxpool.Pool and pgxmock.PgxPoolIface satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueFields maps unique constraint names to the field they guard.
var uniqueFields = map[string]string{
	"users_pkey":                "id",
	"users_email_live_key":      "email",
	"users_username_live_key":   "username",
	"login_tokens_pkey":         "id",
	"login_tokens_selector_key": "selector",
}

// uniqueViolation reports the field behind a unique_violation error.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}
	if field, ok := uniqueFields[pgErr.ConstraintName]; ok {
		return field, true
	}
	return pgErr.ConstraintName, true
}

func conflict(code, field string, err error) error {
	return oops.Code(code).
		With("field", field).
		Wrap(auth.NewConflictError(field, err))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
