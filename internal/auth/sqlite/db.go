// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sqlite implements the auth repositories on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/holomush/authcore/internal/auth"
)

//go:embed schema.sql
var schema string

// DB is an open SQLite database holding the users and login_tokens tables.
type DB struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, oops.Code("SQLITE_OPEN_FAILED").Errorf("database path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, oops.Code("SQLITE_OPEN_FAILED").With("path", path).Wrap(err)
	}

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, oops.Code("SQLITE_SCHEMA_FAILED").With("path", path).Wrap(err)
	}

	return &DB{sqlDB: sqlDB}, nil
}

// Close releases the database.
func (db *DB) Close() error {
	if db == nil || db.sqlDB == nil {
		return nil
	}
	return db.sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.sqlDB.PingContext(ctx)
}

// Users returns the user repository.
func (db *DB) Users() *UserRepository {
	return &UserRepository{db: db.sqlDB}
}

// Tokens returns the login token repository.
func (db *DB) Tokens() *LoginTokenRepository {
	return &LoginTokenRepository{db: db.sqlDB}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// uniqueViolation reports the column named by a UNIQUE constraint failure,
// e.g. "email" for "UNIQUE constraint failed: users.email".
func uniqueViolation(err error) (string, bool) {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
	default:
		return "", false
	}
	msg := sqliteErr.Error()
	if i := strings.LastIndex(msg, "."); i >= 0 {
		field := msg[i+1:]
		if j := strings.IndexAny(field, " )"); j >= 0 {
			field = field[:j]
		}
		return field, true
	}
	return "", true
}

func conflict(code, field string, err error) error {
	return oops.Code(code).
		With("field", field).
		Wrap(auth.NewConflictError(field, err))
}
