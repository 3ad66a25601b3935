// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store manages the PostgreSQL connection and schema for the auth
// tables.
package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth/postgres"
)

// DB is a PostgreSQL pool with the auth repositories bound to it.
type DB struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, oops.Code("STORE_CONNECT_FAILED").Errorf("database URL is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "ping").
			Wrap(err)
	}
	return &DB{pool: pool}, nil
}

// Pool returns the underlying pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Users returns the PostgreSQL user repository.
func (db *DB) Users() *postgres.UserRepository {
	return postgres.NewUserRepository(db.pool)
}

// Tokens returns the PostgreSQL login token repository.
func (db *DB) Tokens() *postgres.LoginTokenRepository {
	return postgres.NewLoginTokenRepository(db.pool)
}
