// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/sqlite"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
)

// Backend is an opened storage backend.
type Backend struct {
	Users  auth.UserRepository
	Tokens auth.LoginTokenRepository
	Ping   func(ctx context.Context) error
	Close  func()
}

// Migrator is the part of store.Migrator the migrate command drives.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
}

// ObservabilityServer is the metrics and health server run by sweep.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// OpenBackend opens the configured storage backend.
	// Default: openBackend
	OpenBackend func(ctx context.Context, cfg *config.Config) (*Backend, error)

	// MigratorFactory creates a schema migrator for a PostgreSQL URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer with the auth metrics registered
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.OpenBackend == nil {
		out.OpenBackend = openBackend
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready, auth.RegisterMetrics)
		}
	}
	return &out
}

// openBackend connects to PostgreSQL or opens the SQLite file, per cfg.
func openBackend(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := store.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Users:  db.Users(),
			Tokens: db.Tokens(),
			Ping:   func(ctx context.Context) error { return db.Pool().Ping(ctx) },
			Close:  db.Close,
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Users:  db.Users(),
			Tokens: db.Tokens(),
			Ping:   db.Ping,
			Close: func() {
				if err := db.Close(); err != nil {
					slog.Warn("failed to close sqlite database", "path", cfg.Database.Path, "error", err)
				}
			},
		}, nil
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "database.driver").
			Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
