// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

// fakeMigrate implements migrateIface with canned results.
type fakeMigrate struct {
	upErr, downErr, stepsErr, forceErr error
	version                            uint
	dirty                              bool
	versionErr                         error
	closeSourceErr, closeDBErr         error
	closed                             bool
}

var errClosed = errors.New("migrator is closed")

func (f *fakeMigrate) gate(err error) error {
	if f.closed {
		return errClosed
	}
	return err
}

func (f *fakeMigrate) Up() error         { return f.gate(f.upErr) }
func (f *fakeMigrate) Down() error       { return f.gate(f.downErr) }
func (f *fakeMigrate) Steps(_ int) error { return f.gate(f.stepsErr) }
func (f *fakeMigrate) Force(_ int) error { return f.gate(f.forceErr) }

func (f *fakeMigrate) Version() (uint, bool, error) {
	if f.closed {
		return 0, false, errClosed
	}
	return f.version, f.dirty, f.versionErr
}

func (f *fakeMigrate) Close() (error, error) {
	f.closed = true
	return f.closeSourceErr, f.closeDBErr
}

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/auth":   "pgx5://u:p@db:5432/auth",
		"postgresql://u:p@db:5432/auth": "pgx5://u:p@db:5432/auth",
		"pgx5://u:p@db:5432/auth":       "pgx5://u:p@db:5432/auth",
	}
	for in, want := range tests {
		assert.Equal(t, want, migrateURL(in), in)
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/auth")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")

	_, err = NewMigrator("postgresql://localhost:1/auth?connect_timeout=1")
	require.Error(t, err, "should fail to connect, not on the scheme")
	assert.NotContains(t, err.Error(), "unknown driver")
}

func TestMigrator_Operations(t *testing.T) {
	boom := errors.New("database locked")

	tests := []struct {
		name     string
		fake     *fakeMigrate
		run      func(*Migrator) error
		wantCode string
	}{
		{"up", &fakeMigrate{}, (*Migrator).Up, ""},
		{"up no change", &fakeMigrate{upErr: migrate.ErrNoChange}, (*Migrator).Up, ""},
		{"up failure", &fakeMigrate{upErr: boom}, (*Migrator).Up, "MIGRATION_UP_FAILED"},
		{"down", &fakeMigrate{}, (*Migrator).Down, ""},
		{"down no change", &fakeMigrate{downErr: migrate.ErrNoChange}, (*Migrator).Down, ""},
		{"down failure", &fakeMigrate{downErr: boom}, (*Migrator).Down, "MIGRATION_DOWN_FAILED"},
		{"steps no change", &fakeMigrate{stepsErr: migrate.ErrNoChange}, func(m *Migrator) error { return m.Steps(0) }, ""},
		{"steps failure", &fakeMigrate{stepsErr: boom}, func(m *Migrator) error { return m.Steps(-1) }, "MIGRATION_STEPS_FAILED"},
		{"force", &fakeMigrate{}, func(m *Migrator) error { return m.Force(1) }, ""},
		{"force negative", &fakeMigrate{}, func(m *Migrator) error { return m.Force(-1) }, "INVALID_VERSION"},
		{"force failure", &fakeMigrate{forceErr: boom}, func(m *Migrator) error { return m.Force(2) }, "MIGRATION_FORCE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: tt.fake})
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Version(t *testing.T) {
	v, dirty, err := (&Migrator{m: &fakeMigrate{version: 2, dirty: true}}).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, dirty)

	v, dirty, err = (&Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}).Version()
	require.NoError(t, err, "an empty database is version 0")
	assert.Zero(t, v)
	assert.False(t, dirty)

	_, _, err = (&Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}).Version()
	errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
}

func TestMigrator_Close(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrate{}}).Close())

	err := (&Migrator{m: &fakeMigrate{closeSourceErr: errors.New("src")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "source")

	err = (&Migrator{m: &fakeMigrate{closeDBErr: errors.New("db")}}).Close()
	errutil.AssertErrorContext(t, err, "component", "database")

	err = (&Migrator{m: &fakeMigrate{closeSourceErr: errors.New("src gone"), closeDBErr: errors.New("db gone")}}).Close()
	errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
	errutil.AssertErrorContext(t, err, "component", "both")
	assert.Contains(t, err.Error(), "src gone")
	assert.Contains(t, err.Error(), "db gone")
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeMigrate
		pending []uint
		applied []uint
	}{
		{"fresh database", &fakeMigrate{versionErr: migrate.ErrNilVersion}, []uint{1, 2}, nil},
		{"users only", &fakeMigrate{version: 1}, []uint{2}, []uint{1}},
		{"latest", &fakeMigrate{version: 2}, nil, []uint{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.fake}
			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.pending, pending)

			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
		})
	}

	t.Run("version failure carries operation", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}
		_, err := m.PendingMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get pending migrations")
		_, err = m.AppliedMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get applied migrations")
	})
}

func TestMigrator_MethodsAfterClose(t *testing.T) {
	calls := map[string]func(*Migrator) error{
		"Up":    (*Migrator).Up,
		"Down":  (*Migrator).Down,
		"Steps": func(m *Migrator) error { return m.Steps(1) },
		"Force": func(m *Migrator) error { return m.Force(1) },
		"Version": func(m *Migrator) error {
			_, _, err := m.Version()
			return err
		},
		"PendingMigrations": func(m *Migrator) error {
			_, err := m.PendingMigrations()
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			m := &Migrator{m: &fakeMigrate{}}
			require.NoError(t, m.Close())
			assert.Error(t, call(m))
		})
	}
}

func TestMigrationName(t *testing.T) {
	for version, want := range map[uint]string{
		1:   "000001_create_users",
		2:   "000002_create_login_tokens",
		999: "",
	} {
		t.Run(fmt.Sprintf("version_%d", version), func(t *testing.T) {
			name, err := MigrationName(version)
			require.NoError(t, err)
			assert.Equal(t, want, name)
		})
	}
}

func TestAllMigrationVersions_ReturnsCopy(t *testing.T) {
	first, err := allMigrationVersions()
	require.NoError(t, err)
	require.NotEmpty(t, first)
	first[0] = 99999

	second, err := allMigrationVersions()
	require.NoError(t, err)
	assert.Equal(t, uint(1), second[0])
}
