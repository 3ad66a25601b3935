// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/sqlite"
)

var t0 = time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// logCapture collects JSON log records.
type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logCapture) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *logCapture) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(l, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (l *logCapture) entries(t *testing.T) []map[string]any {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(l.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func (l *logCapture) find(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range l.entries(t) {
		if e["msg"] == msg {
			out = append(out, e)
		}
	}
	return out
}

// env is a full set of stores on a temporary SQLite database.
type env struct {
	db     *sqlite.DB
	clock  *fakeClock
	logs   *logCapture
	hasher *auth.MigratingHasher
	creds  *auth.CredentialStore
	tokens *auth.LoginTokenStore
	svc    *auth.Service
}

type envOption func(*auth.Policy, *auth.TokenPolicy)

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()

	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	policy := auth.DefaultPolicy()
	tokenPolicy := auth.DefaultTokenPolicy()
	for _, opt := range opts {
		opt(&policy, &tokenPolicy)
	}

	hasher, err := auth.NewPasswordHasher(auth.HashConfig{Algorithm: auth.AlgorithmArgon2id, Argon2id: fastArgon2id})
	require.NoError(t, err)

	e := &env{db: db, clock: newFakeClock(t0), logs: &logCapture{}, hasher: hasher}
	common := []auth.Option{auth.WithClock(e.clock.Now), auth.WithLogger(e.logs.logger())}

	e.creds, err = auth.NewCredentialStore(db.Users(), hasher, policy, common...)
	require.NoError(t, err)
	e.tokens, err = auth.NewLoginTokenStore(db.Tokens(), tokenPolicy, common...)
	require.NoError(t, err)
	e.svc, err = auth.NewService(e.creds, e.tokens, common...)
	require.NoError(t, err)
	return e
}

func (e *env) createUser(t *testing.T, email, username, password string) auth.User {
	t.Helper()
	id, err := e.creds.Create(context.Background(), auth.NewUserInput{Email: email, Username: username, Password: password})
	require.NoError(t, err)
	u, err := e.creds.Get(context.Background(), id)
	require.NoError(t, err)
	return *u
}

func ptr[T any](v T) *T {
	return &v
}
