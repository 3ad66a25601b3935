// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	deps       *Deps
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// stores are the auth stores bound to an opened backend.
type stores struct {
	backend *Backend
	creds   *auth.CredentialStore
	tokens  *auth.LoginTokenStore
	service *auth.Service
}

func (s *stores) Close() {
	s.backend.Close()
}

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	a := &app{deps: deps.withDefaults()}

	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - credential and remember-me token administration",
		Long: `authcore manages user credentials and persistent remember-me login
tokens stored in PostgreSQL or SQLite. It applies the schema, administers
users and tokens, and runs the expired token sweeper.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newUserCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newSweepCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

// load reads the configuration and installs the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.SetDefault(logging.Options{
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStores opens the backend and builds the auth stores from the
// configuration. Callers must Close the result.
func (a *app) openStores(ctx context.Context) (*stores, error) {
	backend, err := a.deps.OpenBackend(ctx, a.cfg)
	if err != nil {
		return nil, err
	}

	st, err := a.buildStores(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return st, nil
}

func (a *app) buildStores(backend *Backend) (*stores, error) {
	hasher, err := auth.NewPasswordHasher(a.cfg.HashConfig())
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{auth.WithLogger(a.logger)}
	creds, err := auth.NewCredentialStore(backend.Users, hasher, a.cfg.Policy(), opts...)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewLoginTokenStore(backend.Tokens, a.cfg.TokenPolicy(), opts...)
	if err != nil {
		return nil, err
	}
	service, err := auth.NewService(creds, tokens, opts...)
	if err != nil {
		return nil, err
	}
	return &stores{backend: backend, creds: creds, tokens: tokens, service: service}, nil
}

func parseUserID(raw string) (ulid.ULID, error) {
	return parseID(raw, "user_id")
}

func parseID(raw, field string) (ulid.ULID, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(raw))
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ID").With(field, raw).Wrap(err)
	}
	return id, nil
}

// readSecret returns flagValue, or the first line of in when fromStdin is set.
func readSecret(in io.Reader, flagValue string, fromStdin bool, name string) (string, error) {
	if !fromStdin {
		if flagValue == "" {
			return "", oops.Code("MISSING_ARGUMENT").Errorf("--%s or --%s-stdin is required", name, name)
		}
		return flagValue, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("STDIN_READ_FAILED").Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", oops.Code("MISSING_ARGUMENT").Errorf("no %s on standard input", name)
	}
	return line, nil
}
