// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
)

// newUserCmd creates the user administration command group.
func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user credentials",
	}

	cmd.AddCommand(newUserCreateCmd(a))
	cmd.AddCommand(newUserShowCmd(a))
	cmd.AddCommand(newUserSetPasswordCmd(a))
	cmd.AddCommand(newUserStatusCmd(a, "ban", "Ban a user and revoke their login tokens",
		func(ctx context.Context, st *stores, id ulid.ULID) (string, error) {
			if err := st.creds.SetBanned(ctx, id, true); err != nil {
				return "", err
			}
			n, err := st.tokens.Revoke(ctx, id, auth.RevokeAll)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("banned %s, revoked %d login tokens", id, n), nil
		}))
	cmd.AddCommand(newUserStatusCmd(a, "unban", "Lift a user's ban",
		func(ctx context.Context, st *stores, id ulid.ULID) (string, error) {
			return "unbanned " + id.String(), st.creds.SetBanned(ctx, id, false)
		}))
	cmd.AddCommand(newUserStatusCmd(a, "delete", "Soft-delete a user",
		func(ctx context.Context, st *stores, id ulid.ULID) (string, error) {
			return "deleted " + id.String(), st.creds.SoftDelete(ctx, id)
		}))
	cmd.AddCommand(newUserStatusCmd(a, "restore", "Restore a soft-deleted user",
		func(ctx context.Context, st *stores, id ulid.ULID) (string, error) {
			return "restored " + id.String(), st.creds.Restore(ctx, id)
		}))

	return cmd
}

func newUserCreateCmd(a *app) *cobra.Command {
	var (
		input     auth.NewUserInput
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin(), input.Password, fromStdin, "password")
			if err != nil {
				return err
			}
			input.Password = password

			st, err := a.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := st.creds.Create(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&input.Email, "email", "", "email address")
	cmd.Flags().StringVar(&input.Username, "username", "", "username")
	cmd.Flags().StringVar(&input.Password, "password", "", "password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from standard input")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newUserShowCmd(a *app) *cobra.Command {
	var includeDeleted bool

	cmd := &cobra.Command{
		Use:   "show ID|LOGIN",
		Short: "Show a user by ID, or by email or username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			var user *auth.User
			if id, parseErr := ulid.ParseStrict(args[0]); parseErr == nil {
				opts := []auth.QueryOption{auth.WithoutDeleted()}
				if includeDeleted {
					opts = []auth.QueryOption{auth.WithDeleted()}
				}
				user, err = st.creds.Get(ctx, id, opts...)
			} else {
				user, err = st.creds.FindByLogin(ctx, args[0])
			}
			if err != nil {
				return err
			}

			tokens, err := st.tokens.GetAllByUser(ctx, user.ID)
			if err != nil {
				return err
			}
			printUser(cmd.OutOrStdout(), user, len(tokens))
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "also find soft-deleted users by ID")

	return cmd
}

func newUserSetPasswordCmd(a *app) *cobra.Command {
	var (
		flagPassword string
		fromStdin    bool
		keep         bool
	)

	cmd := &cobra.Command{
		Use:   "set-password ID",
		Short: "Replace a user's password and revoke their login tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			password, err := readSecret(cmd.InOrStdin(), flagPassword, fromStdin, "password")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.creds.Update(ctx, id, auth.UserUpdate{Password: &password}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "password updated for %s\n", id)
			if keep {
				return nil
			}

			n, err := st.service.Logout(ctx, id, auth.RevokeAll)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "revoked %d login tokens\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagPassword, "password", "", "new password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the new password from standard input")
	cmd.Flags().BoolVar(&keep, "keep-tokens", false, "leave existing login tokens valid")

	return cmd
}

// newUserStatusCmd builds a command that applies fn to the user named by
// its only argument and prints the message fn returns.
func newUserStatusCmd(a *app, use, short string, fn func(context.Context, *stores, ulid.ULID) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			msg, err := fn(cmd.Context(), st, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func printUser(w io.Writer, u *auth.User, tokens int) {
	username := u.Username
	if username == "" {
		username = "-"
	}
	fmt.Fprintf(w, "id:            %s\n", u.ID)
	fmt.Fprintf(w, "email:         %s\n", u.Email)
	fmt.Fprintf(w, "username:      %s\n", username)
	fmt.Fprintf(w, "banned:        %t\n", u.Banned)
	fmt.Fprintf(w, "deleted:       %t\n", u.Deleted)
	fmt.Fprintf(w, "created:       %s\n", u.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "last login:    %s\n", formatOptionalTime(u.LastLogin))
	fmt.Fprintf(w, "last activity: %s\n", formatOptionalTime(u.LastActivity))
	fmt.Fprintf(w, "login tokens:  %d\n", tokens)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
