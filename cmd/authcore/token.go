// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
)

// newTokenCmd creates the login token administration command group.
func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Administer remember-me login tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list USER_ID",
		Short: "List a user's login tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			tokens, err := st.tokens.GetAllByUser(cmd.Context(), userID)
			if err != nil {
				return err
			}
			formatTokenTable(cmd.OutOrStdout(), tokens, time.Now())
			return nil
		},
	})

	var (
		scope   string
		tokenID string
	)
	revoke := &cobra.Command{
		Use:   "revoke USER_ID",
		Short: "Revoke a user's expired tokens, all tokens, or one token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if tokenID != "" {
				id, err := parseID(tokenID, "token_id")
				if err != nil {
					return err
				}
				if err := st.tokens.RevokeToken(ctx, userID, id); err != nil {
					return err
				}
				fmt.Fprintf(out, "revoked token %s\n", id)
				return nil
			}

			s, err := auth.ParseRevokeScope(scope)
			if err != nil {
				return err
			}
			n, err := st.service.Logout(ctx, userID, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "revoked %d login tokens (scope %s)\n", n, s)
			return nil
		},
	}
	revoke.Flags().StringVar(&scope, "scope", "all", "which tokens to revoke (expired or all)")
	revoke.Flags().StringVar(&tokenID, "token", "", "revoke only the token with this ID")
	cmd.AddCommand(revoke)

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every expired login token once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.tokens.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired login tokens\n", n)
			return nil
		},
	})

	return cmd
}

// formatTokenTable writes one row per token. Selectors are shortened to the
// prefix used in logs.
func formatTokenTable(w io.Writer, tokens []auth.TokenSummary, now time.Time) {
	if len(tokens) == 0 {
		fmt.Fprintln(w, "no login tokens")
		return
	}

	fmt.Fprintf(w, "%-26s  %-10s  %-20s  %-20s  %s\n", "ID", "SELECTOR", "CREATED", "EXPIRES", "STATE")
	fmt.Fprintln(w, strings.Repeat("-", 88))
	for _, tok := range tokens {
		state := "active"
		if !now.Before(tok.ExpiresAt) {
			state = "expired"
		}
		prefix := tok.Selector
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		fmt.Fprintf(w, "%-26s  %-10s  %-20s  %-20s  %s\n",
			tok.ID,
			prefix,
			tok.CreatedAt.UTC().Format(time.RFC3339),
			tok.ExpiresAt.UTC().Format(time.RFC3339),
			state,
		)
	}
}
