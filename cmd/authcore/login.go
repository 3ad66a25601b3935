// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
)

// newLoginCmd creates the login command, which runs the password or
// remember-me login flow against the configured store. It is meant for
// operators checking credentials and tokens.
func newLoginCmd(a *app) *cobra.Command {
	var (
		flagPassword string
		fromStdin    bool
		remember     bool
		token        string
		tokenStdin   bool
	)

	cmd := &cobra.Command{
		Use:   "login [LOGIN]",
		Short: "Check a password or remember-me token",
		Long: `Log in with LOGIN (email, or username when usernames are required)
and a password, optionally issuing a remember-me token, or log in with an
existing remember-me token via --token or --token-stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			useToken := token != "" || tokenStdin
			if useToken == (len(args) == 1) {
				return oops.Code("MISSING_ARGUMENT").Errorf("pass either LOGIN or a remember-me token")
			}

			ctx := cmd.Context()
			var secret string
			var err error
			if useToken {
				secret, err = readSecret(cmd.InOrStdin(), token, tokenStdin, "token")
			} else {
				secret, err = readSecret(cmd.InOrStdin(), flagPassword, fromStdin, "password")
			}
			if err != nil {
				return err
			}

			st, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			var result *auth.LoginResult
			if useToken {
				result, err = st.service.LoginWithToken(ctx, secret)
			} else {
				result, err = st.service.Login(ctx, args[0], secret, remember)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "logged in as %s (%s)\n", result.User.ID, result.User.Email)
			if result.Token != nil {
				fmt.Fprintf(out, "remember-me token: %s\n", result.Token)
			}
			if !result.TokenExpiresAt.IsZero() {
				fmt.Fprintf(out, "token expires: %s\n", result.TokenExpiresAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagPassword, "password", "", "password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "read the password from standard input")
	cmd.Flags().BoolVar(&remember, "remember", false, "issue a remember-me token")
	cmd.Flags().StringVar(&token, "token", "", "remember-me token as selector:verifier (prefer --token-stdin)")
	cmd.Flags().BoolVar(&tokenStdin, "token-stdin", false, "read the remember-me token from standard input")

	return cmd
}
