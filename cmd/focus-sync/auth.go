package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alexjbarnes/focus-sync/internal/identity"
	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	var google bool

	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Sign in with a focus-sync token, or a Google access token with --google",
		Long: `Store the credential this device syncs with and run the first pull.
Signing in as a different account switches which remote document this
device reads and writes.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			if err := a.writable(); err != nil {
				return err
			}

			cred := identity.Credential{Kind: identity.KindPrimary, Token: args[0]}
			if google {
				cred.Kind = identity.KindSecondary
			}

			if err := identity.SaveCredential(a.store, cred); err != nil {
				return userError(err)
			}

			a.logger.Info("signed in", slog.String("provider", string(cred.Kind)))

			if err := a.engine.Bootstrap(cmd.Context()); err != nil {
				return userError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "signed in and synced")

			return nil
		}),
	}

	cmd.Flags().BoolVar(&google, "google", false, "Token is a Google OAuth access token")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential; local data is kept",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.writable(); err != nil {
				return err
			}

			if err := identity.ClearCredential(a.store); err != nil {
				return userError(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "signed out")

			return nil
		}),
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a primary bearer token (needs the server's JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := identity.NewTokenIssuer(os.Getenv("JWT_SECRET"))
			if err != nil {
				return fmt.Errorf("JWT_SECRET: %w", err)
			}

			token, err := issuer.Issue(args[0], ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")

	return cmd
}
