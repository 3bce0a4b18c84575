package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrsteele09/go-auth-client/callback"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	quiet      bool
	app        *app
}

func newRootCommand() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Sign in to the API and manage the local session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile != "" {
				if err := config.LoadFile(opts.configFile); err != nil {
					return err
				}
			}
			cfg := config.New()
			logging.Setup(cfg.GetLogLevel(), cfg.GetEnv() == "DEV")

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			opts.app = a
			if _, err := a.manager.Restore(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "Stored session discarded: %s\n", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML file with configuration defaults")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print the banner")

	root.AddCommand(
		newLoginCommand(opts),
		newRefreshCommand(opts),
		newLogoutCommand(opts),
		newWhoamiCommand(opts),
		newTokenCommand(opts),
		newStatusCommand(opts),
		newMigrateCommand(opts),
	)
	return root, opts
}

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var returnURL string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open the authorization page and complete the login on the local callback",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			if !opts.quiet {
				displayAppname(a.cfg.GetAppName())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			auth, err := a.authorizer(ctx)
			if err != nil {
				return err
			}
			srv := callback.New(a.cfg.GetEnv(), auth, a.manager, callback.WithMetrics(a.registry))
			if _, err := srv.ListenAndServe(a.cfg.GetCallbackAddr()); err != nil {
				return err
			}
			defer shutdown(srv)
			go auth.Prune(ctx, time.Minute)

			authURL, _, err := auth.Begin(returnURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to sign in:\n\n  %s\n\n", authURL)

			timeout := time.NewTimer(a.cfg.GetAuthFlowMaxAge())
			defer timeout.Stop()
			select {
			case res := <-srv.Results():
				if res.Err != nil {
					return res.Err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in, token valid until %s\n", res.Bundle.ExpiresAt.Format(time.RFC3339))
				return nil
			case <-timeout.C:
				return errors.New("login timed out")
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVar(&returnURL, "return-url", "", "Where the browser goes after signing in")
	return cmd
}

func shutdown(srv *callback.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}
}

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Obtain new tokens with the stored refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.app.manager.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token valid until %s\n", b.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	var allDevices bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.manager.Logout(cmd.Context(), allDevices)
		},
	}
	cmd.Flags().BoolVar(&allDevices, "all-devices", false, "Also end sessions on other devices")
	return cmd
}

func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.app.manager.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var redact bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token, refreshing it first when it is about to expire",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := opts.app.manager
			if m.ShouldRefresh(cmd.Context()) {
				if _, err := m.Refresh(cmd.Context()); err != nil {
					return err
				}
			}
			tok, ok := m.GetToken(cmd.Context())
			if !ok {
				return errors.New("not signed in")
			}
			if redact {
				tok = logging.Redact(tok)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().BoolVar(&redact, "redact", false, "Only print the start and end of the token")
	return cmd
}

type status struct {
	State         string     `json:"state"`
	Environment   string     `json:"environment"`
	Storage       string     `json:"storage_mode"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ShouldRefresh bool       `json:"should_refresh"`
	UnifiedState  bool       `json:"unified_state"`
	Migrated      bool       `json:"migrated"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			ctx := cmd.Context()
			s := status{
				State:         a.manager.State().String(),
				Environment:   a.resolver.Mode().String(),
				Storage:       a.resolver.Mode().StorageMode().String(),
				ShouldRefresh: a.manager.ShouldRefresh(ctx),
				UnifiedState:  a.unified,
				Migrated:      a.migrator.Migrated(ctx),
			}
			if exp, ok := a.manager.ExpiresAt(ctx); ok {
				s.ExpiresAt = &exp
			}
			return printJSON(cmd, s)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy session keys into the unified auth record",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.app.migrator.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(res))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
