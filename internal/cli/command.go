package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/app"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/config"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
)

type options struct {
	configPath string
	reason     string
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Token lifecycle gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to YAML config; environment variables override it")
	cmd.AddCommand(newServeCommand(opts), newRevokeCommand(opts))
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
			if err != nil {
				return err
			}
			container, err := app.NewContainer(ctx, cfg, logger)
			if err != nil {
				_ = runtime.Shutdown(context.Background())
				return err
			}
			return app.New(cfg, logger, app.NewHTTPServer(cfg, container), runtime, container).Run(ctx)
		},
	}
}

func newRevokeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "revoke", Short: "Force-revoke sessions"}
	cmd.PersistentFlags().StringVar(&opts.reason, "reason", "operator revocation", "reason carried in the revocation event")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "token <token-uid>",
			Short: "Revoke one session by tokenUID",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withContainer(cmd, opts, func(ctx context.Context, c *app.Container) error {
					status, err := c.Sessions.RevokeToken(ctx, args[0], opts.reason)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "token %s: %s\n", args[0], status)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "user <user-uid>",
			Short: "Revoke every active session of a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withContainer(cmd, opts, func(ctx context.Context, c *app.Container) error {
					n, err := c.Sessions.RevokeUser(ctx, args[0], opts.reason)
					if _, werr := fmt.Fprintf(cmd.OutOrStdout(), "user %s: %d session(s) revoked\n", args[0], n); werr != nil && err == nil {
						err = werr
					}
					return err
				})
			},
		},
	)
	return cmd
}

func withContainer(cmd *cobra.Command, opts *options, fn func(context.Context, *app.Container) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, _, err := observability.NewLogger(ctx, &config.Config{LogLevel: cfg.LogLevel}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	c, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, c)
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := c.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
