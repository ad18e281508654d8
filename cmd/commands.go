package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adanyl0v/go-task-manager/internal/app"
	"github.com/adanyl0v/go-task-manager/internal/config"
)

const closeTimeout = 10 * time.Second

func newRootCommand(logger zerolog.Logger) *cobra.Command {
	serve := newServeCommand(logger)

	root := &cobra.Command{
		Use:           "taskapi",
		Short:         "Task manager REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newMigrateCommand(logger))
	return root
}

func newServeCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// kill (no params) by default sends syscall.SIGTERM
			// kill -2 is syscall.SIGINT
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, logger, func(a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newMigrateCommand(logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), logger, func(a *app.App) error {
				return a.Migrate(cmd.Context())
			})
		},
	}
}

// withApp reads the configuration, connects to the databases and runs fn,
// closing the connections afterwards.
func withApp(ctx context.Context, logger zerolog.Logger, fn func(*app.App) error) error {
	cfg, err := config.NewEnvReader().Read()
	if err != nil {
		logger.Error().
			Err(err).
			Msg("failed to read env")
		return err
	}

	logger, err = app.NewLogger(logger, cfg.Env)
	if err != nil {
		return err
	}
	logger.Info().Msg("initialized application logger")

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("failed to connect to databases")
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error().
				Err(err).
				Msg("failed to close app")
		}
	}()

	return fn(a)
}
