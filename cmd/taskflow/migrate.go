package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/taskflow/taskflow/internal/app/identity"
	"github.com/taskflow/taskflow/internal/app/taskstore"
	"github.com/taskflow/taskflow/internal/platform/dbpool"
	"github.com/taskflow/taskflow/internal/platform/logging"
	"github.com/taskflow/taskflow/internal/platform/natsutil"
)

const schemaWaitTimeout = 30 * time.Second

func newMigrateCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables and the JetStream stream, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(os.Stderr, cfg.logLevel, cfg.logFormat)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			pool, err := dbpool.New(ctx, cfg.databaseURL, dbpool.LimitsFromEnv())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()
			if err := ensureSchemas(ctx, logger, taskstore.NewPostgres(pool), identity.NewPostgresRepository(pool)); err != nil {
				return err
			}

			// Connecting creates the stream when it is missing.
			client, err := natsutil.ConnectJetStreamWithRetry(ctx, cfg.natsURL, cfg.natsConnectTimeout)
			if err != nil {
				return err
			}
			client.Close()

			logger.Info("migration complete")
			return nil
		},
	}
}

func ensureSchemas(ctx context.Context, logger *slog.Logger, tasks *taskstore.Postgres, users *identity.PostgresRepository) error {
	if err := dbpool.WaitFor(ctx, logger, "users schema", schemaWaitTimeout, users.EnsureSchema); err != nil {
		return err
	}
	return dbpool.WaitFor(ctx, logger, "tasks schema", schemaWaitTimeout, tasks.EnsureSchema)
}
