package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nmslite/targetwatch/internal/config"
	"github.com/nmslite/targetwatch/internal/database"
	"github.com/nmslite/targetwatch/internal/models"
	"github.com/nmslite/targetwatch/internal/registry"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage targets in the PostgreSQL registry",
}

var targetsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert the targets listed in the config file into the database",
	Long: `Write every entry of registry.targets into the servers table, inserting new
ids and updating existing ones. Applies migrations first when registry.migrate
is set.

Examples:
  targetwatch targets sync --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPostgresRegistry(cmd.Context(), func(ctx context.Context, cfg *config.Config, reg *registry.Postgres, logger *slog.Logger) error {
			n, err := syncTargets(ctx, reg, cfg.Registry.Targets, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d targets\n", n)
			return nil
		})
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <target-id>...",
	Short: "Delete targets from the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPostgresRegistry(cmd.Context(), func(ctx context.Context, _ *config.Config, reg *registry.Postgres, logger *slog.Logger) error {
			return removeTargets(ctx, reg, args, cmd.OutOrStdout(), logger)
		})
	},
}

func init() {
	targetsCmd.AddCommand(targetsSyncCmd, targetsRemoveCmd)
	rootCmd.AddCommand(targetsCmd)
}

type targetWriter interface {
	Put(ctx context.Context, t models.Target) error
	Remove(ctx context.Context, id string) error
}

func withPostgresRegistry(ctx context.Context, fn func(context.Context, *config.Config, *registry.Postgres, *slog.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Registry.Source != "postgres" {
		return errors.New("targets commands need registry.source: postgres")
	}

	logger, logCloser, err := config.InitLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Registry.Migrate {
		if err := database.RunMigrations(ctx, pool); err != nil {
			return err
		}
	}
	return fn(ctx, cfg, registry.NewPostgres(pool, logger), logger)
}

// syncTargets upserts every target and stops at the first failure
func syncTargets(ctx context.Context, w targetWriter, targets []models.Target, logger *slog.Logger) (int, error) {
	for i, t := range targets {
		if err := w.Put(ctx, t); err != nil {
			return i, err
		}
		logger.Info("target synced", "target_id", t.ID, "name", t.DisplayName())
	}
	return len(targets), nil
}

func removeTargets(ctx context.Context, w targetWriter, ids []string, out io.Writer, logger *slog.Logger) error {
	for _, id := range ids {
		if err := w.Remove(ctx, id); err != nil {
			return err
		}
		logger.Info("target removed", "target_id", id)
		fmt.Fprintf(out, "removed %s\n", id)
	}
	return nil
}
