package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/foxseedlab/botledger/external/httpserver"
	repositoryimpl "github.com/foxseedlab/botledger/external/repository"
	"github.com/foxseedlab/botledger/internal/sweeper"
)

var skipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (webhook ingress, bot API, sweep trigger, metrics)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, injector := bootstrap()

		if !skipMigrate {
			slog.Info("startup: running database migration")
			if err := repositoryimpl.Migrate(injector); err != nil {
				return err
			}
		}

		srv, err := do.Invoke[*httpserver.Server](injector)
		if err != nil {
			return fmt.Errorf("failed to resolve http server: %w", err)
		}
		defer closeResources(injector)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.SweepInProcess {
			sw := do.MustInvoke[*sweeper.Sweeper](injector)
			go sw.Loop(ctx, cfg.SweepInterval)
		}

		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		slog.Info("shutdown complete")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one stale-bot sweep and print the summary as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, injector := bootstrap()

		sw, err := do.Invoke[*sweeper.Sweeper](injector)
		if err != nil {
			return fmt.Errorf("failed to resolve sweeper: %w", err)
		}
		defer closeResources(injector)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := sw.Run(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, injector := bootstrap()
		if err := repositoryimpl.Migrate(injector); err != nil {
			return err
		}
		do.MustInvoke[*pgxpool.Pool](injector).Close()
		slog.Info("migration complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply the schema on startup")
}
