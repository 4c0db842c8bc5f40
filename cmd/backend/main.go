package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	configloader "github.com/foxseedlab/botledger/external/config"
	"github.com/foxseedlab/botledger/external/discord"
	eventsimpl "github.com/foxseedlab/botledger/external/events"
	"github.com/foxseedlab/botledger/external/httpserver"
	providerimpl "github.com/foxseedlab/botledger/external/provider"
	repositoryimpl "github.com/foxseedlab/botledger/external/repository"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/events"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/lifecycle"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/reconciler"
	"github.com/foxseedlab/botledger/internal/sweeper"
	"github.com/foxseedlab/botledger/internal/webhook"
)

var rootCmd = &cobra.Command{
	Use:           "botledger",
	Short:         "Meeting bot lifecycle and usage accounting backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration, installs the logger and builds the
// dependency graph shared by every subcommand.
func bootstrap() (*config.Config, do.Injector) {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	return cfg, setupDI(cfg)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue[clock.Clock](injector, clock.WallClock)
	metrics.RegisterDI(injector)
	repositoryimpl.RegisterDI(injector)
	providerimpl.RegisterDI(injector)
	eventsimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	ledger.RegisterDI(injector)
	reconciler.RegisterDI(injector)
	webhook.RegisterDI(injector)
	sweeper.RegisterDI(injector)
	lifecycle.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}

// closeResources releases the pool and publisher. Call it only after both
// have been resolved.
func closeResources(injector do.Injector) {
	if p, err := do.Invoke[events.Publisher](injector); err == nil {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Error("publisher close failed", "error", err)
			}
		}
	}
	if pool, err := do.Invoke[*pgxpool.Pool](injector); err == nil {
		pool.Close()
	}
}
