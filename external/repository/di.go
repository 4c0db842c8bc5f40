package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/repository"
)

const (
	databaseInitTimeout = 15 * time.Second
	metricsNamespace    = "botledger"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*pgxpool.Pool, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		reg := do.MustInvoke[*prometheus.Registry](i)
		if err := reg.Register(NewPoolStatsCollector(p, metricsNamespace)); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to register pool metrics: %w", err)
		}
		return p, nil
	})
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		return NewPostgresRepository(do.MustInvoke[*pgxpool.Pool](i)), nil
	})
}

// Migrate applies the schema using a short-lived context.
func Migrate(injector do.Injector) error {
	p, err := do.Invoke[*pgxpool.Pool](injector)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
	defer cancel()
	if err := RunMigration(ctx, p); err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}
