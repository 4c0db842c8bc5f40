package provider

import (
	"github.com/juju/clock"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/provider"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (provider.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHTTPClient(Options{
			BaseURL:     cfg.ProviderAPIBaseURL,
			APIKey:      cfg.ProviderAPIKey,
			Timeout:     cfg.ProviderTimeout,
			MaxAttempts: cfg.ProviderMaxAttempts,
			RetryDelay:  cfg.ProviderRetryDelay,
			Clock:       do.MustInvoke[clock.Clock](i),
			Metrics:     do.MustInvoke[*metrics.Metrics](i),
		}), nil
	})
}
