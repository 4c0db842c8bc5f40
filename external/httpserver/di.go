package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/lifecycle"
	"github.com/foxseedlab/botledger/internal/sweeper"
	"github.com/foxseedlab/botledger/internal/webhook"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bots := do.MustInvoke[*lifecycle.Handler](i)
		router := NewRouter(Routes{
			Webhook:       do.MustInvoke[*webhook.Handler](i),
			Sweep:         do.MustInvoke[*sweeper.Sweeper](i),
			RequestBot:    bots.RequestBot,
			StopBot:       bots.StopBot,
			Registry:      do.MustInvoke[*prometheus.Registry](i),
			APIToken:      cfg.InternalAPIToken,
			TrustedHeader: cfg.SweepTrustedHeader,
		})
		return New(cfg.HTTPAddr, router), nil
	})
}
