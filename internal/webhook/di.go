package webhook

import (
	"github.com/juju/clock"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/reconciler"
	"github.com/foxseedlab/botledger/internal/repository"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		clk := do.MustInvoke[clock.Clock](i)
		repo := do.MustInvoke[repository.Repository](i)
		rec := do.MustInvoke[*reconciler.Reconciler](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		verifier := NewVerifier(cfg.WebhookSecret, cfg.WebhookTimestampTolerance, clk)
		return NewHandler(verifier, repo, rec, m, clk), nil
	})
}
