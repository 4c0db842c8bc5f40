package sweeper

import (
	"github.com/juju/clock"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/provider"
	"github.com/foxseedlab/botledger/internal/reconciler"
	"github.com/foxseedlab/botledger/internal/repository"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Sweeper, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		pc := do.MustInvoke[provider.Client](i)
		rec := do.MustInvoke[*reconciler.Reconciler](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		clk := do.MustInvoke[clock.Clock](i)
		return New(cfg, repo, pc, rec, m, clk), nil
	})
}
