package reconciler

import (
	"github.com/juju/clock"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/alert"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/events"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/repository"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Reconciler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		l := do.MustInvoke[*ledger.Ledger](i)
		publisher := do.MustInvoke[events.Publisher](i)
		alerter := do.MustInvoke[alert.Alerter](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		clk := do.MustInvoke[clock.Clock](i)
		return New(cfg, repo, l, publisher, alerter, m, clk), nil
	})
}
