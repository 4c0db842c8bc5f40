package lifecycle

import (
	"github.com/juju/clock"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/provider"
	"github.com/foxseedlab/botledger/internal/repository"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		pc := do.MustInvoke[provider.Client](i)
		l := do.MustInvoke[*ledger.Ledger](i)
		clk := do.MustInvoke[clock.Clock](i)
		return NewManager(cfg, repo, pc, l, clk), nil
	})
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		return NewHandler(do.MustInvoke[*Manager](i)), nil
	})
}
