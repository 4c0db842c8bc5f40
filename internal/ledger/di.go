package ledger

import (
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Ledger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return New(cfg.BillingLocation()), nil
	})
}
