package discord

import (
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/alert"
	"github.com/foxseedlab/botledger/internal/config"
)

const alertUsername = "botledger"

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (alert.Alerter, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.DiscordAlertWebhookURL == "" {
			return alert.NopAlerter{}, nil
		}
		return NewWebhookAlerter(c.DiscordAlertWebhookURL, alertUsername)
	})
}
