package events

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"

	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/events"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (events.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RedisURL == "" {
			slog.Info("REDIS_URL not set; status events will not be published")
			return events.NopPublisher{}, nil
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL is invalid: %w", err)
		}
		return NewRedisPublisher(redis.NewClient(opts)), nil
	})
}
