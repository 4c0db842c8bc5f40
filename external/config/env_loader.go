package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/botledger/internal/config"
)

type envConfig struct {
	Env                       string        `env:"ENV" envDefault:"production"`
	HTTPAddr                  string        `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseURL               string        `env:"DATABASE_URL,required"`
	ProviderAPIBaseURL        string        `env:"PROVIDER_API_BASE_URL,required"`
	ProviderAPIKey            string        `env:"PROVIDER_API_KEY,required"`
	ProviderTimeout           time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderMaxAttempts       int           `env:"PROVIDER_MAX_ATTEMPTS" envDefault:"3"`
	ProviderRetryDelay        time.Duration `env:"PROVIDER_RETRY_DELAY" envDefault:"250ms"`
	ProviderBotName           string        `env:"PROVIDER_BOT_NAME" envDefault:"Meeting Notetaker"`
	PublicWebhookURL          string        `env:"PUBLIC_WEBHOOK_URL"`
	WebhookSecret             string        `env:"WEBHOOK_SECRET"`
	WebhookTimestampTolerance time.Duration `env:"WEBHOOK_TIMESTAMP_TOLERANCE" envDefault:"5m"`
	InternalAPIToken          string        `env:"INTERNAL_API_TOKEN,required"`
	SweepTrustedHeader        string        `env:"SWEEP_TRUSTED_HEADER"`
	SweepInterval             time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepInProcess            bool          `env:"SWEEP_IN_PROCESS" envDefault:"false"`
	SweepStaleThreshold       time.Duration `env:"SWEEP_STALE_THRESHOLD" envDefault:"15m"`
	SweepConcurrency          int           `env:"SWEEP_CONCURRENCY" envDefault:"4"`
	BillingTimezone           string        `env:"BILLING_TIMEZONE" envDefault:"UTC"`
	BillingCentsPerMinute     int64         `env:"BILLING_CENTS_PER_MINUTE" envDefault:"0"`
	MonthlyMinuteLimit        int64         `env:"MONTHLY_MINUTE_LIMIT" envDefault:"0"`
	UnknownStatusPolicy       string        `env:"UNKNOWN_STATUS_POLICY" envDefault:"log"`
	DiscordAlertWebhookURL    string        `env:"DISCORD_ALERT_WEBHOOK_URL"`
	RedisURL                  string        `env:"REDIS_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                       raw.Env,
		HTTPAddr:                  raw.HTTPAddr,
		DatabaseURL:               raw.DatabaseURL,
		ProviderAPIBaseURL:        raw.ProviderAPIBaseURL,
		ProviderAPIKey:            raw.ProviderAPIKey,
		ProviderTimeout:           raw.ProviderTimeout,
		ProviderMaxAttempts:       raw.ProviderMaxAttempts,
		ProviderRetryDelay:        raw.ProviderRetryDelay,
		ProviderBotName:           raw.ProviderBotName,
		PublicWebhookURL:          raw.PublicWebhookURL,
		WebhookSecret:             raw.WebhookSecret,
		WebhookTimestampTolerance: raw.WebhookTimestampTolerance,
		InternalAPIToken:          raw.InternalAPIToken,
		SweepTrustedHeader:        raw.SweepTrustedHeader,
		SweepInterval:             raw.SweepInterval,
		SweepInProcess:            raw.SweepInProcess,
		SweepStaleThreshold:       raw.SweepStaleThreshold,
		SweepConcurrency:          raw.SweepConcurrency,
		BillingTimezone:           raw.BillingTimezone,
		BillingCentsPerMinute:     raw.BillingCentsPerMinute,
		MonthlyMinuteLimit:        raw.MonthlyMinuteLimit,
		UnknownStatusPolicy:       internalconfig.UnknownStatusPolicy(raw.UnknownStatusPolicy),
		DiscordAlertWebhookURL:    raw.DiscordAlertWebhookURL,
		RedisURL:                  raw.RedisURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
