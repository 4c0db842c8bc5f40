package config

import (
	"fmt"
	"time"
)

type UnknownStatusPolicy string

const (
	UnknownStatusLog   UnknownStatusPolicy = "log"
	UnknownStatusAlert UnknownStatusPolicy = "alert"
)

type Config struct {
	Env                       string
	HTTPAddr                  string
	DatabaseURL               string
	ProviderAPIBaseURL        string
	ProviderAPIKey            string
	ProviderTimeout           time.Duration
	ProviderMaxAttempts       int
	ProviderRetryDelay        time.Duration
	ProviderBotName           string
	PublicWebhookURL          string
	WebhookSecret             string
	WebhookTimestampTolerance time.Duration
	InternalAPIToken          string
	SweepTrustedHeader        string
	SweepInterval             time.Duration
	SweepInProcess            bool
	SweepStaleThreshold       time.Duration
	SweepConcurrency          int
	BillingTimezone           string
	BillingCentsPerMinute     int64
	MonthlyMinuteLimit        int64
	UnknownStatusPolicy       UnknownStatusPolicy
	DiscordAlertWebhookURL    string
	RedisURL                  string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"PROVIDER_TIMEOUT", c.ProviderTimeout},
		{"PROVIDER_RETRY_DELAY", c.ProviderRetryDelay},
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"SWEEP_STALE_THRESHOLD", c.SweepStaleThreshold},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.WebhookTimestampTolerance < 0 {
		return fmt.Errorf("WEBHOOK_TIMESTAMP_TOLERANCE must not be negative, got %s", c.WebhookTimestampTolerance)
	}
	if c.ProviderMaxAttempts <= 0 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be positive, got %d", c.ProviderMaxAttempts)
	}
	if c.SweepConcurrency <= 0 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be positive, got %d", c.SweepConcurrency)
	}
	if c.BillingCentsPerMinute < 0 {
		return fmt.Errorf("BILLING_CENTS_PER_MINUTE must not be negative, got %d", c.BillingCentsPerMinute)
	}
	if c.MonthlyMinuteLimit < 0 {
		return fmt.Errorf("MONTHLY_MINUTE_LIMIT must not be negative, got %d", c.MonthlyMinuteLimit)
	}
	if _, err := time.LoadLocation(c.BillingTimezone); err != nil {
		return fmt.Errorf("BILLING_TIMEZONE is invalid: %w", err)
	}
	switch c.UnknownStatusPolicy {
	case UnknownStatusLog:
	case UnknownStatusAlert:
		if c.DiscordAlertWebhookURL == "" {
			return fmt.Errorf("DISCORD_ALERT_WEBHOOK_URL is required when UNKNOWN_STATUS_POLICY=alert")
		}
	default:
		return fmt.Errorf("UNKNOWN_STATUS_POLICY must be %q or %q, got %q", UnknownStatusLog, UnknownStatusAlert, c.UnknownStatusPolicy)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "PROVIDER_API_BASE_URL", value: c.ProviderAPIBaseURL},
		{name: "PROVIDER_API_KEY", value: c.ProviderAPIKey},
		{name: "INTERNAL_API_TOKEN", value: c.InternalAPIToken},
		{name: "BILLING_TIMEZONE", value: c.BillingTimezone},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// BillingLocation falls back to UTC when the timezone cannot be loaded;
// Validate rejects that case at startup.
func (c *Config) BillingLocation() *time.Location {
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) AlertOnUnknownStatus() bool {
	return c.UnknownStatusPolicy == UnknownStatusAlert
}
