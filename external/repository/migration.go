package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		organization_id TEXT,
		status TEXT,
		recording_duration_seconds BIGINT NOT NULL DEFAULT 0,
		billable_minutes BIGINT NOT NULL DEFAULT 0,
		billing_amount_cents BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transcript_segments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id TEXT NOT NULL,
		content TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		spoken_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, segment_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcript_segments_spoken ON transcript_segments (session_id, spoken_at DESC)`,
	`CREATE TABLE IF NOT EXISTS bot_usage_tracking (
		bot_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		organization_id TEXT NOT NULL DEFAULT '',
		meeting_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('created', 'joining', 'waiting', 'in_call', 'recording',
			'completed', 'failed', 'permission_denied', 'limit_exceeded')),
		failure_reason TEXT,
		recording_started_at TIMESTAMPTZ,
		recording_ended_at TIMESTAMPTZ,
		total_recording_seconds BIGINT NOT NULL DEFAULT 0 CHECK (total_recording_seconds >= 0),
		billable_minutes BIGINT NOT NULL DEFAULT 0 CHECK (billable_minutes >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_usage_tracking_active ON bot_usage_tracking (updated_at)
		WHERE status IN ('created', 'joining', 'waiting', 'in_call', 'recording')`,
	`CREATE INDEX IF NOT EXISTS idx_bot_usage_tracking_session ON bot_usage_tracking (session_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS usage_tracking (
		id BIGSERIAL PRIMARY KEY,
		bot_id TEXT NOT NULL REFERENCES bot_usage_tracking(bot_id),
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		minute_timestamp TIMESTAMPTZ NOT NULL,
		seconds_recorded INTEGER NOT NULL CHECK (seconds_recorded BETWEEN 1 AND 60),
		billing_period TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(bot_id, minute_timestamp)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_tracking_org_period ON usage_tracking (organization_id, billing_period)`,
	`CREATE TABLE IF NOT EXISTS usage_summaries (
		organization_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		billing_period TIMESTAMPTZ NOT NULL,
		total_seconds BIGINT NOT NULL DEFAULT 0,
		billable_minutes BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (organization_id, user_id, billing_period)
	)`,
	`CREATE TABLE IF NOT EXISTS bot_webhook_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		bot_id TEXT NOT NULL,
		session_id TEXT,
		event TEXT NOT NULL,
		payload JSONB NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at TIMESTAMPTZ,
		processing_ms BIGINT,
		processing_error TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_webhook_events_bot ON bot_webhook_events (bot_id, received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_webhook_events_unprocessed ON bot_webhook_events (received_at) WHERE NOT processed`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
