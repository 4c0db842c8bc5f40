package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/repository"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PostgresRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool, db: pool}
}

func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PostgresRepository{db: tx})
	})
}

const botSessionColumns = `bot_id, session_id, user_id, organization_id, meeting_url, status, failure_reason,
	recording_started_at, recording_ended_at, total_recording_seconds, billable_minutes, created_at, updated_at`

func scanBotSession(row pgx.Row) (*repository.BotSession, error) {
	var s repository.BotSession
	var status string
	var failureReason *string
	err := row.Scan(&s.BotID, &s.SessionID, &s.UserID, &s.OrganizationID, &s.MeetingURL, &status, &failureReason,
		&s.RecordingStartedAt, &s.RecordingEndedAt, &s.TotalRecordingSeconds, &s.BillableMinutes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = botstatus.Status(status)
	if failureReason != nil {
		s.FailureReason = botstatus.FailureReason(*failureReason)
	}
	return &s, nil
}

func nonTerminalStatuses() []string {
	return lo.Map(botstatus.NonTerminal(), func(s botstatus.Status, _ int) string { return string(s) })
}

func (r *PostgresRepository) CreateBotSession(ctx context.Context, input repository.CreateBotSessionInput) (*repository.BotSession, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO bot_usage_tracking (bot_id, session_id, user_id, organization_id, meeting_url, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING `+botSessionColumns,
		input.BotID, input.SessionID, input.UserID, input.OrganizationID, input.MeetingURL, string(botstatus.Created), input.CreatedAt)
	return scanBotSession(row)
}

func (r *PostgresRepository) GetBotSession(ctx context.Context, botID string) (*repository.BotSession, error) {
	s, err := scanBotSession(r.db.QueryRow(ctx,
		`SELECT `+botSessionColumns+` FROM bot_usage_tracking WHERE bot_id = $1`,
		botID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *PostgresRepository) GetActiveBotSessionBySession(ctx context.Context, sessionID string) (*repository.BotSession, error) {
	s, err := scanBotSession(r.db.QueryRow(ctx,
		`SELECT `+botSessionColumns+` FROM bot_usage_tracking
		 WHERE session_id = $1 AND status = ANY($2)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		sessionID, nonTerminalStatuses()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *PostgresRepository) ListActiveBotSessions(ctx context.Context) ([]repository.BotSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+botSessionColumns+` FROM bot_usage_tracking
		 WHERE status = ANY($1)
		 ORDER BY updated_at ASC`,
		nonTerminalStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.BotSession
	for rows.Next() {
		s, err := scanBotSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) AdvanceBotStatus(ctx context.Context, input repository.AdvanceStatusInput) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE bot_usage_tracking
		 SET status = $3,
		     recording_started_at = COALESCE(recording_started_at, $4),
		     updated_at = $5
		 WHERE bot_id = $1 AND status = $2`,
		input.BotID, string(input.From), string(input.To), input.RecordingStartedAt, input.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) FinalizeBotSession(ctx context.Context, input repository.FinalizeInput) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE bot_usage_tracking
		 SET status = $3,
		     failure_reason = NULLIF($4, ''),
		     recording_started_at = COALESCE(recording_started_at, $5),
		     recording_ended_at = $6,
		     total_recording_seconds = $7,
		     billable_minutes = $8,
		     updated_at = $9
		 WHERE bot_id = $1 AND status = $2 AND recording_ended_at IS NULL`,
		input.BotID, string(input.From), string(input.To), string(input.FailureReason),
		input.RecordingStartedAt, input.RecordingEndedAt, input.TotalRecordingSeconds, input.BillableMinutes, input.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var ledgerColumns = []string{"bot_id", "session_id", "user_id", "organization_id", "minute_timestamp", "seconds_recorded", "billing_period"}

func (r *PostgresRepository) InsertLedgerEntries(ctx context.Context, entries []repository.UsageLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.db.CopyFrom(ctx, pgx.Identifier{"usage_tracking"}, ledgerColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.BotID, e.SessionID, e.UserID, e.OrganizationID, e.MinuteTimestamp, e.SecondsRecorded, e.BillingPeriod}, nil
		}))
	return err
}

func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, botID string) ([]repository.UsageLedgerEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT bot_id, session_id, user_id, organization_id, minute_timestamp, seconds_recorded, billing_period
		 FROM usage_tracking WHERE bot_id = $1 ORDER BY minute_timestamp ASC`,
		botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.UsageLedgerEntry
	for rows.Next() {
		var e repository.UsageLedgerEntry
		if err := rows.Scan(&e.BotID, &e.SessionID, &e.UserID, &e.OrganizationID, &e.MinuteTimestamp, &e.SecondsRecorded, &e.BillingPeriod); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) AddUsageSummaries(ctx context.Context, deltas []repository.UsageSummary) error {
	if len(deltas) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, d := range deltas {
		batch.Queue(
			`INSERT INTO usage_summaries (organization_id, user_id, billing_period, total_seconds, billable_minutes, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (organization_id, user_id, billing_period) DO UPDATE
			 SET total_seconds = usage_summaries.total_seconds + EXCLUDED.total_seconds,
			     billable_minutes = usage_summaries.billable_minutes + EXCLUDED.billable_minutes,
			     updated_at = NOW()`,
			d.OrganizationID, d.UserID, d.BillingPeriod, d.TotalSeconds, d.BillableMinutes)
	}
	results := r.db.SendBatch(ctx, batch)
	for range deltas {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

func (r *PostgresRepository) GetOrganizationBillableMinutes(ctx context.Context, organizationID string, billingPeriod time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(billable_minutes), 0)::BIGINT FROM usage_summaries
		 WHERE organization_id = $1 AND billing_period = $2`,
		organizationID, billingPeriod).Scan(&total)
	return total, err
}

func (r *PostgresRepository) InsertWebhookEvent(ctx context.Context, input repository.InsertWebhookEventInput) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`INSERT INTO bot_webhook_events (bot_id, session_id, event, payload, received_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4::jsonb, $5)
		 RETURNING id::text`,
		input.BotID, input.SessionID, input.Event, string(input.Payload), input.ReceivedAt).Scan(&id)
	return id, err
}

func (r *PostgresRepository) MarkWebhookEventProcessed(ctx context.Context, input repository.MarkWebhookEventProcessedInput) error {
	_, err := r.db.Exec(ctx,
		`UPDATE bot_webhook_events
		 SET processed = TRUE,
		     processed_at = $2,
		     processing_ms = $3,
		     processing_error = NULLIF($4, ''),
		     session_id = COALESCE(session_id, NULLIF($5, ''))
		 WHERE id = $1::uuid`,
		input.ID, input.ProcessedAt, input.ProcessingMS, input.ProcessingError, input.SessionID)
	return err
}

func (r *PostgresRepository) ProjectSession(ctx context.Context, projection repository.SessionProjection) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions
		 SET status = $2,
		     recording_duration_seconds = $3,
		     billable_minutes = $4,
		     billing_amount_cents = $5,
		     updated_at = $6
		 WHERE id = $1`,
		projection.SessionID, string(projection.Status), projection.RecordingDurationSeconds,
		projection.BillableMinutes, projection.BillingAmountCents, projection.UpdatedAt)
	return err
}

func (r *PostgresRepository) SetSessionStatus(ctx context.Context, sessionID string, status botstatus.Status, updatedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET status = $2, updated_at = $3 WHERE id = $1`,
		sessionID, string(status), updatedAt)
	return err
}

func (r *PostgresRepository) LastTranscriptActivity(ctx context.Context, sessionID string) (*time.Time, error) {
	var last *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MAX(spoken_at) FROM transcript_segments WHERE session_id = $1`,
		sessionID).Scan(&last)
	if err != nil {
		return nil, err
	}
	return last, nil
}
