package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/repository"
)

// setupTestDB connects to BOTLEDGER_TEST_DATABASE_URL and applies the schema.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	dsn := os.Getenv("BOTLEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BOTLEDGER_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := RunMigration(ctx, pool); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return pool
}

func seedBot(t *testing.T, pool *pgxpool.Pool, repo repository.Repository, at time.Time) string {
	t.Helper()
	ctx := context.Background()
	botID := fmt.Sprintf("it-bot-%d", time.Now().UnixNano())
	sessionID := "it-session-" + botID
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM bot_usage_tracking WHERE bot_id = $1`, botID)
		_, _ = pool.Exec(context.Background(), `DELETE FROM sessions WHERE id = $1`, sessionID)
	})
	if _, err := pool.Exec(ctx, `INSERT INTO sessions (id, user_id, organization_id, status) VALUES ($1, 'u1', 'o1', 'created')`, sessionID); err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	if _, err := repo.CreateBotSession(ctx, repository.CreateBotSessionInput{
		BotID:          botID,
		SessionID:      sessionID,
		UserID:         "u1",
		OrganizationID: "o1",
		MeetingURL:     "https://meet.example.com/abc",
		CreatedAt:      at,
	}); err != nil {
		t.Fatalf("failed to create bot session: %v", err)
	}
	return botID
}

func TestPostgres_AdvanceBotStatusCompareAndSet(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	botID := seedBot(t, pool, repo, start)

	ok, err := repo.AdvanceBotStatus(ctx, repository.AdvanceStatusInput{
		BotID: botID, From: botstatus.Joining, To: botstatus.Recording, UpdatedAt: start,
	})
	if err != nil {
		t.Fatalf("advance with stale from: %v", err)
	}
	if ok {
		t.Fatal("advance applied although stored status is not joining")
	}

	ok, err = repo.AdvanceBotStatus(ctx, repository.AdvanceStatusInput{
		BotID: botID, From: botstatus.Created, To: botstatus.Recording, RecordingStartedAt: &start, UpdatedAt: start,
	})
	if err != nil || !ok {
		t.Fatalf("advance created->recording: ok=%v err=%v", ok, err)
	}

	later := start.Add(10 * time.Minute)
	ok, err = repo.AdvanceBotStatus(ctx, repository.AdvanceStatusInput{
		BotID: botID, From: botstatus.Recording, To: botstatus.Recording, RecordingStartedAt: &later, UpdatedAt: later,
	})
	if err != nil || !ok {
		t.Fatalf("advance recording->recording: ok=%v err=%v", ok, err)
	}

	bot, err := repo.GetBotSession(ctx, botID)
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	if bot.RecordingStartedAt == nil || !bot.RecordingStartedAt.Equal(start) {
		t.Fatalf("recording_started_at overwritten: %v", bot.RecordingStartedAt)
	}
}

func TestPostgres_FinalizeBotSessionAppliesOnce(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	botID := seedBot(t, pool, repo, start)

	input := repository.FinalizeInput{
		BotID:                 botID,
		From:                  botstatus.Created,
		To:                    botstatus.Completed,
		RecordingStartedAt:    &start,
		RecordingEndedAt:      &end,
		TotalRecordingSeconds: 90,
		BillableMinutes:       2,
		UpdatedAt:             end,
	}
	ok, err := repo.FinalizeBotSession(ctx, input)
	if err != nil || !ok {
		t.Fatalf("first finalize: ok=%v err=%v", ok, err)
	}

	input.From = botstatus.Completed
	input.To = botstatus.Failed
	input.FailureReason = botstatus.ReasonBotNotFound
	ok, err = repo.FinalizeBotSession(ctx, input)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if ok {
		t.Fatal("finalize applied twice")
	}

	bot, err := repo.GetBotSession(ctx, botID)
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	if bot.Status != botstatus.Completed || bot.FailureReason != botstatus.ReasonNone {
		t.Fatalf("unexpected final state: status=%s reason=%q", bot.Status, bot.FailureReason)
	}
	if bot.TotalRecordingSeconds != 90 || bot.BillableMinutes != 2 {
		t.Fatalf("unexpected billing: seconds=%d minutes=%d", bot.TotalRecordingSeconds, bot.BillableMinutes)
	}
}

func TestPostgres_SetSessionStatusKeepsBilling(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	botID := seedBot(t, pool, repo, at)
	bot, err := repo.GetBotSession(ctx, botID)
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}

	if err := repo.ProjectSession(ctx, repository.SessionProjection{
		SessionID:                bot.SessionID,
		Status:                   botstatus.Completed,
		RecordingDurationSeconds: 1800,
		BillableMinutes:          30,
		BillingAmountCents:       300,
		UpdatedAt:                at,
	}); err != nil {
		t.Fatalf("project session: %v", err)
	}
	if err := repo.SetSessionStatus(ctx, bot.SessionID, botstatus.LimitExceeded, at.Add(time.Hour)); err != nil {
		t.Fatalf("set session status: %v", err)
	}

	var status string
	var seconds, minutes, cents int64
	err = pool.QueryRow(ctx,
		`SELECT status, recording_duration_seconds, billable_minutes, billing_amount_cents FROM sessions WHERE id = $1`,
		bot.SessionID).Scan(&status, &seconds, &minutes, &cents)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if status != string(botstatus.LimitExceeded) {
		t.Fatalf("status = %s", status)
	}
	if seconds != 1800 || minutes != 30 || cents != 300 {
		t.Fatalf("billing columns changed: seconds=%d minutes=%d cents=%d", seconds, minutes, cents)
	}
}
