package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/botledger/internal/botstatus"
)

type CreateBotSessionInput struct {
	BotID          string
	SessionID      string
	UserID         string
	OrganizationID string
	MeetingURL     string
	CreatedAt      time.Time
}

// AdvanceStatusInput moves a bot from From to To. The update only applies
// while the stored status still equals From.
type AdvanceStatusInput struct {
	BotID              string
	From               botstatus.Status
	To                 botstatus.Status
	RecordingStartedAt *time.Time
	UpdatedAt          time.Time
}

// FinalizeInput moves a bot into a terminal status and writes its billing
// fields. The update only applies while the stored status still equals From
// and recording_ended_at is unset.
type FinalizeInput struct {
	BotID                 string
	From                  botstatus.Status
	To                    botstatus.Status
	FailureReason         botstatus.FailureReason
	RecordingStartedAt    *time.Time
	RecordingEndedAt      *time.Time
	TotalRecordingSeconds int64
	BillableMinutes       int64
	UpdatedAt             time.Time
}

type InsertWebhookEventInput struct {
	BotID      string
	SessionID  string
	Event      string
	Payload    []byte
	ReceivedAt time.Time
}

type MarkWebhookEventProcessedInput struct {
	ID              string
	SessionID       string
	ProcessedAt     time.Time
	ProcessingMS    int64
	ProcessingError string
}

type BotSessionRepository interface {
	CreateBotSession(ctx context.Context, input CreateBotSessionInput) (*BotSession, error)
	GetBotSession(ctx context.Context, botID string) (*BotSession, error)
	GetActiveBotSessionBySession(ctx context.Context, sessionID string) (*BotSession, error)
	ListActiveBotSessions(ctx context.Context) ([]BotSession, error)
	AdvanceBotStatus(ctx context.Context, input AdvanceStatusInput) (bool, error)
	FinalizeBotSession(ctx context.Context, input FinalizeInput) (bool, error)
}

type UsageRepository interface {
	InsertLedgerEntries(ctx context.Context, entries []UsageLedgerEntry) error
	ListLedgerEntries(ctx context.Context, botID string) ([]UsageLedgerEntry, error)
	AddUsageSummaries(ctx context.Context, deltas []UsageSummary) error
	GetOrganizationBillableMinutes(ctx context.Context, organizationID string, billingPeriod time.Time) (int64, error)
}

type WebhookEventRepository interface {
	InsertWebhookEvent(ctx context.Context, input InsertWebhookEventInput) (string, error)
	MarkWebhookEventProcessed(ctx context.Context, input MarkWebhookEventProcessedInput) error
}

type SessionRepository interface {
	ProjectSession(ctx context.Context, projection SessionProjection) error
	// SetSessionStatus changes only the session status, leaving the billing
	// columns of an earlier projection intact.
	SetSessionStatus(ctx context.Context, sessionID string, status botstatus.Status, updatedAt time.Time) error
}

type TranscriptRepository interface {
	// LastTranscriptActivity returns nil when the session has no transcript.
	LastTranscriptActivity(ctx context.Context, sessionID string) (*time.Time, error)
}

type Repository interface {
	BotSessionRepository
	UsageRepository
	WebhookEventRepository
	SessionRepository
	TranscriptRepository

	// RunInTx runs fn against a repository bound to one transaction. The
	// transaction commits when fn returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
