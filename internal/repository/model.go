package repository

import (
	"time"

	"github.com/foxseedlab/botledger/internal/botstatus"
)

type BotSession struct {
	BotID                 string
	SessionID             string
	UserID                string
	OrganizationID        string
	MeetingURL            string
	Status                botstatus.Status
	FailureReason         botstatus.FailureReason
	RecordingStartedAt    *time.Time
	RecordingEndedAt      *time.Time
	TotalRecordingSeconds int64
	BillableMinutes       int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Finalized reports whether billing for the session has been closed.
func (s *BotSession) Finalized() bool {
	return s.Status.IsTerminal()
}

type UsageLedgerEntry struct {
	BotID           string
	SessionID       string
	UserID          string
	OrganizationID  string
	MinuteTimestamp time.Time
	SecondsRecorded int
	BillingPeriod   time.Time
}

type UsageSummary struct {
	OrganizationID  string
	UserID          string
	BillingPeriod   time.Time
	TotalSeconds    int64
	BillableMinutes int64
}

type WebhookEvent struct {
	ID              string
	BotID           string
	SessionID       string
	Event           string
	Payload         []byte
	ReceivedAt      time.Time
	Processed       bool
	ProcessedAt     *time.Time
	ProcessingMS    int64
	ProcessingError string
}

// SessionProjection is the denormalized view of a finished bot on the owning
// session row.
type SessionProjection struct {
	SessionID                string
	Status                   botstatus.Status
	RecordingDurationSeconds int64
	BillableMinutes          int64
	BillingAmountCents       int64
	UpdatedAt                time.Time
}
