package events

import (
	"context"
	"time"
)

const (
	ChannelBotStatusChanged = "events.bot.status_changed"
	ChannelUsageFinalized   = "events.bot.usage_finalized"
)

type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

type StatusChangedEvent struct {
	BaseEvent

	BotID          string `json:"bot_id"`
	SessionID      string `json:"session_id"`
	OrganizationID string `json:"organization_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
	TriggeredBy    string `json:"triggered_by"`
}

type UsageFinalizedEvent struct {
	BaseEvent

	BotID                 string     `json:"bot_id"`
	SessionID             string     `json:"session_id"`
	UserID                string     `json:"user_id"`
	OrganizationID        string     `json:"organization_id"`
	Status                string     `json:"status"`
	RecordingStartedAt    *time.Time `json:"recording_started_at,omitempty"`
	RecordingEndedAt      *time.Time `json:"recording_ended_at,omitempty"`
	TotalRecordingSeconds int64      `json:"total_recording_seconds"`
	BillableMinutes       int64      `json:"billable_minutes"`
	LedgerEntries         int        `json:"ledger_entries"`
}

type Publisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
	PublishUsageFinalized(ctx context.Context, event UsageFinalizedEvent) error
}

type NopPublisher struct{}

func (NopPublisher) PublishStatusChanged(context.Context, StatusChangedEvent) error   { return nil }
func (NopPublisher) PublishUsageFinalized(context.Context, UsageFinalizedEvent) error { return nil }
