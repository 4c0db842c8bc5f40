package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/foxseedlab/botledger/internal/alert"
	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/events"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/repository"
)

const (
	tracerName = "github.com/foxseedlab/botledger/internal/reconciler"

	// maxCASAttempts bounds the reload-and-retry loop when another writer
	// changes the row between our read and our conditional update.
	maxCASAttempts = 5
)

var (
	ErrBotSessionNotFound = errors.New("bot session not found")
	ErrConcurrentUpdate   = errors.New("bot session kept changing during update")
)

type Source string

const (
	SourceWebhook      Source = "webhook"
	SourceSweepDrift   Source = "sweep_drift"
	SourceSweepSilence Source = "sweep_silence"
)

// Event is a raw provider observation, from a webhook or a poll.
type Event struct {
	BotID        string
	ProviderCode string
	SubCode      string
	OccurredAt   time.Time
	Source       Source
}

// Transition is an already-canonical status change. A non-empty
// FailureReason takes precedence over the one derived from SubCode.
type Transition struct {
	BotID         string
	Status        botstatus.Status
	SubCode       string
	FailureReason botstatus.FailureReason
	OccurredAt    time.Time
	Source        Source
}

type Outcome struct {
	BotID                 string
	SessionID             string
	Previous              botstatus.Status
	Status                botstatus.Status
	Decision              botstatus.Decision
	Reason                botstatus.IgnoreReason
	Finalized             bool
	FailureReason         botstatus.FailureReason
	RecordingEndedAt      *time.Time
	TotalRecordingSeconds int64
	BillableMinutes       int64
	LedgerEntries         int
}

func (o Outcome) Changed() bool {
	return o.Decision != botstatus.Ignore
}

type Reconciler struct {
	repo           repository.Repository
	ledger         *ledger.Ledger
	publisher      events.Publisher
	alerter        alert.Alerter
	metrics        *metrics.Metrics
	clock          clock.Clock
	tracer         trace.Tracer
	alertOnUnknown bool
	centsPerMinute int64
}

func New(cfg *config.Config, repo repository.Repository, l *ledger.Ledger, publisher events.Publisher, alerter alert.Alerter, m *metrics.Metrics, clk clock.Clock) *Reconciler {
	return &Reconciler{
		repo:           repo,
		ledger:         l,
		publisher:      publisher,
		alerter:        alerter,
		metrics:        m,
		clock:          clk,
		tracer:         otel.Tracer(tracerName),
		alertOnUnknown: cfg.AlertOnUnknownStatus(),
		centsPerMinute: cfg.BillingCentsPerMinute,
	}
}

// Apply maps a provider code onto the canonical vocabulary and applies it.
// Unknown codes are logged and never applied.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	status := botstatus.FromProviderCode(ev.ProviderCode)
	if status == botstatus.Unknown {
		r.metrics.UnknownProviderCodes.WithLabelValues("status").Inc()
		r.metrics.TransitionsTotal.WithLabelValues(string(ev.Source), botstatus.Ignore.String(), string(botstatus.IgnoreUnknownStatus)).Inc()
		slog.Warn("ignoring unknown provider status code", "bot_id", ev.BotID, "code", ev.ProviderCode, "sub_code", ev.SubCode, "source", ev.Source)
		r.alertUnknown(ctx, ev.BotID, "status code", ev.ProviderCode)
		return Outcome{
			BotID:    ev.BotID,
			Status:   botstatus.Unknown,
			Decision: botstatus.Ignore,
			Reason:   botstatus.IgnoreUnknownStatus,
		}, nil
	}
	return r.ApplyTransition(ctx, Transition{
		BotID:      ev.BotID,
		Status:     status,
		SubCode:    ev.SubCode,
		OccurredAt: ev.OccurredAt,
		Source:     ev.Source,
	})
}

// ApplyTransition is idempotent: applying the same transition twice leaves
// the second call a no-op. Writes are conditional on the status that was
// read, so racing writers converge on the same terminal-wins outcome.
func (r *Reconciler) ApplyTransition(ctx context.Context, t Transition) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.apply_transition", trace.WithAttributes(
		attribute.String("bot_id", t.BotID),
		attribute.String("status", string(t.Status)),
		attribute.String("source", string(t.Source)),
	))
	defer span.End()

	if t.OccurredAt.IsZero() {
		t.OccurredAt = r.clock.Now()
	}

	for range maxCASAttempts {
		current, err := r.repo.GetBotSession(ctx, t.BotID)
		if err != nil {
			return r.fail(span, Outcome{BotID: t.BotID}, fmt.Errorf("load bot session %s: %w", t.BotID, err))
		}
		if current == nil {
			return r.fail(span, Outcome{BotID: t.BotID}, fmt.Errorf("bot %s: %w", t.BotID, ErrBotSessionNotFound))
		}

		decision, reason := botstatus.Decide(current.Status, t.Status)
		out := Outcome{
			BotID:     current.BotID,
			SessionID: current.SessionID,
			Previous:  current.Status,
			Status:    current.Status,
			Decision:  decision,
			Reason:    reason,
		}

		var applied bool
		switch decision {
		case botstatus.Advance:
			applied, err = r.advance(ctx, current, t)
		case botstatus.Finalize:
			applied, err = r.finalize(ctx, current, t, &out)
		default:
			slog.Debug("transition ignored", "bot_id", t.BotID, "current", current.Status, "next", t.Status, "reason", reason, "source", t.Source)
			r.metrics.TransitionsTotal.WithLabelValues(string(t.Source), decision.String(), string(reason)).Inc()
			return out, nil
		}
		if err != nil {
			return r.fail(span, out, err)
		}
		if !applied {
			slog.Debug("bot session changed concurrently; reloading", "bot_id", t.BotID, "expected", current.Status)
			continue
		}

		out.Status = t.Status
		r.metrics.TransitionsTotal.WithLabelValues(string(t.Source), decision.String(), "").Inc()
		slog.Info("bot status changed", "bot_id", out.BotID, "session_id", out.SessionID, "from", out.Previous, "to", out.Status, "source", t.Source)
		r.afterCommit(ctx, current, t, out)
		return out, nil
	}
	return r.fail(span, Outcome{BotID: t.BotID}, fmt.Errorf("bot %s: %w", t.BotID, ErrConcurrentUpdate))
}

func (r *Reconciler) advance(ctx context.Context, current *repository.BotSession, t Transition) (bool, error) {
	in := repository.AdvanceStatusInput{
		BotID:     current.BotID,
		From:      current.Status,
		To:        t.Status,
		UpdatedAt: r.clock.Now(),
	}
	if t.Status == botstatus.Recording && current.RecordingStartedAt == nil {
		startedAt := t.OccurredAt
		in.RecordingStartedAt = &startedAt
	}
	ok, err := r.repo.AdvanceBotStatus(ctx, in)
	if err != nil {
		return false, fmt.Errorf("advance bot %s to %s: %w", current.BotID, t.Status, err)
	}
	return ok, nil
}

// finalize closes the bot. The conditional update on recording_ended_at being
// unset is what makes ledger emission happen exactly once per bot.
func (r *Reconciler) finalize(ctx context.Context, current *repository.BotSession, t Transition, out *Outcome) (bool, error) {
	reason := r.failureReason(ctx, current.BotID, t)
	now := r.clock.Now()
	in := repository.FinalizeInput{
		BotID:         current.BotID,
		From:          current.Status,
		To:            t.Status,
		FailureReason: reason,
		UpdatedAt:     now,
	}

	var rec *ledger.Recording
	if current.RecordingStartedAt != nil && current.RecordingEndedAt == nil {
		started := *current.RecordingStartedAt
		ended := t.OccurredAt
		if ended.Before(started) {
			ended = started
		}
		total := ledger.RecordingSeconds(started, ended)
		in.RecordingEndedAt = &ended
		in.TotalRecordingSeconds = total
		in.BillableMinutes = ledger.BillableMinutes(total)
		rec = &ledger.Recording{
			BotID:          current.BotID,
			SessionID:      current.SessionID,
			UserID:         current.UserID,
			OrganizationID: current.OrganizationID,
			StartedAt:      started,
			TotalSeconds:   total,
		}
	}

	var applied bool
	var written int
	err := r.repo.RunInTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		ok, err := tx.FinalizeBotSession(ctx, in)
		if err != nil {
			return fmt.Errorf("finalize bot %s: %w", current.BotID, err)
		}
		if !ok {
			return nil
		}
		if rec != nil {
			entries, err := r.ledger.Record(ctx, tx, *rec)
			if err != nil {
				return fmt.Errorf("record usage for bot %s: %w", current.BotID, err)
			}
			written = len(entries)
		}
		if err := tx.ProjectSession(ctx, repository.SessionProjection{
			SessionID:                current.SessionID,
			Status:                   t.Status,
			RecordingDurationSeconds: in.TotalRecordingSeconds,
			BillableMinutes:          in.BillableMinutes,
			BillingAmountCents:       in.BillableMinutes * r.centsPerMinute,
			UpdatedAt:                now,
		}); err != nil {
			return fmt.Errorf("project session %s: %w", current.SessionID, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		out.Finalized = true
		out.FailureReason = reason
		out.RecordingEndedAt = in.RecordingEndedAt
		out.TotalRecordingSeconds = in.TotalRecordingSeconds
		out.BillableMinutes = in.BillableMinutes
		out.LedgerEntries = written
	}
	return applied, nil
}

// failureReason is empty for completed bots; a sub-code on a normal
// completion only says how the call ended.
func (r *Reconciler) failureReason(ctx context.Context, botID string, t Transition) botstatus.FailureReason {
	if t.Status == botstatus.Completed {
		return botstatus.ReasonNone
	}
	if t.FailureReason != botstatus.ReasonNone {
		return t.FailureReason
	}
	reason, known := botstatus.ReasonFromSubCode(t.SubCode)
	if !known {
		r.metrics.UnknownProviderCodes.WithLabelValues("sub_code").Inc()
		slog.Warn("unknown provider sub-code", "bot_id", botID, "sub_code", t.SubCode, "status", t.Status)
		r.alertUnknown(ctx, botID, "sub-code", t.SubCode)
	}
	if reason == botstatus.ReasonNone {
		switch t.Status {
		case botstatus.PermissionDenied:
			reason = botstatus.ReasonPermissionDenied
		case botstatus.LimitExceeded:
			reason = botstatus.ReasonUsageLimit
		}
	}
	return reason
}

func (r *Reconciler) afterCommit(ctx context.Context, current *repository.BotSession, t Transition, out Outcome) {
	now := r.clock.Now()
	if err := r.publisher.PublishStatusChanged(ctx, events.StatusChangedEvent{
		BaseEvent:      newBaseEvent("bot.status_changed", now),
		BotID:          out.BotID,
		SessionID:      out.SessionID,
		OrganizationID: current.OrganizationID,
		PreviousStatus: string(out.Previous),
		Status:         string(out.Status),
		FailureReason:  string(out.FailureReason),
		TriggeredBy:    string(t.Source),
	}); err != nil {
		slog.Error("failed to publish status change", "error", err, "bot_id", out.BotID)
	}
	if !out.Finalized {
		return
	}

	r.metrics.FinalizedRecordingTotal.WithLabelValues(string(out.Status)).Inc()
	r.metrics.LedgerMinutesTotal.Add(float64(out.LedgerEntries))
	slog.Info("bot usage finalized", "bot_id", out.BotID, "session_id", out.SessionID, "status", out.Status,
		"total_recording_seconds", out.TotalRecordingSeconds, "billable_minutes", out.BillableMinutes, "ledger_entries", out.LedgerEntries)

	if err := r.publisher.PublishUsageFinalized(ctx, events.UsageFinalizedEvent{
		BaseEvent:             newBaseEvent("bot.usage_finalized", now),
		BotID:                 out.BotID,
		SessionID:             out.SessionID,
		UserID:                current.UserID,
		OrganizationID:        current.OrganizationID,
		Status:                string(out.Status),
		RecordingStartedAt:    current.RecordingStartedAt,
		RecordingEndedAt:      out.RecordingEndedAt,
		TotalRecordingSeconds: out.TotalRecordingSeconds,
		BillableMinutes:       out.BillableMinutes,
		LedgerEntries:         out.LedgerEntries,
	}); err != nil {
		slog.Error("failed to publish usage finalization", "error", err, "bot_id", out.BotID)
	}
}

func (r *Reconciler) alertUnknown(ctx context.Context, botID, kind, value string) {
	if !r.alertOnUnknown {
		return
	}
	if err := r.alerter.Alert(ctx, alert.Alert{
		Severity: alert.SeverityWarning,
		Title:    fmt.Sprintf("Unmapped provider %s", kind),
		BotID:    botID,
		Detail:   fmt.Sprintf("%s %q is not in the mapping table and was not applied", kind, value),
	}); err != nil {
		slog.Error("failed to send operator alert", "error", err, "bot_id", botID)
	}
}

func (r *Reconciler) fail(span trace.Span, out Outcome, err error) (Outcome, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return out, err
}

func newBaseEvent(eventType string, at time.Time) events.BaseEvent {
	return events.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: at.UTC(),
		Source:    "botledger",
	}
}
