package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/httpapi"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/provider"
	"github.com/foxseedlab/botledger/internal/reconciler"
	"github.com/foxseedlab/botledger/internal/repository"
)

const tracerName = "github.com/foxseedlab/botledger/internal/sweeper"

type Reconciler interface {
	Apply(ctx context.Context, ev reconciler.Event) (reconciler.Outcome, error)
	ApplyTransition(ctx context.Context, t reconciler.Transition) (reconciler.Outcome, error)
}

type Store interface {
	ListActiveBotSessions(ctx context.Context) ([]repository.BotSession, error)
	LastTranscriptActivity(ctx context.Context, sessionID string) (*time.Time, error)
}

type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionDrift     Action = "drift_healed"
	ActionSilence   Action = "silence_completed"
	ActionMissing   Action = "provider_missing"
	ActionError     Action = "error"
)

type Detail struct {
	BotID          string `json:"botId"`
	SessionID      string `json:"sessionId"`
	PreviousStatus string `json:"previousStatus"`
	Status         string `json:"status"`
	ProviderCode   string `json:"providerCode,omitempty"`
	Action         Action `json:"action"`
	Error          string `json:"error,omitempty"`
}

type Summary struct {
	RunID      string   `json:"runId"`
	Checked    int      `json:"checked"`
	Updated    int      `json:"updated"`
	Errors     int      `json:"errors"`
	DurationMS int64    `json:"durationMs"`
	Details    []Detail `json:"details"`
}

type Sweeper struct {
	store          Store
	provider       provider.Client
	reconciler     Reconciler
	metrics        *metrics.Metrics
	clock          clock.Clock
	tracer         trace.Tracer
	staleThreshold time.Duration
	callTimeout    time.Duration
	concurrency    int
}

func New(cfg *config.Config, store Store, pc provider.Client, rec Reconciler, m *metrics.Metrics, clk clock.Clock) *Sweeper {
	return &Sweeper{
		store:          store,
		provider:       pc,
		reconciler:     rec,
		metrics:        m,
		clock:          clk,
		tracer:         otel.Tracer(tracerName),
		staleThreshold: cfg.SweepStaleThreshold,
		callTimeout:    cfg.ProviderTimeout,
		concurrency:    max(cfg.SweepConcurrency, 1),
	}
}

// Run checks every non-terminal bot once. A failure on one bot is recorded in
// its Detail and never stops the others; only listing the bots can fail Run.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	start := s.clock.Now()
	runID := uuid.NewString()
	s.metrics.SweepRunsTotal.Inc()

	bots, err := s.store.ListActiveBotSessions(ctx)
	if err != nil {
		return Summary{RunID: runID}, fmt.Errorf("list active bot sessions: %w", err)
	}
	slog.Debug("sweep started", "run_id", runID, "bots", len(bots))

	details := make([]Detail, len(bots))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, bot := range bots {
		g.Go(func() error {
			details[i] = s.sweepBot(ctx, bot)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := s.clock.Now().Sub(start)
	s.metrics.SweepDurationSeconds.Observe(elapsed.Seconds())
	summary := Summary{
		RunID:      runID,
		Checked:    len(bots),
		Updated:    lo.CountBy(details, func(d Detail) bool { return d.Action != ActionUnchanged && d.Action != ActionError }),
		Errors:     lo.CountBy(details, func(d Detail) bool { return d.Error != "" }),
		DurationMS: elapsed.Milliseconds(),
		Details:    details,
	}
	slog.Info("sweep finished", "run_id", runID, "checked", summary.Checked, "updated", summary.Updated, "errors", summary.Errors, "duration_ms", summary.DurationMS)
	return summary, nil
}

func (s *Sweeper) sweepBot(ctx context.Context, bot repository.BotSession) Detail {
	ctx, span := s.tracer.Start(ctx, "sweeper.bot", trace.WithAttributes(
		attribute.String("bot_id", bot.BotID),
		attribute.String("status", string(bot.Status)),
	))
	defer span.End()

	d := Detail{
		BotID:          bot.BotID,
		SessionID:      bot.SessionID,
		PreviousStatus: string(bot.Status),
		Status:         string(bot.Status),
		Action:         ActionUnchanged,
	}

	var errs []error
	if err := s.checkDrift(ctx, bot, &d); err != nil {
		errs = append(errs, err)
	}
	// A bot the drift check just moved has a fresh updated_at.
	if d.Action == ActionUnchanged && bot.Status == botstatus.Recording {
		if err := s.checkSilence(ctx, bot, &d); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		d.Error = err.Error()
		if d.Action == ActionUnchanged {
			d.Action = ActionError
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("sweep failed for bot", "error", err, "bot_id", bot.BotID, "session_id", bot.SessionID)
	}
	s.metrics.SweepBotsTotal.WithLabelValues(string(d.Action)).Inc()
	return d
}

func (s *Sweeper) checkDrift(ctx context.Context, bot repository.BotSession, d *Detail) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	st, err := s.provider.GetBot(callCtx, bot.BotID)
	cancel()
	if errors.Is(err, provider.ErrBotNotFound) {
		return s.failMissing(ctx, bot, d, err)
	}
	if err != nil {
		return fmt.Errorf("poll provider: %w", err)
	}
	d.ProviderCode = st.Code

	mapped := botstatus.FromProviderCode(st.Code)
	if mapped == bot.Status {
		return nil
	}
	occurredAt := st.UpdatedAt
	if mapped.IsTerminal() && st.CompletedAt != nil {
		occurredAt = *st.CompletedAt
	}
	out, err := s.reconciler.Apply(ctx, reconciler.Event{
		BotID:        bot.BotID,
		ProviderCode: st.Code,
		SubCode:      st.SubCode,
		OccurredAt:   occurredAt,
		Source:       reconciler.SourceSweepDrift,
	})
	if err != nil {
		return fmt.Errorf("apply provider status %q: %w", st.Code, err)
	}
	if out.Changed() {
		slog.Info("sweep healed status drift", "bot_id", bot.BotID, "from", bot.Status, "to", out.Status, "provider_code", st.Code)
		d.Action = ActionDrift
		d.Status = string(out.Status)
	}
	return nil
}

// failMissing fails a non-recording bot the provider no longer knows once it
// has not moved for the stale threshold. Recording bots are left to the
// silence check so their usage is billed.
func (s *Sweeper) failMissing(ctx context.Context, bot repository.BotSession, d *Detail, pollErr error) error {
	now := s.clock.Now()
	if bot.Status == botstatus.Recording || now.Sub(bot.UpdatedAt) <= s.staleThreshold {
		return fmt.Errorf("poll provider: %w", pollErr)
	}
	out, err := s.reconciler.ApplyTransition(ctx, reconciler.Transition{
		BotID:         bot.BotID,
		Status:        botstatus.Failed,
		FailureReason: botstatus.ReasonBotNotFound,
		OccurredAt:    now,
		Source:        reconciler.SourceSweepDrift,
	})
	if err != nil {
		return fmt.Errorf("fail missing bot: %w", err)
	}
	if out.Changed() {
		slog.Warn("sweep failed bot unknown to provider", "bot_id", bot.BotID, "session_id", bot.SessionID,
			"status", bot.Status, "updated_at", bot.UpdatedAt)
		d.Action = ActionMissing
		d.Status = string(out.Status)
	}
	return nil
}

// checkSilence force-completes a recording bot only when both its own
// updated_at and the session's latest transcript activity are older than the
// stale threshold.
func (s *Sweeper) checkSilence(ctx context.Context, bot repository.BotSession, d *Detail) error {
	now := s.clock.Now()
	if now.Sub(bot.UpdatedAt) <= s.staleThreshold {
		return nil
	}
	last, err := s.store.LastTranscriptActivity(ctx, bot.SessionID)
	if err != nil {
		return fmt.Errorf("load transcript activity: %w", err)
	}
	if last != nil && now.Sub(*last) <= s.staleThreshold {
		return nil
	}

	endedAt := bot.UpdatedAt
	if last != nil {
		endedAt = lo.Latest(endedAt, *last)
	}
	out, err := s.reconciler.ApplyTransition(ctx, reconciler.Transition{
		BotID:      bot.BotID,
		Status:     botstatus.Completed,
		OccurredAt: endedAt,
		Source:     reconciler.SourceSweepSilence,
	})
	if err != nil {
		return fmt.Errorf("force completion: %w", err)
	}
	if out.Changed() {
		slog.Warn("sweep force-completed silent bot", "bot_id", bot.BotID, "session_id", bot.SessionID,
			"updated_at", bot.UpdatedAt, "last_transcript_at", last, "ended_at", endedAt)
		d.Action = ActionSilence
		d.Status = string(out.Status)
	}
	return nil
}

// Loop runs a sweep every interval until ctx is done. Overlapping runs are
// not prevented; reconciler transitions are idempotent.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	slog.Info("in-process sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("in-process sweeper stopped")
			return
		case <-s.clock.After(interval):
			if _, err := s.Run(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Run(r.Context())
	if err != nil {
		slog.Error("sweep failed", "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, summary)
}
