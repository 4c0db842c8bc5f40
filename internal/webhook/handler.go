package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/juju/clock"

	"github.com/foxseedlab/botledger/internal/httpapi"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/reconciler"
	"github.com/foxseedlab/botledger/internal/repository"
)

const maxBodyBytes = 1 << 20

type Reconciler interface {
	Apply(ctx context.Context, ev reconciler.Event) (reconciler.Outcome, error)
}

type Store interface {
	repository.WebhookEventRepository
	GetBotSession(ctx context.Context, botID string) (*repository.BotSession, error)
}

type Response struct {
	Success        bool   `json:"success"`
	BotID          string `json:"botId"`
	SessionID      string `json:"sessionId"`
	Event          string `json:"event"`
	ProcessingTime int64  `json:"processingTime"`
	Error          string `json:"error,omitempty"`
}

type Handler struct {
	verifier   *Verifier
	store      Store
	reconciler Reconciler
	metrics    *metrics.Metrics
	clock      clock.Clock
}

func NewHandler(verifier *Verifier, store Store, rec Reconciler, m *metrics.Metrics, clk clock.Clock) *Handler {
	return &Handler{
		verifier:   verifier,
		store:      store,
		reconciler: rec,
		metrics:    m,
		clock:      clk,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	receivedAt := h.clock.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues("", "malformed").Inc()
		httpapi.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.verifier.Verify(r.Header, body); err != nil {
		slog.Warn("rejected webhook with bad signature", "error", err, "remote_addr", r.RemoteAddr)
		h.metrics.WebhookEventsTotal.WithLabelValues("", "unauthorized").Inc()
		httpapi.WriteError(w, http.StatusUnauthorized, err.Error())
		return
	}

	n, err := ParsePayload(body)
	if err != nil {
		slog.Warn("rejected malformed webhook", "error", err)
		h.metrics.WebhookEventsTotal.WithLabelValues("", "malformed").Inc()
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Processing continues even if the provider hangs up; the state change
	// must not be abandoned halfway.
	ctx := context.WithoutCancel(r.Context())

	eventID, err := h.store.InsertWebhookEvent(ctx, repository.InsertWebhookEventInput{
		BotID:      n.BotID,
		SessionID:  n.SessionID,
		Event:      n.Event,
		Payload:    body,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		slog.Error("failed to persist webhook event", "error", err, "bot_id", n.BotID, "event", n.Event)
		h.metrics.WebhookEventsTotal.WithLabelValues(n.Event, "error").Inc()
		httpapi.WriteError(w, http.StatusInternalServerError, "failed to persist webhook event")
		return
	}

	sessionID, procErr := h.process(ctx, n)

	processedAt := h.clock.Now()
	elapsed := processedAt.Sub(receivedAt)
	mark := repository.MarkWebhookEventProcessedInput{
		ID:           eventID,
		SessionID:    sessionID,
		ProcessedAt:  processedAt,
		ProcessingMS: elapsed.Milliseconds(),
	}
	result := "processed"
	if procErr != nil {
		result = "failed"
		mark.ProcessingError = procErr.Error()
		slog.Error("failed to process webhook event", "error", procErr, "event_id", eventID, "bot_id", n.BotID, "event", n.Event)
	}
	if err := h.store.MarkWebhookEventProcessed(ctx, mark); err != nil {
		slog.Error("failed to mark webhook event processed", "error", err, "event_id", eventID, "bot_id", n.BotID)
	}
	h.metrics.WebhookEventsTotal.WithLabelValues(n.Event, result).Inc()
	h.metrics.WebhookProcessingSeconds.Observe(elapsed.Seconds())

	resp := Response{
		Success:        procErr == nil,
		BotID:          n.BotID,
		SessionID:      sessionID,
		Event:          n.Event,
		ProcessingTime: elapsed.Milliseconds(),
	}
	if procErr != nil {
		resp.Error = procErr.Error()
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) process(ctx context.Context, n Notification) (string, error) {
	sessionID := n.SessionID
	if sessionID == "" {
		bot, err := h.store.GetBotSession(ctx, n.BotID)
		if err != nil {
			return "", err
		}
		if bot != nil {
			sessionID = bot.SessionID
		}
	}

	if !n.HasStatus() {
		slog.Debug("webhook event has no status code; audited only", "bot_id", n.BotID, "event", n.Event)
		return sessionID, nil
	}

	out, err := h.reconciler.Apply(ctx, reconciler.Event{
		BotID:        n.BotID,
		ProviderCode: n.Code,
		SubCode:      n.SubCode,
		OccurredAt:   n.OccurredAt,
		Source:       reconciler.SourceWebhook,
	})
	if errors.Is(err, reconciler.ErrBotSessionNotFound) {
		slog.Warn("webhook for unknown bot", "bot_id", n.BotID, "event", n.Event)
	}
	if sessionID == "" {
		sessionID = out.SessionID
	}
	return sessionID, err
}
