package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/juju/clock"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/provider"
	"github.com/foxseedlab/botledger/internal/repository"
)

var (
	ErrInvalidRequest     = errors.New("invalid bot request")
	ErrBotAlreadyActive   = errors.New("session already has an active bot")
	ErrUsageLimitExceeded = errors.New("monthly usage limit exceeded")
	ErrBotNotFound        = errors.New("bot not found")
)

type BotRequest struct {
	SessionID      string `json:"sessionId"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	MeetingURL     string `json:"meetingUrl"`
}

func (r BotRequest) validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	u, err := url.Parse(r.MeetingURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: meetingUrl must be an absolute http(s) URL", ErrInvalidRequest)
	}
	return nil
}

// Manager creates and stops provider bots. It only ever inserts BotSessions
// in the created state; every later status change goes through the reconciler.
type Manager struct {
	cfg      *config.Config
	repo     repository.Repository
	provider provider.Client
	ledger   *ledger.Ledger
	clock    clock.Clock
}

func NewManager(cfg *config.Config, repo repository.Repository, pc provider.Client, l *ledger.Ledger, clk clock.Clock) *Manager {
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		provider: pc,
		ledger:   l,
		clock:    clk,
	}
}

func (m *Manager) RequestBot(ctx context.Context, req BotRequest) (*repository.BotSession, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	slog.Info("bot requested", "session_id", req.SessionID, "user_id", req.UserID, "organization_id", req.OrganizationID)

	active, err := m.repo.GetActiveBotSessionBySession(ctx, req.SessionID)
	if err != nil {
		slog.Error("failed to query active bot session", "error", err, "session_id", req.SessionID)
		return nil, err
	}
	if active != nil {
		slog.Info("session already has an active bot", "session_id", req.SessionID, "bot_id", active.BotID, "status", active.Status)
		return active, ErrBotAlreadyActive
	}

	if err := m.checkUsageLimit(ctx, req); err != nil {
		return nil, err
	}

	botID, err := m.provider.CreateBot(ctx, provider.CreateBotInput{
		MeetingURL: req.MeetingURL,
		WebhookURL: m.cfg.PublicWebhookURL,
		BotName:    m.cfg.ProviderBotName,
		SessionID:  req.SessionID,
	})
	if err != nil {
		slog.Error("failed to create provider bot", "error", err, "session_id", req.SessionID)
		return nil, fmt.Errorf("create provider bot: %w", err)
	}

	created, err := m.repo.CreateBotSession(ctx, repository.CreateBotSessionInput{
		BotID:          botID,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		MeetingURL:     req.MeetingURL,
		CreatedAt:      m.clock.Now(),
	})
	if err != nil {
		slog.Error("failed to persist bot session; stopping provider bot", "error", err, "bot_id", botID, "session_id", req.SessionID)
		if stopErr := m.provider.StopBot(ctx, botID); stopErr != nil {
			slog.Error("failed to stop orphan provider bot", "error", stopErr, "bot_id", botID)
		}
		return nil, fmt.Errorf("persist bot session: %w", err)
	}
	slog.Info("bot session created", "bot_id", created.BotID, "session_id", created.SessionID)
	return created, nil
}

func (m *Manager) checkUsageLimit(ctx context.Context, req BotRequest) error {
	if m.cfg.MonthlyMinuteLimit <= 0 || req.OrganizationID == "" {
		return nil
	}
	now := m.clock.Now()
	period := ledger.BillingPeriod(now, m.ledger.Location())
	used, err := m.repo.GetOrganizationBillableMinutes(ctx, req.OrganizationID, period)
	if err != nil {
		slog.Error("failed to load organization usage", "error", err, "organization_id", req.OrganizationID)
		return err
	}
	if used < m.cfg.MonthlyMinuteLimit {
		return nil
	}

	slog.Warn("refusing bot: monthly usage limit reached", "organization_id", req.OrganizationID, "session_id", req.SessionID,
		"used_minutes", used, "limit_minutes", m.cfg.MonthlyMinuteLimit)
	if err := m.repo.SetSessionStatus(ctx, req.SessionID, botstatus.LimitExceeded, now); err != nil {
		slog.Error("failed to project limit_exceeded onto session", "error", err, "session_id", req.SessionID)
	}
	return fmt.Errorf("%w: %d of %d minutes used", ErrUsageLimitExceeded, used, m.cfg.MonthlyMinuteLimit)
}

// StopBot asks the provider to leave the call. The resulting terminal status
// arrives through the webhook or the sweeper like any other.
func (m *Manager) StopBot(ctx context.Context, botID string) (*repository.BotSession, error) {
	s, err := m.repo.GetBotSession(ctx, botID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrBotNotFound
	}
	if s.Status.IsTerminal() {
		slog.Info("stop requested for finished bot; nothing to do", "bot_id", botID, "status", s.Status)
		return s, nil
	}
	if err := m.provider.StopBot(ctx, botID); err != nil {
		if errors.Is(err, provider.ErrBotNotFound) {
			slog.Warn("provider no longer knows bot; leaving status to the sweeper", "bot_id", botID)
			return s, nil
		}
		slog.Error("failed to stop provider bot", "error", err, "bot_id", botID)
		return nil, fmt.Errorf("stop provider bot: %w", err)
	}
	slog.Info("stop requested", "bot_id", botID, "session_id", s.SessionID)
	return s, nil
}
