// Package repositorytest provides an in-memory repository with the same
// compare-and-set semantics as the Postgres implementation.
package repositorytest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/repository"
)

type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	bots        map[string]repository.BotSession
	ledger      []repository.UsageLedgerEntry
	summaries   map[summaryKey]repository.UsageSummary
	events      map[string]repository.WebhookEvent
	projections map[string]repository.SessionProjection
	transcripts map[string]time.Time
	nextEventID int

	// Hooks for failure injection.
	FailLedgerInsert error
	FailProject      error

	LedgerInserts int
}

type summaryKey struct {
	org    string
	user   string
	period time.Time
}

func NewMemory() *Memory {
	return &Memory{
		bots:        make(map[string]repository.BotSession),
		summaries:   make(map[summaryKey]repository.UsageSummary),
		events:      make(map[string]repository.WebhookEvent),
		projections: make(map[string]repository.SessionProjection),
		transcripts: make(map[string]time.Time),
	}
}

// PutBotSession stores s as-is, replacing any existing row.
func (m *Memory) PutBotSession(s repository.BotSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[s.BotID] = s
}

func (m *Memory) SetTranscriptActivity(sessionID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[sessionID] = at
}

func (m *Memory) Projection(sessionID string) (repository.SessionProjection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projections[sessionID]
	return p, ok
}

func (m *Memory) WebhookEvents() []repository.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Collect(maps.Values(m.events))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Summaries() []repository.UsageSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Collect(maps.Values(m.summaries))
	sort.Slice(out, func(i, j int) bool { return out[i].BillingPeriod.Before(out[j].BillingPeriod) })
	return out
}

func (m *Memory) CreateBotSession(_ context.Context, input repository.CreateBotSessionInput) (*repository.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bots[input.BotID]; exists {
		return nil, fmt.Errorf("bot session %s already exists", input.BotID)
	}
	s := repository.BotSession{
		BotID:          input.BotID,
		SessionID:      input.SessionID,
		UserID:         input.UserID,
		OrganizationID: input.OrganizationID,
		MeetingURL:     input.MeetingURL,
		Status:         botstatus.Created,
		CreatedAt:      input.CreatedAt,
		UpdatedAt:      input.CreatedAt,
	}
	m.bots[s.BotID] = s
	return &s, nil
}

func (m *Memory) GetBotSession(_ context.Context, botID string) (*repository.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bots[botID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) GetActiveBotSessionBySession(_ context.Context, sessionID string) (*repository.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.bots {
		if s.SessionID == sessionID && !s.Status.IsTerminal() {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListActiveBotSessions(_ context.Context) ([]repository.BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.BotSession
	for _, s := range m.bots {
		if !s.Status.IsTerminal() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}

func (m *Memory) AdvanceBotStatus(_ context.Context, input repository.AdvanceStatusInput) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bots[input.BotID]
	if !ok || s.Status != input.From {
		return false, nil
	}
	s.Status = input.To
	if s.RecordingStartedAt == nil && input.RecordingStartedAt != nil {
		at := *input.RecordingStartedAt
		s.RecordingStartedAt = &at
	}
	s.UpdatedAt = input.UpdatedAt
	m.bots[s.BotID] = s
	return true, nil
}

func (m *Memory) FinalizeBotSession(_ context.Context, input repository.FinalizeInput) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bots[input.BotID]
	if !ok || s.Status != input.From || s.RecordingEndedAt != nil {
		return false, nil
	}
	s.Status = input.To
	s.FailureReason = input.FailureReason
	if s.RecordingStartedAt == nil && input.RecordingStartedAt != nil {
		at := *input.RecordingStartedAt
		s.RecordingStartedAt = &at
	}
	if input.RecordingEndedAt != nil {
		at := *input.RecordingEndedAt
		s.RecordingEndedAt = &at
	}
	s.TotalRecordingSeconds = input.TotalRecordingSeconds
	s.BillableMinutes = input.BillableMinutes
	s.UpdatedAt = input.UpdatedAt
	m.bots[s.BotID] = s
	return true, nil
}

func (m *Memory) InsertLedgerEntries(_ context.Context, entries []repository.UsageLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLedgerInsert != nil {
		return m.FailLedgerInsert
	}
	m.LedgerInserts++
	m.ledger = append(m.ledger, entries...)
	return nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, botID string) ([]repository.UsageLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.UsageLedgerEntry
	for _, e := range m.ledger {
		if e.BotID == botID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) AddUsageSummaries(_ context.Context, deltas []repository.UsageSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range deltas {
		k := summaryKey{org: d.OrganizationID, user: d.UserID, period: d.BillingPeriod}
		cur := m.summaries[k]
		cur.OrganizationID = d.OrganizationID
		cur.UserID = d.UserID
		cur.BillingPeriod = d.BillingPeriod
		cur.TotalSeconds += d.TotalSeconds
		cur.BillableMinutes += d.BillableMinutes
		m.summaries[k] = cur
	}
	return nil
}

func (m *Memory) GetOrganizationBillableMinutes(_ context.Context, organizationID string, billingPeriod time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for k, s := range m.summaries {
		if k.org == organizationID && k.period.Equal(billingPeriod) {
			total += s.BillableMinutes
		}
	}
	return total, nil
}

func (m *Memory) InsertWebhookEvent(_ context.Context, input repository.InsertWebhookEventInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	id := fmt.Sprintf("evt-%04d", m.nextEventID)
	m.events[id] = repository.WebhookEvent{
		ID:         id,
		BotID:      input.BotID,
		SessionID:  input.SessionID,
		Event:      input.Event,
		Payload:    append([]byte(nil), input.Payload...),
		ReceivedAt: input.ReceivedAt,
	}
	return id, nil
}

func (m *Memory) MarkWebhookEventProcessed(_ context.Context, input repository.MarkWebhookEventProcessedInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[input.ID]
	if !ok {
		return fmt.Errorf("webhook event %s not found", input.ID)
	}
	at := input.ProcessedAt
	e.Processed = true
	e.ProcessedAt = &at
	e.ProcessingMS = input.ProcessingMS
	e.ProcessingError = input.ProcessingError
	if e.SessionID == "" {
		e.SessionID = input.SessionID
	}
	m.events[input.ID] = e
	return nil
}

func (m *Memory) ProjectSession(_ context.Context, projection repository.SessionProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailProject != nil {
		return m.FailProject
	}
	m.projections[projection.SessionID] = projection
	return nil
}

func (m *Memory) SetSessionStatus(_ context.Context, sessionID string, status botstatus.Status, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projections[sessionID]
	p.SessionID = sessionID
	p.Status = status
	p.UpdatedAt = updatedAt
	m.projections[sessionID] = p
	return nil
}

func (m *Memory) LastTranscriptActivity(_ context.Context, sessionID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.transcripts[sessionID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// RunInTx serializes transactions and rolls back every table when fn fails.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bots        map[string]repository.BotSession
	ledger      []repository.UsageLedgerEntry
	summaries   map[summaryKey]repository.UsageSummary
	projections map[string]repository.SessionProjection
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memorySnapshot{
		bots:        maps.Clone(m.bots),
		ledger:      slices.Clone(m.ledger),
		summaries:   maps.Clone(m.summaries),
		projections: maps.Clone(m.projections),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots = s.bots
	m.ledger = s.ledger
	m.summaries = s.summaries
	m.projections = s.projections
}
