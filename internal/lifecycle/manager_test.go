package lifecycle

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/provider"
	"github.com/foxseedlab/botledger/internal/repository"
	"github.com/foxseedlab/botledger/internal/repository/repositorytest"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type mockProvider struct {
	createCalls []provider.CreateBotInput
	stopCalls   []string
	createErr   error
	stopErr     error
}

func (m *mockProvider) CreateBot(_ context.Context, input provider.CreateBotInput) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	m.createCalls = append(m.createCalls, input)
	return "bot-1", nil
}

func (m *mockProvider) GetBot(_ context.Context, botID string) (*provider.Status, error) {
	return &provider.Status{BotID: botID}, nil
}

func (m *mockProvider) StopBot(_ context.Context, botID string) error {
	m.stopCalls = append(m.stopCalls, botID)
	return m.stopErr
}

func newTestManager(limit int64) (*Manager, *repositorytest.Memory, *mockProvider) {
	cfg := &config.Config{
		PublicWebhookURL:   "https://botledger.example.com/webhooks/bot",
		ProviderBotName:    "Notetaker",
		MonthlyMinuteLimit: limit,
	}
	repo := repositorytest.NewMemory()
	pc := &mockProvider{}
	return NewManager(cfg, repo, pc, ledger.New(time.UTC), testclock.NewClock(now)), repo, pc
}

func validRequest() BotRequest {
	return BotRequest{
		SessionID:      "s1",
		UserID:         "u1",
		OrganizationID: "o1",
		MeetingURL:     "https://meet.example.com/abc-defg-hij",
	}
}

func seedUsage(t *testing.T, repo *repositorytest.Memory, period time.Time, seconds, minutes int64) {
	t.Helper()
	require.NoError(t, repo.AddUsageSummaries(context.Background(), []repository.UsageSummary{{
		OrganizationID:  "o1",
		UserID:          "u2",
		BillingPeriod:   period,
		TotalSeconds:    seconds,
		BillableMinutes: minutes,
	}}))
}

func TestRequestBot_CreatesSession(t *testing.T) {
	m, repo, pc := newTestManager(0)

	s, err := m.RequestBot(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "bot-1", s.BotID)
	assert.Equal(t, botstatus.Created, s.Status)

	require.Len(t, pc.createCalls, 1)
	call := pc.createCalls[0]
	assert.Equal(t, "https://botledger.example.com/webhooks/bot", call.WebhookURL)
	assert.Equal(t, "s1", call.SessionID)
	assert.Equal(t, "Notetaker", call.BotName)

	stored, err := repo.GetBotSession(context.Background(), "bot-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.CreatedAt.Equal(now))
}

func TestRequestBot_RejectsInvalidRequest(t *testing.T) {
	m, _, pc := newTestManager(0)
	req := validRequest()
	req.MeetingURL = "not a url"

	_, err := m.RequestBot(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, pc.createCalls)
}

func TestRequestBot_RefusesSecondActiveBot(t *testing.T) {
	m, repo, pc := newTestManager(0)
	repo.PutBotSession(repository.BotSession{BotID: "existing", SessionID: "s1", Status: botstatus.Recording})

	s, err := m.RequestBot(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrBotAlreadyActive)
	require.NotNil(t, s)
	assert.Equal(t, "existing", s.BotID)
	assert.Empty(t, pc.createCalls)
}

func TestRequestBot_AllowsNewBotAfterTerminal(t *testing.T) {
	m, repo, _ := newTestManager(0)
	repo.PutBotSession(repository.BotSession{BotID: "old", SessionID: "s1", Status: botstatus.Failed})

	_, err := m.RequestBot(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestRequestBot_UsageLimit(t *testing.T) {
	m, repo, pc := newTestManager(10)
	seedUsage(t, repo, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 600, 10)

	_, err := m.RequestBot(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrUsageLimitExceeded)
	assert.Empty(t, pc.createCalls)

	proj, ok := repo.Projection("s1")
	require.True(t, ok)
	assert.Equal(t, botstatus.LimitExceeded, proj.Status)
}

func TestRequestBot_UsageLimitKeepsBilledProjection(t *testing.T) {
	m, repo, _ := newTestManager(10)
	ctx := context.Background()
	require.NoError(t, repo.ProjectSession(ctx, repository.SessionProjection{
		SessionID:                "s1",
		Status:                   botstatus.Completed,
		RecordingDurationSeconds: 1800,
		BillableMinutes:          30,
		BillingAmountCents:       300,
		UpdatedAt:                now.Add(-time.Hour),
	}))
	seedUsage(t, repo, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), 1800, 30)

	_, err := m.RequestBot(ctx, validRequest())
	require.ErrorIs(t, err, ErrUsageLimitExceeded)

	proj, _ := repo.Projection("s1")
	assert.Equal(t, botstatus.LimitExceeded, proj.Status)
	assert.Equal(t, int64(1800), proj.RecordingDurationSeconds)
	assert.Equal(t, int64(30), proj.BillableMinutes)
	assert.Equal(t, int64(300), proj.BillingAmountCents)
	assert.True(t, proj.UpdatedAt.Equal(now))
}

func TestRequestBot_UsageFromPreviousPeriodDoesNotCount(t *testing.T) {
	m, repo, _ := newTestManager(10)
	seedUsage(t, repo, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), 30000, 500)

	_, err := m.RequestBot(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestRequestBot_ProviderFailure(t *testing.T) {
	m, repo, pc := newTestManager(0)
	pc.createErr = &provider.APIError{Op: "create bot", StatusCode: 400, Body: "bad meeting url"}

	_, err := m.RequestBot(context.Background(), validRequest())
	assert.ErrorIs(t, err, provider.ErrRejected)

	active, err := repo.GetActiveBotSessionBySession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStopBot(t *testing.T) {
	m, repo, pc := newTestManager(0)
	ctx := context.Background()
	repo.PutBotSession(repository.BotSession{BotID: "b1", SessionID: "s1", Status: botstatus.Recording})
	repo.PutBotSession(repository.BotSession{BotID: "b2", SessionID: "s2", Status: botstatus.Completed})

	_, err := m.StopBot(ctx, "b1")
	require.NoError(t, err)
	_, err = m.StopBot(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, pc.stopCalls)

	_, err = m.StopBot(ctx, "ghost")
	assert.ErrorIs(t, err, ErrBotNotFound)

	bot, err := repo.GetBotSession(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, botstatus.Recording, bot.Status, "stop must not change status directly")
}

func TestStopBot_ProviderForgotBot(t *testing.T) {
	m, repo, pc := newTestManager(0)
	repo.PutBotSession(repository.BotSession{BotID: "b1", SessionID: "s1", Status: botstatus.Joining})
	pc.stopErr = provider.ErrBotNotFound

	s, err := m.StopBot(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, botstatus.Joining, s.Status)
}

func TestHandler_RequestAndStop(t *testing.T) {
	m, _, _ := newTestManager(0)
	h := NewHandler(m)
	router := mux.NewRouter()
	router.HandleFunc("/bots", h.RequestBot).Methods(http.MethodPost)
	router.HandleFunc("/bots/{botID}/stop", h.StopBot).Methods(http.MethodPost)

	serve := func(method, path string, body []byte) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
		return rec
	}

	body := []byte(`{"sessionId":"s1","userId":"u1","organizationId":"o1","meetingUrl":"https://meet.example.com/x"}`)
	rec := serve(http.MethodPost, "/bots", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusConflict, serve(http.MethodPost, "/bots", body).Code)
	assert.Equal(t, http.StatusAccepted, serve(http.MethodPost, "/bots/bot-1/stop", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(http.MethodPost, "/bots/missing/stop", nil).Code)
}
