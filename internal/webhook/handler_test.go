package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxseedlab/botledger/internal/alert"
	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/config"
	"github.com/foxseedlab/botledger/internal/events"
	"github.com/foxseedlab/botledger/internal/ledger"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/reconciler"
	"github.com/foxseedlab/botledger/internal/repository"
	"github.com/foxseedlab/botledger/internal/repository/repositorytest"
)

const secret = "whsec"

func newTestHandler(t *testing.T) (*Handler, *repositorytest.Memory) {
	t.Helper()
	repo := repositorytest.NewMemory()
	repo.PutBotSession(repository.BotSession{
		BotID:          "b1",
		SessionID:      "s1",
		UserID:         "u1",
		OrganizationID: "o1",
		Status:         botstatus.Joining,
	})
	clk := testclock.NewClock(now)
	m := metrics.NewNop()
	cfg := &config.Config{UnknownStatusPolicy: config.UnknownStatusLog}
	rec := reconciler.New(cfg, repo, ledger.New(time.UTC), events.NopPublisher{}, alert.NopAlerter{}, m, clk)
	return NewHandler(NewVerifier(secret, 5*time.Minute, clk), repo, rec, m, clk), repo
}

func statusBody(botID, sessionID, code string) []byte {
	meta := ""
	if sessionID != "" {
		meta = `,"metadata":{"session_id":"` + sessionID + `"}`
	}
	return []byte(`{"event":"bot.status_change","data":{"data":{"code":"` + code + `","updated_at":"2025-03-10T12:00:00Z"},"bot":{"id":"` + botID + `"` + meta + `}}}`)
}

func post(h http.Handler, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bot", bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func storedBot(t *testing.T, repo *repositorytest.Memory) *repository.BotSession {
	t.Helper()
	bot, err := repo.GetBotSession(context.Background(), "b1")
	require.NoError(t, err)
	require.NotNil(t, bot)
	return bot
}

func TestHandler_AppliesSignedEvent(t *testing.T) {
	h, repo := newTestHandler(t)
	body := statusBody("b1", "s1", "in_call_recording")

	rec := post(h, body, signedHeader(secret, now, body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "b1", resp.BotID)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "bot.status_change", resp.Event)

	bot := storedBot(t, repo)
	assert.Equal(t, botstatus.Recording, bot.Status)
	require.NotNil(t, bot.RecordingStartedAt)
	assert.True(t, bot.RecordingStartedAt.Equal(now))

	evts := repo.WebhookEvents()
	require.Len(t, evts, 1)
	assert.True(t, evts[0].Processed)
	assert.Empty(t, evts[0].ProcessingError)
}

func TestHandler_RejectsTamperedBody(t *testing.T) {
	h, repo := newTestHandler(t)
	signed := statusBody("b1", "s1", "in_call_recording")
	tampered := statusBody("b1", "s1", "done")

	rec := post(h, tampered, signedHeader(secret, now, signed))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, botstatus.Joining, storedBot(t, repo).Status)
	assert.Empty(t, repo.WebhookEvents(), "rejected webhook must not be audited")
	assert.Zero(t, repo.LedgerInserts)
}

func TestHandler_RejectsMismatchedTimestamp(t *testing.T) {
	h, _ := newTestHandler(t)
	body := statusBody("b1", "s1", "done")
	header := signedHeader(secret, now, body)
	header.Set(TimestampHeader, strconv.FormatInt(now.Unix()-30, 10))

	assert.Equal(t, http.StatusUnauthorized, post(h, body, header).Code)
}

func TestHandler_FallsBackToStoredSession(t *testing.T) {
	h, repo := newTestHandler(t)
	body := statusBody("b1", "", "in_waiting_room")

	resp := decode(t, post(h, body, signedHeader(secret, now, body)))
	assert.Equal(t, "s1", resp.SessionID)
	evts := repo.WebhookEvents()
	require.Len(t, evts, 1)
	assert.Equal(t, "s1", evts[0].SessionID)
}

func TestHandler_UnknownBotStillMarksProcessed(t *testing.T) {
	h, repo := newTestHandler(t)
	body := statusBody("ghost", "", "done")

	rec := post(h, body, signedHeader(secret, now, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode(t, rec).Success)

	evts := repo.WebhookEvents()
	require.Len(t, evts, 1)
	assert.True(t, evts[0].Processed)
	assert.NotEmpty(t, evts[0].ProcessingError)
}

func TestHandler_ResponseAlwaysCarriesSessionID(t *testing.T) {
	h, _ := newTestHandler(t)
	body := statusBody("ghost", "", "done")

	rec := post(h, body, signedHeader(secret, now, body))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw), rec.Body.String())
	for _, key := range []string{"success", "botId", "sessionId", "event", "processingTime"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "", raw["sessionId"])
}

func TestHandler_DuplicateDeliveryIsIdempotent(t *testing.T) {
	h, repo := newTestHandler(t)
	for _, code := range []string{"in_call_recording", "done", "done"} {
		body := statusBody("b1", "s1", code)
		require.Equal(t, http.StatusOK, post(h, body, signedHeader(secret, now, body)).Code, code)
	}
	assert.LessOrEqual(t, repo.LedgerInserts, 1)
	assert.Len(t, repo.WebhookEvents(), 3)
}

func TestHandler_MalformedPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	body := []byte(`{"event":"bot.status_change"}`)
	assert.Equal(t, http.StatusBadRequest, post(h, body, signedHeader(secret, now, body)).Code)
}
