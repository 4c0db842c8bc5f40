package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	body := []byte(`{"event":"bot.status_change","data":{"data":{"code":"in_call_recording","sub_code":"","updated_at":"2025-03-10T12:00:00.000Z"},"bot":{"id":"b1","metadata":{"session_id":"s1"}}}}`)
	n, err := ParsePayload(body)
	require.NoError(t, err)
	assert.Equal(t, "b1", n.BotID)
	assert.Equal(t, "s1", n.SessionID)
	assert.Equal(t, "in_call_recording", n.Code)
	assert.Equal(t, "bot.status_change", n.Event)
	assert.True(t, n.OccurredAt.Equal(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)))
	assert.True(t, n.HasStatus())
}

func TestParsePayload_WithoutMetadata(t *testing.T) {
	n, err := ParsePayload([]byte(`{"event":"bot.status_change","data":{"data":{"code":"done"},"bot":{"id":"b1"}}}`))
	require.NoError(t, err)
	assert.Empty(t, n.SessionID)
	assert.True(t, n.OccurredAt.IsZero())
}

func TestParsePayload_Malformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `{`,
		"missing event":  `{"data":{"bot":{"id":"b1"}}}`,
		"missing bot id": `{"event":"bot.status_change","data":{"data":{"code":"done"}}}`,
		"bad timestamp":  `{"event":"bot.status_change","data":{"data":{"code":"done","updated_at":"yesterday"},"bot":{"id":"b1"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
