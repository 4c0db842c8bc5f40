package webhook

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func signedHeader(secret string, at time.Time, body []byte) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(TimestampHeader, ts)
	h.Set(SignatureHeader, Sign(secret, ts, body))
	return h
}

func TestVerify_Valid(t *testing.T) {
	v := NewVerifier("shh", 5*time.Minute, testclock.NewClock(now))
	body := []byte(`{"event":"bot.status_change"}`)
	assert.NoError(t, v.Verify(signedHeader("shh", now, body), body))
}

func TestVerify_TamperedBody(t *testing.T) {
	v := NewVerifier("shh", 5*time.Minute, testclock.NewClock(now))
	h := signedHeader("shh", now, []byte(`{"a":1}`))
	assert.ErrorIs(t, v.Verify(h, []byte(`{"a":2}`)), ErrInvalidSignature)
}

func TestVerify_MismatchedTimestamp(t *testing.T) {
	v := NewVerifier("shh", 0, testclock.NewClock(now))
	body := []byte(`{}`)
	h := signedHeader("shh", now, body)
	h.Set(TimestampHeader, strconv.FormatInt(now.Unix()+1, 10))
	assert.ErrorIs(t, v.Verify(h, body), ErrInvalidSignature)
}

func TestVerify_MissingHeaders(t *testing.T) {
	v := NewVerifier("shh", 0, testclock.NewClock(now))
	assert.ErrorIs(t, v.Verify(http.Header{}, []byte(`{}`)), ErrMissingSignature)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	v := NewVerifier("shh", 5*time.Minute, testclock.NewClock(now))
	body := []byte(`{}`)
	assert.ErrorIs(t, v.Verify(signedHeader("shh", now.Add(-10*time.Minute), body), body), ErrStaleTimestamp)
	assert.NoError(t, v.Verify(signedHeader("shh", now.Add(4*time.Minute), body), body))
}

func TestVerify_Disabled(t *testing.T) {
	v := NewVerifier("", 5*time.Minute, testclock.NewClock(now))
	assert.NoError(t, v.Verify(http.Header{}, []byte(`anything`)))
}

func TestVerify_RotatedSignatures(t *testing.T) {
	v := NewVerifier("new", 0, testclock.NewClock(now))
	body := []byte(`{}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	h := http.Header{}
	h.Set(TimestampHeader, ts)
	h.Set(SignatureHeader, Sign("old", ts, body)+", "+Sign("new", ts, body))
	assert.NoError(t, v.Verify(h, body))
}
