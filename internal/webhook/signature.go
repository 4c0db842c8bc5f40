package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
)

const (
	SignatureHeader = "x-signature"
	TimestampHeader = "x-timestamp"

	signaturePrefix = "v1="
)

var (
	ErrMissingSignature = errors.New("webhook signature missing")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clock.Clock
}

// NewVerifier returns a verifier that accepts everything when secret is
// empty. A zero tolerance disables the timestamp window check.
func NewVerifier(secret string, tolerance time.Duration, clk clock.Clock) *Verifier {
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		clock:     clk,
	}
}

func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign returns the x-signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(digest([]byte(secret), timestamp, body))
}

func digest(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func (v *Verifier) Verify(h http.Header, body []byte) error {
	if !v.Enabled() {
		return nil
	}
	header := strings.TrimSpace(h.Get(SignatureHeader))
	timestamp := strings.TrimSpace(h.Get(TimestampHeader))
	if header == "" || timestamp == "" {
		return ErrMissingSignature
	}

	expected := digest(v.secret, timestamp, body)
	if !matchesAny(header, expected) {
		return ErrInvalidSignature
	}

	if v.tolerance > 0 {
		secs, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not unix seconds", ErrStaleTimestamp, timestamp)
		}
		skew := v.clock.Now().Sub(time.Unix(secs, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return fmt.Errorf("%w: skew %s exceeds %s", ErrStaleTimestamp, skew.Round(time.Second), v.tolerance)
		}
	}
	return nil
}

// matchesAny checks every v1= entry; providers send several during secret rotation.
func matchesAny(header string, expected []byte) bool {
	for _, part := range strings.FieldsFunc(header, func(r rune) bool { return r == ',' || r == ' ' }) {
		hexSig, ok := strings.CutPrefix(part, signaturePrefix)
		if !ok {
			continue
		}
		got, err := hex.DecodeString(hexSig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}
