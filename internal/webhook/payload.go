package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedPayload = errors.New("webhook payload malformed")

type payload struct {
	Event string      `json:"event"`
	Data  payloadData `json:"data"`
}

type payloadData struct {
	Data struct {
		Code      string `json:"code"`
		SubCode   string `json:"sub_code"`
		UpdatedAt string `json:"updated_at"`
	} `json:"data"`
	Bot struct {
		ID       string `json:"id"`
		Metadata struct {
			SessionID string `json:"session_id"`
		} `json:"metadata"`
	} `json:"bot"`
}

// Notification is a provider event reduced to what the reconciler needs.
type Notification struct {
	Event      string
	BotID      string
	SessionID  string
	Code       string
	SubCode    string
	OccurredAt time.Time
}

// HasStatus reports whether the event carries a status code. Events without
// one are audited but not reconciled.
func (n Notification) HasStatus() bool {
	return n.Code != ""
}

func ParsePayload(body []byte) (Notification, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(p.Event) == "" {
		return Notification{}, fmt.Errorf("%w: event is empty", ErrMalformedPayload)
	}
	botID := strings.TrimSpace(p.Data.Bot.ID)
	if botID == "" {
		return Notification{}, fmt.Errorf("%w: data.bot.id is empty", ErrMalformedPayload)
	}

	n := Notification{
		Event:     p.Event,
		BotID:     botID,
		SessionID: strings.TrimSpace(p.Data.Bot.Metadata.SessionID),
		Code:      strings.TrimSpace(p.Data.Data.Code),
		SubCode:   strings.TrimSpace(p.Data.Data.SubCode),
	}
	if ts := strings.TrimSpace(p.Data.Data.UpdatedAt); ts != "" {
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: updated_at %q: %v", ErrMalformedPayload, ts, err)
		}
		n.OccurredAt = at
	}
	return n, nil
}
