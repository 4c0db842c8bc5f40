package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrBotNotFound is returned when the provider does not know the bot id.
	ErrBotNotFound = errors.New("provider: bot not found")
	// ErrRejected is returned for any other non-retryable 4xx response.
	ErrRejected = errors.New("provider: request rejected")
)

type CreateBotInput struct {
	MeetingURL string
	WebhookURL string
	BotName    string
	SessionID  string
}

// Status is the provider's view of a bot at the time of the call.
type Status struct {
	BotID       string
	Code        string
	SubCode     string
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type Client interface {
	CreateBot(ctx context.Context, input CreateBotInput) (string, error)
	GetBot(ctx context.Context, botID string) (*Status, error)
	StopBot(ctx context.Context, botID string) error
}

type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrBotNotFound
	case e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests:
		return ErrRejected
	default:
		return nil
	}
}

// IsTransient reports whether err is worth retrying: network failures, 429s
// and 5xx responses. Caller cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
