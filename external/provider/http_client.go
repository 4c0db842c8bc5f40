package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/foxseedlab/botledger/internal/botstatus"
	"github.com/foxseedlab/botledger/internal/metrics"
	"github.com/foxseedlab/botledger/internal/provider"
)

const maxErrorBodyBytes = 4 << 10

type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

type HTTPClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	clock       clock.Clock
	metrics     *metrics.Metrics
}

func NewHTTPClient(opts Options) *HTTPClient {
	return &HTTPClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		client:      &http.Client{Timeout: opts.Timeout},
		maxAttempts: max(opts.MaxAttempts, 1),
		retryDelay:  opts.RetryDelay,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
	}
}

type createBotRequest struct {
	MeetingURL string            `json:"meeting_url"`
	BotName    string            `json:"bot_name,omitempty"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type statusChange struct {
	Code      string    `json:"code"`
	SubCode   *string   `json:"sub_code"`
	CreatedAt time.Time `json:"created_at"`
}

type botResponse struct {
	ID            string         `json:"id"`
	StatusChanges []statusChange `json:"status_changes"`
}

func (c *HTTPClient) CreateBot(ctx context.Context, input provider.CreateBotInput) (string, error) {
	reqBody := createBotRequest{
		MeetingURL: input.MeetingURL,
		BotName:    input.BotName,
		WebhookURL: input.WebhookURL,
	}
	if input.SessionID != "" {
		reqBody.Metadata = map[string]string{"session_id": input.SessionID}
	}
	var resp botResponse
	if err := c.do(ctx, "create_bot", http.MethodPost, "/bot", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("provider create_bot returned no bot id")
	}
	return resp.ID, nil
}

func (c *HTTPClient) GetBot(ctx context.Context, botID string) (*provider.Status, error) {
	var resp botResponse
	if err := c.do(ctx, "get_bot", http.MethodGet, "/bot/"+url.PathEscape(botID), nil, &resp); err != nil {
		return nil, err
	}
	return toStatus(botID, resp), nil
}

func (c *HTTPClient) StopBot(ctx context.Context, botID string) error {
	return c.do(ctx, "stop_bot", http.MethodPost, "/bot/"+url.PathEscape(botID)+"/stop", nil, nil)
}

// toStatus reduces the status history to its latest entry.
func toStatus(botID string, resp botResponse) *provider.Status {
	st := &provider.Status{BotID: botID}
	if resp.ID != "" {
		st.BotID = resp.ID
	}
	if len(resp.StatusChanges) == 0 {
		return st
	}
	latest := resp.StatusChanges[0]
	for _, sc := range resp.StatusChanges[1:] {
		if !sc.CreatedAt.Before(latest.CreatedAt) {
			latest = sc
		}
	}
	st.Code = latest.Code
	if latest.SubCode != nil {
		st.SubCode = *latest.SubCode
	}
	st.UpdatedAt = latest.CreatedAt
	if botstatus.FromProviderCode(latest.Code).IsTerminal() {
		completedAt := latest.CreatedAt
		st.CompletedAt = &completedAt
	}
	return st
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return c.once(ctx, op, method, path, payload, out)
		},
		IsFatalError: func(err error) bool {
			return !provider.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			slog.Warn("provider request failed", "op", op, "attempt", attempt, "error", err)
		},
		Attempts:    c.maxAttempts,
		Delay:       c.retryDelay,
		MaxDelay:    c.retryDelay * 8,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		if lastErr != nil {
			err = lastErr
		}
		c.metrics.ProviderRequestsTotal.WithLabelValues(op, "exhausted").Inc()
		return fmt.Errorf("provider %s failed after retrying: %w", op, err)
	}
	if err != nil {
		c.metrics.ProviderRequestsTotal.WithLabelValues(op, "rejected").Inc()
		return err
	}
	c.metrics.ProviderRequestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *HTTPClient) once(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &provider.APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider %s response: %w", op, err)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
