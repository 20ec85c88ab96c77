package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// embedColor is the sidebar color of discovery embeds.
const embedColor = 0x2ecc71

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	// URL is the webhook endpoint (REQUIRED).
	URL string

	// Username overrides the display name of the posting bot.
	Username string

	// Rate is the maximum number of messages per second. Zero means unlimited.
	Rate float64

	// Timeout bounds each HTTP attempt. Defaults to 10s.
	Timeout time.Duration

	// Retry, when set, replaces the per-class retry configuration.
	Retry *RetryConfig
}

// Webhook posts each discovery as a chat embed (Discord-compatible payload).
type Webhook struct {
	url        string
	username   string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      func(ErrorClass) RetryConfig
	logger     zerolog.Logger
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content,omitempty"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Title     string       `json:"title"`
	URL       string       `json:"url"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Timestamp string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig, logger zerolog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	retry := RetryConfigForErrorClass
	if cfg.Retry != nil {
		fixed := *cfg.Retry
		retry = func(ErrorClass) RetryConfig { return fixed }
	}

	return &Webhook{
		url:        cfg.URL,
		username:   cfg.Username,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		retry:      retry,
		logger:     logger,
	}, nil
}

// Notify posts d, waiting for the rate limiter and retrying transient failures.
func (w *Webhook) Notify(ctx context.Context, d Discovery) error {
	body, err := json.Marshal(w.payload(d))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	err = retryWithBackoff(ctx, w.logger, w.retry, func() error {
		if err := w.limiter.Wait(ctx); err != nil {
			return &WebhookError{ErrorClass: ErrorClassNetwork, Message: "rate limiter", Err: err}
		}
		return w.post(ctx, body)
	})
	observe("webhook", err)
	if err != nil {
		return fmt.Errorf("post discovery %d: %w", d.GroupID, err)
	}
	return nil
}

func (w *Webhook) payload(d Discovery) webhookPayload {
	return webhookPayload{
		Username: w.username,
		Embeds: []embed{{
			Title: d.Name,
			URL:   d.URL(),
			Color: embedColor,
			Fields: []embedField{
				{Name: "Group ID", Value: strconv.FormatUint(d.GroupID, 10), Inline: true},
				{Name: "Members", Value: strconv.Itoa(d.MemberCount), Inline: true},
			},
			Timestamp: d.FoundAt.Format(time.RFC3339),
		}},
	}
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &WebhookError{ErrorClass: ErrorClassClient, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &WebhookError{ErrorClass: ErrorClassNetwork, Message: "send request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &WebhookError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    strings.TrimSpace(string(msg)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter reads a Retry-After header given in (possibly fractional) seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
