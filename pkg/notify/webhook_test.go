package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = &RetryConfig{
	MaxAttempts:       3,
	InitialBackoff:    time.Millisecond,
	MaxBackoff:        5 * time.Millisecond,
	BackoffMultiplier: 2,
}

// webhookServer answers with the given statuses in order, then 204.
func webhookServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32, chan webhookPayload) {
	t.Helper()
	var calls atomic.Int32
	bodies := make(chan webhookPayload, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var p webhookPayload
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		bodies <- p

		if n <= len(statuses) {
			if statuses[n-1] == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "0.001")
			}
			w.WriteHeader(statuses[n-1])
			io.WriteString(w, `{"message":"nope"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, bodies
}

func newTestWebhook(t *testing.T, url string) *Webhook {
	t.Helper()
	w, err := NewWebhook(WebhookConfig{URL: url, Username: "scanner", Retry: fastRetry}, zerolog.Nop())
	require.NoError(t, err)
	return w
}

func TestWebhook_Payload(t *testing.T) {
	srv, calls, bodies := webhookServer(t)
	w := newTestWebhook(t, srv.URL)

	found := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := w.Notify(context.Background(), Discovery{GroupID: 555, Name: "Lost Group", MemberCount: 12, FoundAt: found})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	want := webhookPayload{
		Username: "scanner",
		Embeds: []embed{{
			Title: "Lost Group",
			URL:   "https://www.roblox.com/groups/555",
			Color: embedColor,
			Fields: []embedField{
				{Name: "Group ID", Value: "555", Inline: true},
				{Name: "Members", Value: "12", Inline: true},
			},
			Timestamp: "2024-05-01T12:00:00Z",
		}},
	}
	if diff := cmp.Diff(want, <-bodies); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhook_Retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int32
		wantErr   error
		wantClass ErrorClass
	}{
		{name: "server error then success", statuses: []int{500}, wantCalls: 2},
		{name: "rate limited then success", statuses: []int{429}, wantCalls: 2},
		{name: "client error not retried", statuses: []int{404}, wantCalls: 1, wantClass: ErrorClassClient},
		{name: "server errors exhaust", statuses: []int{502, 502, 502}, wantCalls: 3, wantErr: ErrRetryExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls, _ := webhookServer(t, tt.statuses...)
			w := newTestWebhook(t, srv.URL)

			err := w.Notify(context.Background(), Discovery{GroupID: 1, Name: "g"})
			assert.Equal(t, tt.wantCalls, calls.Load())

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantClass != "":
				var whErr *WebhookError
				require.True(t, errors.As(err, &whErr), "error %v is not a WebhookError", err)
				assert.Equal(t, tt.wantClass, whErr.ErrorClass)
				assert.Equal(t, "{\"message\":\"nope\"}", whErr.Message)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebhook_ContextCancelled(t *testing.T) {
	srv, _, _ := webhookServer(t, 500, 500, 500)
	w, err := NewWebhook(WebhookConfig{
		URL:   srv.URL,
		Retry: &RetryConfig{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1},
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = w.Notify(ctx, Discovery{GroupID: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorClass
	}{
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.code); got != tt.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"soon", 0},
		{"-1", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass("unknown"), false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%v) = %v, want %v", tt.class, got, tt.want)
		}
	}
}
