package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var testCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "groupscan_metrics_test_total",
	Help: "Counter registered by the metrics tests",
})

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

func TestHandler(t *testing.T) {
	testCounter.Add(3)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		contains   string
	}{
		{name: "health", path: "/health", wantStatus: http.StatusOK, contains: "OK"},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, contains: "groupscan_metrics_test_total 3"},
		{name: "unknown", path: "/other", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()

			Handler().ServeHTTP(w, req)

			resp := w.Result()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.wantStatus)
			}
			if tt.contains != "" && !strings.Contains(string(body), tt.contains) {
				t.Errorf("GET %s body does not contain %q", tt.path, tt.contains)
			}
		})
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, zerolog.Nop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	if err := Serve(context.Background(), "256.0.0.1:http-bogus", zerolog.Nop()); err == nil {
		t.Error("Serve() expected error for invalid address")
	}
}
