// Package metrics serves the Prometheus metrics of the scanner.
// All metrics are defined in their respective packages (groupapi, transport,
// scanner, progress, notify) with promauto and registered on the default
// registry.
//
// This package provides the HTTP endpoint and documentation for all available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the scanner.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

const shutdownTimeout = 5 * time.Second

// Handler returns the mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve listens on addr and serves Handler until ctx is done, then shuts
// the server down gracefully.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	return serve(ctx, ln, logger)
}

func serve(ctx context.Context, ln net.Listener, logger zerolog.Logger) error {
	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Metrics Documentation
//
// Group API Metrics (pkg/groupapi):
//   - groupscan_requests_total{op, outcome} (Counter): Requests by operation (batch, detail) and outcome (ok, network, status, payload)
//   - groupscan_request_duration_seconds{op} (Histogram): Round-trip duration by operation
//
// Transport Metrics (pkg/transport):
//   - groupscan_dials_total{route, outcome} (Counter): Connection attempts by route (direct, http, socks5)
//
// Scan Metrics (pkg/scanner):
//   - groupscan_batches_total (Counter): Batches fully applied
//   - groupscan_retired_total{reason} (Counter): IDs retired (absent, ownerless, unclaimable, reported)
//   - groupscan_tracked_total (Counter): IDs confirmed owned
//   - groupscan_discoveries_total (Counter): Claimable groups reported
//   - groupscan_connect_failures_total (Counter): Failed connection acquisitions
//   - groupscan_protocol_failures_total{class} (Counter): Connections discarded, by error class
//   - groupscan_active_ids{worker} (Gauge): IDs still scanned per worker
//
// Progress Metrics (pkg/progress):
//   - groupscan_ids_checked_total (Counter): IDs in fully processed batches
//   - groupscan_ids_checked_global (Gauge): Total across processes sharing the Redis key
//   - groupscan_progress_flush_errors_total (Counter): Failed Redis flushes
//
// Notification Metrics (pkg/notify):
//   - groupscan_notify_total{sink, outcome} (Counter): Deliveries by sink (console, webhook, postgres)
//   - groupscan_notify_queue_depth (Gauge): Discoveries waiting for delivery
//   - groupscan_notify_dropped_total (Counter): Discoveries dropped on a full queue
//   - groupscan_webhook_retries_total{error_class} (Counter): Webhook retries
//   - groupscan_webhook_retry_exhausted_total{error_class} (Counter): Webhook deliveries abandoned
//
// Example Prometheus Queries:
//
//   # Checks per minute
//   rate(groupscan_ids_checked_total[5m]) * 60
//
//   # Share of batches failing
//   sum(rate(groupscan_protocol_failures_total[5m])) / rate(groupscan_batches_total[5m])
//
//   # Remaining work
//   sum(groupscan_active_ids)
//
//   # P95 batch latency
//   histogram_quantile(0.95, rate(groupscan_request_duration_seconds_bucket{op="batch"}[5m]))
