// Package scanner runs the workers that scan group IDs.
//
// Each Worker owns a Tracker over its share of the ID space and one
// connection at a time. It draws fixed-size batches, queries ownership for
// the whole batch, applies the decision policy to every ID, and asks for the
// full record of a tracked group only when it appears ownerless. Any
// protocol failure discards the connection and the worker reconnects
// immediately; the run ends when too few IDs remain for a batch or when the
// context is cancelled.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/group-scanner/pkg/groupapi"
	"github.com/Sternrassler/group-scanner/pkg/idspace"
	"github.com/Sternrassler/group-scanner/pkg/logging"
	"github.com/Sternrassler/group-scanner/pkg/notify"
	"github.com/Sternrassler/group-scanner/pkg/policy"
	"github.com/Sternrassler/group-scanner/pkg/progress"
)

// Prometheus metrics for the scan loop.
var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupscan_batches_total",
		Help: "Batches fully applied by all workers",
	})

	retiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupscan_retired_total",
		Help: "IDs retired by reason",
	}, []string{"reason"})

	trackedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupscan_tracked_total",
		Help: "IDs confirmed owned and tracked",
	})

	discoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupscan_discoveries_total",
		Help: "Claimable groups reported",
	})

	connectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupscan_connect_failures_total",
		Help: "Failed attempts to acquire a connection",
	})

	protocolFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupscan_protocol_failures_total",
		Help: "Connections discarded after a protocol failure, by error class",
	}, []string{"class"})

	activeIDs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groupscan_active_ids",
		Help: "IDs still scanned, per worker",
	}, []string{"worker"})
)

// Retirement reasons used as metric labels.
const (
	reasonAbsent      = "absent"
	reasonOwnerless   = "ownerless"
	reasonUnclaimable = "unclaimable"
	reasonReported    = "reported"
)

// Provider opens a fresh connection to the API, through proxy when it is not nil.
type Provider interface {
	Acquire(ctx context.Context, proxy *url.URL) (net.Conn, error)
}

// ProxySource yields the proxy for the next connection, or nil for a direct one.
type ProxySource interface {
	Next() *url.URL
}

// DetailFetcher fetches the full record of one group.
type DetailFetcher interface {
	Detail(id uint64) (*groupapi.GroupDetail, error)
}

// Config is the per-worker scan configuration.
type Config struct {
	// Index identifies the worker in logs and discoveries.
	Index int

	// Ranges is the ID space assigned to the worker.
	Ranges []idspace.Range

	// BatchSize is the number of IDs per batch request.
	BatchSize int

	// Cutoff keeps IDs below it when the API omits them. Zero disables it.
	Cutoff uint64

	// Host is sent in the Host header. Defaults to groupapi.DefaultHost.
	Host string

	// StartOffset positions the cursor before the first batch.
	StartOffset int
}

// Deps are the collaborators of a Worker. Only Provider is required.
type Deps struct {
	Provider Provider
	Proxies  ProxySource
	Barrier  *Barrier
	Gate     *Gate
	Counter  progress.Counter
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Worker scans one share of the ID space.
type Worker struct {
	cfg     Config
	tracker *idspace.Tracker
	deps    Deps
	logger  zerolog.Logger
	label   string
}

// NewWorker builds a worker and its tracker.
func NewWorker(cfg Config, deps Deps) (*Worker, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("worker %d: batch size must be positive (got %d)", cfg.Index, cfg.BatchSize)
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("worker %d: connection provider is required", cfg.Index)
	}

	tracker := idspace.NewTracker(cfg.Ranges)
	tracker.Seek(cfg.StartOffset)

	label := fmt.Sprint(cfg.Index)
	activeIDs.WithLabelValues(label).Set(float64(tracker.Len()))

	return &Worker{
		cfg:     cfg,
		tracker: tracker,
		deps:    deps,
		logger:  logging.ForWorker(deps.Logger, cfg.Index),
		label:   label,
	}, nil
}

// Tracker exposes the worker's ID state. It must not be used while Run is active.
func (w *Worker) Tracker() *idspace.Tracker {
	return w.tracker
}

// Run waits for the launch barrier and the start gate, then scans until
// fewer than BatchSize IDs remain (returning nil) or ctx is cancelled
// (returning ctx.Err()). Cancellation closes the current connection at once.
func (w *Worker) Run(ctx context.Context) error {
	if w.deps.Barrier != nil {
		if err := w.deps.Barrier.Wait(ctx); err != nil {
			return err
		}
	}
	if w.deps.Gate != nil {
		if err := w.deps.Gate.Wait(ctx); err != nil {
			return err
		}
	}

	w.logger.Info().
		Int("active", w.tracker.Len()).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Worker started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.exhausted() {
			w.finished()
			return nil
		}

		conn, err := w.acquire(ctx)
		if err != nil {
			return err
		}

		err = w.session(ctx, conn)
		conn.Close()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			w.finished()
			return nil
		}

		class := groupapi.Classify(err)
		protocolFailuresTotal.WithLabelValues(string(class)).Inc()
		w.logger.Debug().
			Err(err).
			Str("error_class", string(class)).
			Msg("Connection discarded")
	}
}

func (w *Worker) exhausted() bool {
	return w.tracker.Len() < w.cfg.BatchSize
}

func (w *Worker) finished() {
	w.logger.Info().
		Int("active", w.tracker.Len()).
		Int("tracked", w.tracker.TrackedLen()).
		Msg("Worker finished: active set smaller than batch size")
}

// acquire retries without delay until a connection is open or ctx is done.
func (w *Worker) acquire(ctx context.Context) (net.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var proxy *url.URL
		if w.deps.Proxies != nil {
			proxy = w.deps.Proxies.Next()
		}

		conn, err := w.deps.Provider.Acquire(ctx, proxy)
		if err == nil {
			return conn, nil
		}

		connectFailuresTotal.Inc()
		ev := w.logger.Debug().Err(err)
		if proxy != nil {
			ev = ev.Str("proxy", proxy.Redacted())
		}
		ev.Msg("Connect failed, retrying")
	}
}

// session scans over conn until the worker is exhausted (nil) or a request fails.
func (w *Worker) session(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client := groupapi.NewClient(conn, w.cfg.Host)
	for !w.exhausted() {
		ids := w.tracker.Next(w.cfg.BatchSize)

		result, err := client.Batch(ids)
		if err != nil {
			return fmt.Errorf("batch of %d: %w", len(ids), err)
		}

		if err := w.apply(ctx, client, ids, result); err != nil {
			return err
		}

		batchesTotal.Inc()
		activeIDs.WithLabelValues(w.label).Set(float64(w.tracker.Len()))
		if w.deps.Counter != nil {
			w.deps.Counter.Add(int64(len(ids)))
		}
	}
	return nil
}

// apply runs the decision policy over one batch, in order. A failed detail
// query aborts the batch; IDs after it are seen again on the next wrap.
func (w *Worker) apply(ctx context.Context, details DetailFetcher, ids []uint64, result groupapi.BatchResult) error {
	for _, id := range ids {
		tracked := w.tracker.IsTracked(id)
		obs := policy.Observe(result, id)

		switch policy.Decide(id, tracked, obs, w.cfg.Cutoff) {
		case policy.Keep:
		case policy.Track:
			if w.tracker.MarkTracked(id) {
				trackedTotal.Inc()
			}
		case policy.Retire:
			reason := reasonOwnerless
			if !obs.Present {
				reason = reasonAbsent
			}
			w.retire(id, reason)
		case policy.Inspect:
			detail, err := details.Detail(id)
			if err != nil {
				return fmt.Errorf("detail of %d: %w", id, err)
			}
			if policy.Resolve(detail) == policy.Report {
				w.report(ctx, id, detail)
				w.retire(id, reasonReported)
			} else {
				w.retire(id, reasonUnclaimable)
			}
		}
	}
	return nil
}

func (w *Worker) retire(id uint64, reason string) {
	if w.tracker.Retire(id) {
		retiredTotal.WithLabelValues(reason).Inc()
	}
}

func (w *Worker) report(ctx context.Context, id uint64, detail *groupapi.GroupDetail) {
	if detail.ID == 0 {
		detail.ID = id
	}
	discoveriesTotal.Inc()

	d := notify.NewDiscovery(detail, w.cfg.Index)
	w.logger.Info().
		Uint64("group_id", id).
		Str("name", detail.Name).
		Int("members", detail.MemberCount).
		Msg("Claimable group found")

	if w.deps.Notifier == nil {
		return
	}
	if err := w.deps.Notifier.Notify(ctx, d); err != nil {
		ev := w.logger.Warn()
		if errors.Is(err, notify.ErrQueueFull) {
			ev = w.logger.Error()
		}
		ev.Err(err).Uint64("group_id", id).Msg("Discovery notification failed")
	}
}
