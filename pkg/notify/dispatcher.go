package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	dispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groupscan_notify_queue_depth",
		Help: "Discoveries waiting for asynchronous delivery",
	})

	dispatchDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupscan_notify_dropped_total",
		Help: "Discoveries dropped because the delivery queue was full",
	})
)

// DefaultQueueSize is the Dispatcher queue capacity used when none is given.
const DefaultQueueSize = 256

// drainTimeout bounds delivery of queued discoveries after shutdown starts.
const drainTimeout = 5 * time.Second

// Dispatcher decouples workers from slow sinks. Notify enqueues and returns
// immediately; Run delivers queued discoveries to the wrapped notifier one at
// a time.
type Dispatcher struct {
	next   Notifier
	queue  chan Discovery
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher in front of next with room for size
// pending discoveries.
func NewDispatcher(next Notifier, size int, logger zerolog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		next:   next,
		queue:  make(chan Discovery, size),
		logger: logger,
	}
}

// Notify enqueues d. It returns ErrQueueFull instead of blocking when the
// queue is at capacity.
func (p *Dispatcher) Notify(_ context.Context, d Discovery) error {
	select {
	case p.queue <- d:
		dispatchQueueDepth.Inc()
		return nil
	default:
		dispatchDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Run delivers queued discoveries until ctx is done, then gives the
// discoveries still queued a bounded grace period to be delivered.
func (p *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case d := <-p.queue:
			if ctx.Err() != nil {
				p.drain(ctx, d)
				return nil
			}
			p.deliver(ctx, d)
		case <-ctx.Done():
			p.drain(ctx)
			return nil
		}
	}
}

func (p *Dispatcher) drain(ctx context.Context, pending ...Discovery) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	for _, d := range pending {
		p.deliver(drainCtx, d)
	}

	for {
		select {
		case d := <-p.queue:
			p.deliver(drainCtx, d)
		default:
			return
		}
	}
}

func (p *Dispatcher) deliver(ctx context.Context, d Discovery) {
	dispatchQueueDepth.Dec()
	if err := p.next.Notify(ctx, d); err != nil {
		p.logger.Warn().
			Err(err).
			Uint64("group_id", d.GroupID).
			Msg("Discovery notification failed")
	}
}
