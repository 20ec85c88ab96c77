package progress

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reporter periodically logs how many IDs were checked and the rate in
// checks per minute since the previous line.
type Reporter struct {
	local    *Local
	mirror   *RedisMirror
	logger   zerolog.Logger
	interval time.Duration
	now      func() time.Time

	last     int64
	lastTime time.Time
}

// NewReporter creates a reporter for local. mirror may be nil; when set the
// line also carries the global total of the last flush.
func NewReporter(local *Local, mirror *RedisMirror, interval time.Duration, logger zerolog.Logger) *Reporter {
	return &Reporter{
		local:    local,
		mirror:   mirror,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Run logs one line per interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	r.lastTime = r.now()
	r.last = r.local.Load()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() float64 {
	now := r.now()
	current := r.local.Load()
	rate := PerMinute(current-r.last, now.Sub(r.lastTime))
	r.last, r.lastTime = current, now

	ev := r.logger.Info().
		Int64("checked", current).
		Float64("per_minute", rate)
	if r.mirror != nil {
		ev = ev.Int64("global", r.mirror.Global())
	}
	ev.Msg("Scan progress")
	return rate
}
