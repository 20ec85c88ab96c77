package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	idsCheckedGlobal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "groupscan_ids_checked_global",
		Help: "IDs checked by all scanner processes sharing the progress key",
	})

	mirrorFlushErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupscan_progress_flush_errors_total",
		Help: "Failed flushes of the local progress count to Redis",
	})
)

// flushTimeout bounds the final flush after the scan context is cancelled.
const flushTimeout = 2 * time.Second

// RedisMirror pushes the growth of a Local counter to a shared Redis
// counter so several scanner processes can report one total.
type RedisMirror struct {
	redis  *redis.Client
	key    string
	local  *Local
	logger zerolog.Logger

	mu      sync.Mutex
	flushed int64
	global  int64
}

// NewRedisMirror creates a mirror of local under key. An empty key uses DefaultKey.
func NewRedisMirror(redisClient *redis.Client, key string, local *Local, logger zerolog.Logger) *RedisMirror {
	if key == "" {
		key = DefaultKey
	}
	return &RedisMirror{
		redis:  redisClient,
		key:    key,
		local:  local,
		logger: logger,
	}
}

// Flush adds everything counted locally since the previous flush to the
// shared counter and returns the new global total.
func (m *RedisMirror) Flush(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.local.Load()
	delta := current - m.flushed

	lastUpdateJSON, err := json.Marshal(time.Now())
	if err != nil {
		return 0, fmt.Errorf("marshal last update: %w", err)
	}

	pipe := m.redis.Pipeline()
	incr := pipe.IncrBy(ctx, m.key+suffixChecked, delta)
	if delta > 0 {
		pipe.Set(ctx, m.key+suffixLastUpdate, lastUpdateJSON, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		mirrorFlushErrorsTotal.Inc()
		return 0, fmt.Errorf("flush progress to redis: %w", err)
	}

	m.flushed = current
	m.global = incr.Val()
	idsCheckedGlobal.Set(float64(m.global))

	m.logger.Debug().
		Int64("delta", delta).
		Int64("global", m.global).
		Msg("Progress flushed")

	return m.global, nil
}

// Global returns the total seen at the last successful flush.
func (m *RedisMirror) Global() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global
}

// GetSnapshot reads the shared state from Redis. When nothing has been
// flushed yet the global total is zero and LastUpdate is the zero time.
func (m *RedisMirror) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	global, err := m.redis.Get(ctx, m.key+suffixChecked).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get checked total: %w", err)
	}

	snap := &Snapshot{Local: m.local.Load(), Global: global}

	lastUpdateStr, err := m.redis.Get(ctx, m.key+suffixLastUpdate).Result()
	if errors.Is(err, redis.Nil) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if err := json.Unmarshal([]byte(lastUpdateStr), &snap.LastUpdate); err != nil {
		return nil, fmt.Errorf("parse last update: %w", err)
	}
	return snap, nil
}

// Run flushes every interval until ctx is done, then flushes once more so
// the final batches of this process are not lost. Flush errors are logged
// and do not stop the mirror.
func (m *RedisMirror) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Flush(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("Progress flush failed")
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			defer cancel()
			if _, err := m.Flush(flushCtx); err != nil {
				m.logger.Warn().Err(err).Msg("Final progress flush failed")
			}
			return nil
		}
	}
}
