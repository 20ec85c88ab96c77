package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/group-scanner/pkg/config"
	"github.com/Sternrassler/group-scanner/pkg/idspace"
	"github.com/Sternrassler/group-scanner/pkg/logging"
	"github.com/Sternrassler/group-scanner/pkg/metrics"
	"github.com/Sternrassler/group-scanner/pkg/notify"
	"github.com/Sternrassler/group-scanner/pkg/progress"
	"github.com/Sternrassler/group-scanner/pkg/scanner"
	"github.com/Sternrassler/group-scanner/pkg/transport"
)

const redisPingTimeout = 5 * time.Second

// run scans until every worker is done or ctx is cancelled. Cancellation
// is a normal way to stop and is not reported as an error.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	})
	logger := logging.NewLogger("scanner")

	ranges, err := cfg.ParsedRanges()
	if err != nil {
		return err
	}

	deps := scanner.Deps{
		Provider: &transport.Dialer{
			Address:    cfg.API.Address,
			ServerName: cfg.API.Host,
			TLS:        cfg.API.TLS,
			Timeout:    cfg.Scan.Timeout,
		},
		Logger: logger,
	}

	proxyCount := 0
	if cfg.Proxy.File != "" {
		rotation, err := transport.LoadRotation(cfg.Proxy.File)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load proxies")
			return err
		}
		deps.Proxies = rotation
		proxyCount = rotation.Len()
	}

	counter := &progress.Local{}
	deps.Counter = counter

	var mirror *progress.RedisMirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
			return fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
		}

		mirror = progress.NewRedisMirror(rdb, cfg.Redis.Key, counter, logging.NewLogger("progress"))
	}

	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()
	g, gctx := errgroup.WithContext(scanCtx)

	notifier, closeSinks, err := buildNotifier(gctx, cfg, stdout, g)
	if err != nil {
		return err
	}
	defer closeSinks()
	deps.Notifier = notifier

	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx, cfg.Redis.FlushInterval) })
	}
	if cfg.Stats.Interval > 0 {
		reporter := progress.NewReporter(counter, mirror, cfg.Stats.Interval, logging.NewLogger("progress"))
		g.Go(func() error { return reporter.Run(gctx) })
	}

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, logging.NewLogger("metrics")) })
	}

	pool, err := scanner.NewPool(scanner.PoolConfig{
		Workers:   cfg.Scan.Workers,
		Ranges:    ranges,
		BatchSize: cfg.Scan.BatchSize,
		Cutoff:    cfg.Scan.Cutoff,
		Host:      cfg.API.Host,
		Mode:      scanner.Mode(cfg.Scan.Mode),
	}, deps)
	if err != nil {
		cancelScan()
		_ = g.Wait()
		return err
	}

	logger.Info().
		Uint64("ids", idspace.Total(ranges)).
		Int("workers", cfg.Scan.Workers).
		Int("batch_size", cfg.Scan.BatchSize).
		Uint64("cutoff", cfg.Scan.Cutoff).
		Str("mode", cfg.Scan.Mode).
		Int("proxies", proxyCount).
		Msg("Starting scan")

	start := time.Now()
	g.Go(func() error {
		// Workers finishing on their own also stops the auxiliary tasks.
		defer cancelScan()
		return pool.Run(gctx)
	})

	err = g.Wait()
	ev := logger.Info().
		Int64("checked", counter.Load()).
		Dur("elapsed", time.Since(start))

	switch {
	case err == nil:
		ev.Msg("Scan finished")
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		ev.Msg("Scan interrupted")
		return nil
	default:
		logger.Error().Err(err).Msg("Scan failed")
		return err
	}
}

// buildNotifier composes the console sink with the optional network sinks.
// Network sinks sit behind a Dispatcher run in g. The returned func releases
// sink resources and must be called after g is done.
func buildNotifier(ctx context.Context, cfg *config.Config, stdout io.Writer, g *errgroup.Group) (notify.Notifier, func(), error) {
	logger := logging.NewLogger("notify")
	closeSinks := func() {}

	var sinks notify.Multi
	if cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhook(notify.WebhookConfig{
			URL:      cfg.Notify.WebhookURL,
			Username: "group-scanner",
			Rate:     cfg.Notify.WebhookRate,
		}, logger)
		if err != nil {
			return nil, closeSinks, err
		}
		sinks = append(sinks, wh)
	}

	if cfg.Notify.PostgresDSN != "" {
		pg, err := notify.OpenPostgres(ctx, cfg.Notify.PostgresDSN, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to open discoveries table")
			return nil, closeSinks, err
		}
		closeSinks = pg.Close
		sinks = append(sinks, pg)
	}

	console := notify.NewConsole(stdout)
	if len(sinks) == 0 {
		return console, closeSinks, nil
	}

	dispatcher := notify.NewDispatcher(sinks, cfg.Notify.QueueSize, logger)
	g.Go(func() error { return dispatcher.Run(ctx) })
	logger.Info().Int("sinks", len(sinks)).Msg("Asynchronous discovery delivery enabled")

	return notify.Multi{console, dispatcher}, closeSinks, nil
}
