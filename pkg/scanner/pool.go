package scanner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/group-scanner/pkg/idspace"
)

// Mode selects how the ID space is shared between workers.
type Mode string

const (
	// ModeSplit gives each worker a contiguous, disjoint slice of the space.
	ModeSplit Mode = "split"

	// ModeFull gives every worker the whole space, each starting at a
	// different offset. Workers may then check the same ID independently.
	ModeFull Mode = "full"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers   int
	Ranges    []idspace.Range
	BatchSize int
	Cutoff    uint64
	Host      string
	Mode      Mode
}

// Pool runs a fixed set of workers over a shared ID space. All workers
// start scanning together once every one of them is ready.
type Pool struct {
	workers []*Worker
	barrier *Barrier
	gate    *Gate
	deps    Deps
}

// NewPool partitions the space and builds one worker per share. Barrier and
// Gate in deps are replaced by the pool's own.
func NewPool(cfg PoolConfig, deps Deps) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive (got %d)", cfg.Workers)
	}

	p := &Pool{
		barrier: NewBarrier(cfg.Workers + 1),
		gate:    NewGate(),
		deps:    deps,
	}
	deps.Barrier = p.barrier
	deps.Gate = p.gate

	shares, offsets, err := assign(cfg)
	if err != nil {
		return nil, err
	}

	for i := 0; i < cfg.Workers; i++ {
		w, err := NewWorker(Config{
			Index:       i,
			Ranges:      shares[i],
			BatchSize:   cfg.BatchSize,
			Cutoff:      cfg.Cutoff,
			Host:        cfg.Host,
			StartOffset: offsets[i],
		}, deps)
		if err != nil {
			return nil, err
		}
		p.workers = append(p.workers, w)
	}
	return p, nil
}

func assign(cfg PoolConfig) ([][]idspace.Range, []int, error) {
	n := cfg.Workers
	offsets := make([]int, n)

	switch cfg.Mode {
	case ModeSplit, "":
		return idspace.Partition(cfg.Ranges, n), offsets, nil
	case ModeFull:
		ranges := idspace.Normalize(cfg.Ranges)
		total := idspace.Total(ranges)
		shares := make([][]idspace.Range, n)
		for i := range shares {
			shares[i] = ranges
			offsets[i] = int(uint64(i) * total / uint64(n))
		}
		return shares, offsets, nil
	default:
		return nil, nil, fmt.Errorf("unknown scan mode %q", cfg.Mode)
	}
}

// Workers returns the pool's workers in index order.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Run starts every worker, opens the gate once all of them reached the
// barrier, and waits for them to finish. It returns the first worker error,
// which is ctx.Err() after cancellation.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if err := p.barrier.Wait(gctx); err == nil {
		p.deps.Logger.Info().Int("workers", len(p.workers)).Msg("All workers ready, starting scan")
		p.gate.Open()
	}

	return g.Wait()
}
