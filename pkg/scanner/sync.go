package scanner

import (
	"context"
	"sync"
)

// Barrier releases all waiters once a fixed number of parties have called
// Wait. It is one-shot: after release every later Wait returns immediately.
type Barrier struct {
	mu      sync.Mutex
	parties int
	arrived int
	done    chan struct{}
}

// NewBarrier creates a barrier for parties callers. A barrier with fewer
// than one party is released from the start.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{parties: parties, done: make(chan struct{})}
	if parties <= 0 {
		close(b.done)
	}
	return b
}

// Wait registers the caller and blocks until all parties have arrived or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.parties {
		close(b.done)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Gate is a one-shot broadcast: Wait blocks until Open is called once.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a gate that is not yet open.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases every current and future waiter. Calling it again has no effect.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
