// Package progress counts the IDs checked by all workers of a scan.
//
// Workers add the size of every fully processed batch to a shared Counter.
// The Local counter is the in-process total; RedisMirror aggregates the totals
// of several scanner processes in Redis, and Reporter logs the check rate.
package progress

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var idsChecked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "groupscan_ids_checked_total",
	Help: "IDs in fully processed batches across all workers",
})

// Counter receives the number of IDs a worker finished checking.
// Implementations must be safe for concurrent use.
type Counter interface {
	Add(n int64)
}

// Local is a lock-free process-wide counter. The zero value is ready to use.
type Local struct {
	n atomic.Int64
}

// Add increments the counter by n and mirrors the increment to Prometheus.
func (c *Local) Add(n int64) {
	if n <= 0 {
		return
	}
	c.n.Add(n)
	idsChecked.Add(float64(n))
}

// Load returns the current total.
func (c *Local) Load() int64 {
	return c.n.Load()
}
