// Package notify delivers claimable-group discoveries to their sinks: the
// console, a chat webhook and a Postgres table.
//
// Workers call Notify exactly once per discovery and never retry. Sinks that
// talk to the network are placed behind a Dispatcher so a slow sink cannot
// stall a worker.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/group-scanner/pkg/groupapi"
)

var notifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupscan_notify_total",
	Help: "Discovery deliveries by sink and outcome",
}, []string{"sink", "outcome"})

// Discovery is a group found claimable by a worker.
type Discovery struct {
	GroupID     uint64
	Name        string
	MemberCount int
	Worker      int
	FoundAt     time.Time
}

// NewDiscovery builds a discovery from the detail record that was resolved as claimable.
func NewDiscovery(d *groupapi.GroupDetail, worker int) Discovery {
	return Discovery{
		GroupID:     d.ID,
		Name:        d.Name,
		MemberCount: d.MemberCount,
		Worker:      worker,
		FoundAt:     time.Now().UTC(),
	}
}

// URL returns the public page of the discovered group.
func (d Discovery) URL() string {
	return groupapi.GroupURL(d.GroupID)
}

// Line formats the discovery as "<url> | <n> members | <name>".
func (d Discovery) Line() string {
	return fmt.Sprintf("%s | %d members | %s", d.URL(), d.MemberCount, d.Name)
}

// Notifier receives discoveries. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, d Discovery) error
}

func observe(sink string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	notifyTotal.WithLabelValues(sink, outcome).Inc()
}
