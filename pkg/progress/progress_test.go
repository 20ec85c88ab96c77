package progress

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocal_ConcurrentAdd(t *testing.T) {
	const (
		workers = 8
		batches = 250
		size    = 100
	)

	var c Local
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < batches; j++ {
				c.Add(size)
			}
		}()
	}
	wg.Wait()

	if got, want := c.Load(), int64(workers*batches*size); got != want {
		t.Errorf("Load() = %d, want %d", got, want)
	}
}

func TestLocal_IgnoresNonPositive(t *testing.T) {
	var c Local
	c.Add(5)
	c.Add(0)
	c.Add(-3)

	if got := c.Load(); got != 5 {
		t.Errorf("Load() = %d, want 5", got)
	}
}

func TestPerMinute(t *testing.T) {
	tests := []struct {
		name    string
		delta   int64
		elapsed time.Duration
		want    float64
	}{
		{name: "one minute", delta: 600, elapsed: time.Minute, want: 600},
		{name: "thirty seconds", delta: 600, elapsed: 30 * time.Second, want: 1200},
		{name: "zero elapsed", delta: 600, elapsed: 0, want: 0},
		{name: "no progress", delta: 0, elapsed: time.Minute, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PerMinute(tt.delta, tt.elapsed); got != tt.want {
				t.Errorf("PerMinute(%d, %v) = %v, want %v", tt.delta, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestSnapshot_IsStale(t *testing.T) {
	fresh := &Snapshot{LastUpdate: time.Now()}
	if fresh.IsStale(time.Minute) {
		t.Error("fresh snapshot reported stale")
	}

	old := &Snapshot{LastUpdate: time.Now().Add(-2 * time.Minute)}
	if !old.IsStale(time.Minute) {
		t.Error("old snapshot not reported stale")
	}
}

func TestReporter_Report(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var c Local
	r := NewReporter(&c, nil, time.Minute, logger)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	r.now = func() time.Time { return now }
	r.lastTime = start

	c.Add(300)
	now = start.Add(30 * time.Second)

	if got := r.report(); got != 600 {
		t.Errorf("report() rate = %v, want 600", got)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["checked"] != float64(300) {
		t.Errorf("checked = %v, want 300", line["checked"])
	}
	if line["per_minute"] != float64(600) {
		t.Errorf("per_minute = %v, want 600", line["per_minute"])
	}
	if _, ok := line["global"]; ok {
		t.Error("global field present without a mirror")
	}

	// Second interval without progress.
	buf.Reset()
	now = now.Add(time.Minute)
	if got := r.report(); got != 0 {
		t.Errorf("report() idle rate = %v, want 0", got)
	}
}
