package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Console writes one discovery line per group to w.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Notify writes d.Line() followed by a newline.
func (c *Console) Notify(_ context.Context, d Discovery) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintln(c.w, d.Line())
	observe("console", err)
	if err != nil {
		return fmt.Errorf("write discovery line: %w", err)
	}
	return nil
}
