package middleware

import (
	"sync"
	"time"
)

// Quiet flushes after a quiet period (no new items for the window)
type Quiet[T any] struct {
	mu      sync.Mutex
	items   []T
	timer   *time.Timer
	window  time.Duration
	closed  bool
	onFlush FlushFunc[T]
}

// NewQuiet creates a new Quiet collector
func NewQuiet[T any](window time.Duration, onFlush FlushFunc[T]) *Quiet[T] {
	return &Quiet[T]{
		window:  window,
		onFlush: onFlush,
	}
}

// Add adds an item and resets the quiet timer
func (c *Quiet[T]) Add(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.items = append(c.items, item)

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.flush)
}

func (c *Quiet[T]) flush() {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	if len(items) > 0 {
		c.onFlush(items)
	}
}

// Close stops the timer and drops anything not flushed yet
func (c *Quiet[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = nil
	if c.timer != nil {
		c.timer.Stop()
	}
}
