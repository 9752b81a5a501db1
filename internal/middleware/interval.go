package middleware

import (
	"sync"
	"time"
)

// Interval flushes once per window, starting with the first item after a flush
type Interval[T any] struct {
	mu      sync.Mutex
	items   []T
	window  time.Duration
	timer   *time.Timer
	started bool
	closed  bool
	onFlush FlushFunc[T]
}

// NewInterval creates a new Interval collector
func NewInterval[T any](window time.Duration, onFlush FlushFunc[T]) *Interval[T] {
	return &Interval[T]{
		window:  window,
		onFlush: onFlush,
	}
}

// Add adds an item and starts the interval timer if not already started
func (c *Interval[T]) Add(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.items = append(c.items, item)

	if !c.started {
		c.timer = time.AfterFunc(c.window, c.flush)
		c.started = true
	}
}

func (c *Interval[T]) flush() {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.started = false
	c.mu.Unlock()

	if len(items) > 0 {
		c.onFlush(items)
	}
}

// Close stops the timer
func (c *Interval[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.items = nil
	if c.timer != nil {
		c.timer.Stop()
	}
}
