// Package middleware coalesces bursts of change notifications before they
// turn into speaker commands.
package middleware

import "time"

// FlushFunc is called with the items collected since the previous flush.
type FlushFunc[T any] func(items []T)

// Collector accumulates items and flushes based on strategy
type Collector[T any] interface {
	Add(item T)
	Close()
}

// New picks a collector for the given mode. Unknown modes and non-positive
// windows fall back to Immediate.
func New[T any](mode string, window time.Duration, onFlush FlushFunc[T]) Collector[T] {
	if window <= 0 {
		return NewImmediate(onFlush)
	}
	switch mode {
	case "quiet":
		return NewQuiet(window, onFlush)
	case "interval":
		return NewInterval(window, onFlush)
	}
	return NewImmediate(onFlush)
}

// Last returns the newest item of a flushed batch.
func Last[T any](items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[len(items)-1], true
}
