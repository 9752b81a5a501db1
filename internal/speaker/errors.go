package speaker

import "errors"

var (
	// ErrConfiguration is returned when a mutation cannot be resolved with the
	// configured channel table or system-audio monitor.
	ErrConfiguration = errors.New("configuration error")

	// ErrRange is returned for volumes outside 0..100.
	ErrRange = errors.New("volume out of range")
)
