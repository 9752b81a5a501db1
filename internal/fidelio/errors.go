package fidelio

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks failures to reach the speaker at all.
	ErrTransport = errors.New("speaker unreachable")

	// ErrProtocol marks replies the speaker should never produce: a bad HTTP
	// status or a body without a known command discriminator.
	ErrProtocol = errors.New("speaker protocol error")
)

// StatusError is returned when the speaker answers with a non-200 status.
type StatusError struct {
	Command    Command
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: invalid HTTP status code %d", ErrProtocol, e.Command, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return ErrProtocol
}
