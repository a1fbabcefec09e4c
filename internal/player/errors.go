package player

import "errors"

var (
	// ErrNotConnected is returned by Send when no engine connection exists.
	ErrNotConnected = errors.New("engine transport not connected")

	// ErrConnectionLost marks commands failed because the engine connection
	// dropped while they were queued or in flight.
	ErrConnectionLost = errors.New("engine connection lost")

	// ErrInvalidCommand rejects malformed verbs or arguments before they
	// reach the queue. It never crosses the wire.
	ErrInvalidCommand = errors.New("invalid engine command")
)
