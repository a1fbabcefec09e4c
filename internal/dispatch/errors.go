package dispatch

import "errors"

var (
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("dispatcher not running")

	// ErrTimeout marks a command whose deadline expired before a reply.
	ErrTimeout = errors.New("command timed out")

	// ErrCancelled marks commands failed by Stop.
	ErrCancelled = errors.New("command cancelled")

	// ErrEngineRejected marks commands the engine answered with an error.
	ErrEngineRejected = errors.New("engine rejected command")
)
