package session

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a live session.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrNotRunning is returned by operations that need a live session.
	ErrNotRunning = errors.New("session not running")
)
