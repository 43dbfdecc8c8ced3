package call

import "errors"

// Sentinel errors for the call package.
var (
	// ErrAlreadyRunning indicates Run was called on a running machine.
	ErrAlreadyRunning = errors.New("call: machine already running")

	// ErrStopped indicates the machine finished its run and cannot be
	// restarted; construct a new one instead.
	ErrStopped = errors.New("call: machine stopped")
)
