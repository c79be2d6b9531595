package process

import "errors"

var (
	// ErrInvalidPID is returned when the process id is zero or negative
	ErrInvalidPID = errors.New("invalid process id (must be > 0)")

	// ErrNotFound is returned when no running process matches the id
	ErrNotFound = errors.New("process not found")

	// ErrProtected is returned when the target is a protected system process
	ErrProtected = errors.New("process is protected")

	// ErrStillRunning is returned when a process survives forced termination
	ErrStillRunning = errors.New("process still running after forced termination")

	// ErrWorkingDirectory is returned when the requested working directory does not exist
	ErrWorkingDirectory = errors.New("working directory does not exist")

	// ErrNotResolved is returned when no executable can be located for a candidate
	ErrNotResolved = errors.New("executable not found")

	// ErrExitedImmediately is returned when a launched process dies within the startup watch window
	ErrExitedImmediately = errors.New("process exited immediately after launch")
)
