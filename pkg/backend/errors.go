package backend

import "errors"

var (
	// ErrBinaryNotFound is returned when manage=true but no backend binary
	// can be located on PATH or at a platform default install location.
	ErrBinaryNotFound = errors.New("backend: binary not found")

	// ErrStartupTimeout is returned when the liveness probe never succeeds
	// before the configured startup deadline.
	ErrStartupTimeout = errors.New("backend: startup timeout")

	// ErrProcessExited is returned when the spawned child exits before
	// becoming ready.
	ErrProcessExited = errors.New("backend: process exited before ready")
)
