package memory

import "errors"

var (
	// ErrLongTermNotFound is returned by Update/Delete when the id does
	// not exist.
	ErrLongTermNotFound = errors.New("memory: long-term entry not found")
)
