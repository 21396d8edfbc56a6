package personality

import "errors"

var (
	ErrFragmentNotFound = errors.New("personality: fragment not found")
	ErrInvalidStatus    = errors.New("personality: invalid status transition")
)
