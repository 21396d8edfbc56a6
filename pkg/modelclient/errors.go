package modelclient

import "errors"

var (
	ErrBackendConnection = errors.New("modelclient: backend connection failed")
	ErrModelNotFound     = errors.New("modelclient: model not found on backend")
	ErrTimeout           = errors.New("modelclient: request timed out")
	ErrNotLoaded         = errors.New("modelclient: model not loaded")
	ErrStreamClosed      = errors.New("modelclient: stream already closed")
)
