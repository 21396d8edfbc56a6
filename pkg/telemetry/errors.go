package telemetry

import "errors"

// ErrFlushFailed indicates the background batch insert failed; the batch
// is dropped and the underlying storage error is not returned.
var ErrFlushFailed = errors.New("telemetry: flush failed")
