package intent

import "errors"

// ErrCircuitOpen indicates the router model circuit breaker is open; the
// caller should fall through to the keyword fast-path result already
// computed instead of treating this as fatal.
var ErrCircuitOpen = errors.New("intent: router circuit open")
