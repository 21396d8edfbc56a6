package intent

import (
	"log/slog"
	"sync"
	"time"
)

const (
	failureThreshold = 3
	openDuration     = 300 * time.Second
)

// breaker is the advisory circuit breaker guarding the router model.
// Correctness never depends on it, only latency under persistent
// failure: while open, callers fall through to the fast slot instead of
// repeatedly trying to load a router that keeps failing.
type breaker struct {
	mu           sync.Mutex
	failureCount int
	openUntil    time.Time
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.failureCount >= failureThreshold {
		b.openUntil = time.Now().Add(openDuration)
		slog.Warn("router model circuit opened", "failure_count", b.failureCount, "open_until", b.openUntil)
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.openUntil = time.Time{}
}

func (b *breaker) isOpen(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.openUntil)
}
