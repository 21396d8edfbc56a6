package storage

import (
	"context"
	"fmt"
)

// Health reports whether both the write and read handles can still reach
// the database file, used by the /health endpoint and the bootstrapper.
type Health struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Store) Health(ctx context.Context) Health {
	if err := s.writeDB.PingContext(ctx); err != nil {
		return Health{Healthy: false, Detail: fmt.Sprintf("write handle: %v", err)}
	}
	if err := s.readDB.PingContext(ctx); err != nil {
		return Health{Healthy: false, Detail: fmt.Sprintf("read handle: %v", err)}
	}
	return Health{Healthy: true}
}
