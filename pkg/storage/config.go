package storage

import "time"

// Config configures the embedded SQLite store.
type Config struct {
	// Path is the database file path, resolved relative to app_data_dir.
	Path string

	// MaxOpenConns bounds the read connection pool. The write connection
	// is always capped at one (see Store.writeDB).
	MaxOpenConns int
	MaxIdleConns int

	// BusyTimeout is the SQLite busy_timeout applied to both handles; per
	// spec §4.1 it must be at least 5s.
	BusyTimeout time.Duration
}

func (c Config) busyTimeoutMs() int64 {
	if c.BusyTimeout <= 0 {
		return 5000
	}
	return c.BusyTimeout.Milliseconds()
}
