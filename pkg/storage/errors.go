package storage

import "errors"

var (
	// ErrConnection indicates a recoverable connection-level failure; the
	// caller may retry.
	ErrConnection = errors.New("storage: connection error")

	// ErrIntegrity indicates a constraint violation; fatal for the
	// offending operation.
	ErrIntegrity = errors.New("storage: integrity violation")

	// ErrMigration indicates schema migration failed; fatal for startup.
	ErrMigration = errors.New("storage: migration failed")

	// ErrNotFound indicates a fetchOne/update/delete found no matching row.
	ErrNotFound = errors.New("storage: row not found")
)
