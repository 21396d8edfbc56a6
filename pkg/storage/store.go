// Package storage provides the embedded SQLite persistence layer: a single
// writer connection serialized behind a mutex, a pooled reader connection,
// forward-only schema migrations, and a small hand-rolled query contract
// used by every other package that needs durable state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the embedded SQLite persistence layer. SQLite allows only one
// writer at a time; rather than let the driver serialize writers with
// SQLITE_BUSY retries, writeMu owns writer access explicitly and writeDB
// itself is capped at a single connection so the pool can never hand out a
// second writer.
type Store struct {
	cfg     Config
	writeDB *sql.DB
	readDB  *sql.DB
	writeMu sync.Mutex
}

// Open creates (or opens) the SQLite database at cfg.Path, applies pending
// migrations, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.busyTimeoutMs(),
	)

	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening write handle: %v", ErrConnection, err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("%w: opening read handle: %v", ErrConnection, err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = maxOpen
	}
	readDB.SetMaxOpenConns(maxOpen)
	readDB.SetMaxIdleConns(maxIdle)

	if err := writeDB.PingContext(ctx); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("%w: pinging write handle: %v", ErrConnection, err)
	}
	if err := readDB.PingContext(ctx); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("%w: pinging read handle: %v", ErrConnection, err)
	}

	if err := runMigrations(ctx, writeDB); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, err
	}

	return &Store{cfg: cfg, writeDB: writeDB, readDB: readDB}, nil
}

// Close closes both underlying connections.
func (s *Store) Close() error {
	werr := s.writeDB.Close()
	rerr := s.readDB.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Execute runs a write statement (INSERT/UPDATE/DELETE/DDL) under the
// writer lock and returns the number of rows affected.
func (s *Store) Execute(ctx context.Context, stmt string, args ...any) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.writeDB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, classifyWriteErr(err)
	}
	return res.RowsAffected()
}

// ExecuteMany runs stmt once per row in rows, all within a single
// transaction under the writer lock.
func (s *Store) ExecuteMany(ctx context.Context, stmt string, rows [][]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	for _, args := range rows {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			_ = tx.Rollback()
			return classifyWriteErr(err)
		}
	}
	return tx.Commit()
}

// Insert builds and executes an INSERT into table from the given columns,
// returning the last insert ID (for integer-rowid tables).
func (s *Store) Insert(ctx context.Context, table string, columns map[string]any) (int64, error) {
	names := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns))
	for name, value := range columns {
		names = append(names, name)
		placeholders = append(placeholders, "?")
		args = append(args, value)
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "),
	)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.writeDB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, classifyWriteErr(err)
	}
	return res.LastInsertId()
}

// FetchOne runs a read query and scans the first row into dest via fn. It
// returns ErrNotFound if no row matched.
func (s *Store) FetchOne(ctx context.Context, query string, args []any, fn func(*sql.Row) error) error {
	row := s.readDB.QueryRowContext(ctx, query, args...)
	if err := fn(row); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// FetchAll runs a read query and invokes fn once per returned row.
func (s *Store) FetchAll(ctx context.Context, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Transaction runs fn inside a write transaction under the writer lock,
// committing on success and rolling back if fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Vacuum reclaims free pages. It is run outside the usual write path since
// VACUUM cannot execute inside a transaction.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writeDB.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Stats reports pool statistics for both handles, used by the health and
// telemetry endpoints.
type Stats struct {
	WriteOpenConnections int
	WriteInUse           int
	ReadOpenConnections  int
	ReadInUse            int
}

func (s *Store) Stats() Stats {
	w := s.writeDB.Stats()
	r := s.readDB.Stats()
	return Stats{
		WriteOpenConnections: w.OpenConnections,
		WriteInUse:           w.InUse,
		ReadOpenConnections:  r.OpenConnections,
		ReadInUse:            r.InUse,
	}
}

func classifyWriteErr(err error) error {
	msg := err.Error()
	for _, sub := range []string{"UNIQUE constraint", "CHECK constraint", "NOT NULL constraint", "FOREIGN KEY constraint"} {
		if strings.Contains(msg, sub) {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
