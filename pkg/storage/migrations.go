package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// migration pairs a forward-only schema version with its DDL script.
type migration struct {
	version int
	name    string
	upSQL   string
}

// loadMigrations reads every embedded *.up.sql file and returns them sorted
// ascending by version, keyed by the leading numeric prefix of the filename
// (e.g. "000001_init.up.sql" → version 1).
//
// A hand-rolled runner is used instead of golang-migrate here because spec
// requires an exact `schema_version(version INTEGER PRIMARY KEY, applied_at)`
// tracking table; golang-migrate owns its own incompatible tracking schema
// and there is no supported way to make the two agree (see DESIGN.md).
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		content, err := migrationsFS.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: e.Name(), upSQL: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// runMigrations applies every migration with version > current max applied
// version, each inside its own transaction, recording the new version
// atomically in schema_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("%w: creating schema_version: %v", ErrMigration, err)
	}

	var maxVersion int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&maxVersion); err != nil {
		return fmt.Errorf("%w: reading schema_version: %v", ErrMigration, err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigration, err)
	}

	for _, m := range migrations {
		if m.version <= maxVersion {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: beginning migration %s: %v", ErrMigration, m.name, err)
		}

		if _, err := tx.ExecContext(ctx, m.upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: applying %s: %v", ErrMigration, m.name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: recording version %d: %v", ErrMigration, m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: committing migration %s: %v", ErrMigration, m.name, err)
		}

		slog.Info("applied storage migration", "version", m.version, "name", m.name)
	}

	return nil
}
