package personality

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats summarizes fragment counts by status, for the read-only
// diagnostics surface.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Explicit int `json:"explicit"`
	Inferred int `json:"inferred"`
}

// Stats reports fragment counts by status and kind.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := m.store.FetchOne(ctx,
		`SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'explicit' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'inferred' THEN 1 ELSE 0 END)
		 FROM personality_fragments`,
		nil,
		func(row *sql.Row) error {
			var pending, approved, rejected, explicit, inferred sql.NullInt64
			if err := row.Scan(&s.Total, &pending, &approved, &rejected, &explicit, &inferred); err != nil {
				return err
			}
			s.Pending = int(pending.Int64)
			s.Approved = int(approved.Int64)
			s.Rejected = int(rejected.Int64)
			s.Explicit = int(explicit.Int64)
			s.Inferred = int(inferred.Int64)
			return nil
		},
	)
	if err != nil {
		return Stats{}, fmt.Errorf("computing personality stats: %w", err)
	}
	return s, nil
}
