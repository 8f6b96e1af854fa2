package store

import (
	"context"

	"github.com/cuemby/engram/pkg/errs"
)

// Stats is a point-in-time row-count snapshot used by the daemon's
// maintenance pass and the metrics collector. It is intentionally cheap:
// four COUNT(*) queries against small, indexed tables.
type Stats struct {
	Chunks        int
	Episodes      int
	GraduatedRows int
	Projects      int
}

// Stats gathers row counts for the tables the metrics collector reports on.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		dst   *int
		query string
	}{
		{&st.Chunks, `SELECT COUNT(*) FROM chunks`},
		{&st.Episodes, `SELECT COUNT(*) FROM episodes`},
		{&st.GraduatedRows, `SELECT COUNT(*) FROM episodes WHERE graduated_at IS NOT NULL`},
		{&st.Projects, `SELECT COUNT(*) FROM projects`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Stats{}, errs.New(errs.Transient, "store.Stats", err)
		}
	}
	return st, nil
}
