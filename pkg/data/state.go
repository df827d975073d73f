package data

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

var stateQueries = map[string]string{
	"run":         "SELECT COUNT(*) FROM run",
	"finding":     "SELECT COUNT(*) FROM finding",
	"anomaly":     "SELECT COUNT(*) FROM finding WHERE is_anomaly = 1",
	"transaction": "SELECT COUNT(DISTINCT transaction_id) FROM finding",
	"dropped":     "SELECT COALESCE(SUM(count), 0) FROM run_drop",
}

// GetDataState returns row counts across the run history.
func (s *Store) GetDataState(ctx context.Context) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}

	state := make(map[string]int64, len(stateQueries))
	for k, q := range stateQueries {
		count, err := s.getCount(ctx, q)
		if err != nil {
			return nil, errors.Wrapf(err, "error getting %s count", k)
		}
		state[k] = count
	}

	return state, nil
}

func (s *Store) getCount(ctx context.Context, q string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to scan row")
	}
	return count, nil
}
