package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	insertRunSQL = `INSERT INTO run (id, source, model_dir, risk_method, created_at,
		model_trained_at, rows_total, scored, dropped, anomalies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertDropSQL = `INSERT INTO run_drop (run_id, reason, count) VALUES (?, ?, ?)`

	insertFindingSQL = `INSERT INTO finding (run_id, ranking, transaction_id, amount,
		anomaly_score, risk_score, is_anomaly, block_height, ts, sender, receiver)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectRunColumns = `SELECT id, source, model_dir, risk_method, created_at,
		model_trained_at, rows_total, scored, dropped, anomalies
		FROM run
	`

	selectRunsSQL = selectRunColumns + `ORDER BY created_at DESC, id LIMIT ?`

	selectRunSQL = selectRunColumns + `WHERE id = ?`

	selectDropsSQL = `SELECT reason, count FROM run_drop WHERE run_id = ?`

	selectFindingsSQL = `SELECT run_id, ranking, transaction_id, amount, anomaly_score,
		risk_score, is_anomaly, block_height, ts, sender, receiver
		FROM finding
		WHERE run_id = ?
		ORDER BY ranking
		LIMIT ?
	`

	ListLimitDefault = 20
)

var findingColumns = []string{
	"run_id", "ranking", "transaction_id", "amount", "anomaly_score",
	"risk_score", "is_anomaly", "block_height", "ts", "sender", "receiver",
}

// Run is the summary of one detection run.
type Run struct {
	ID             string         `json:"id" yaml:"id"`
	Source         string         `json:"source" yaml:"source"`
	ModelDir       string         `json:"model_dir" yaml:"modelDir"`
	Method         string         `json:"risk_method" yaml:"riskMethod"`
	CreatedAt      time.Time      `json:"created_at" yaml:"createdAt"`
	ModelTrainedAt time.Time      `json:"model_trained_at" yaml:"modelTrainedAt"`
	Rows           int            `json:"rows" yaml:"rows"`
	Scored         int            `json:"scored" yaml:"scored"`
	Dropped        int            `json:"dropped" yaml:"dropped"`
	Anomalies      int            `json:"anomalies" yaml:"anomalies"`
	DropReasons    map[string]int `json:"drop_reasons,omitempty" yaml:"dropReasons,omitempty"`
}

// Finding is one ranked transaction of a run.
type Finding struct {
	RunID         string    `json:"run_id" yaml:"runId"`
	Rank          int       `json:"rank" yaml:"rank"`
	TransactionID string    `json:"transaction_id" yaml:"transactionId"`
	Amount        float64   `json:"amount" yaml:"amount"`
	AnomalyScore  float64   `json:"anomaly_score" yaml:"anomalyScore"`
	RiskScore     float64   `json:"risk_score" yaml:"riskScore"`
	IsAnomaly     bool      `json:"is_anomaly" yaml:"isAnomaly"`
	BlockHeight   int64     `json:"block_height" yaml:"blockHeight"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Sender        string    `json:"sender" yaml:"sender"`
	Receiver      string    `json:"receiver" yaml:"receiver"`
}

// SaveRun stores a run with its findings in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *Run, findings []*Finding) error {
	if s == nil || s.db == nil {
		return errDBNotInitialized
	}
	if run == nil || run.ID == "" {
		return errors.New("run with id required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	if _, err := tx.ExecContext(ctx, s.rebind(insertRunSQL),
		run.ID, run.Source, run.ModelDir, run.Method,
		toUnix(run.CreatedAt), toUnix(run.ModelTrainedAt),
		run.Rows, run.Scored, run.Dropped, run.Anomalies,
	); err != nil {
		rollbackTransaction(tx)
		return errors.Wrapf(err, "failed to insert run: %s", run.ID)
	}

	for reason, n := range run.DropReasons {
		if _, err := tx.ExecContext(ctx, s.rebind(insertDropSQL), run.ID, reason, n); err != nil {
			rollbackTransaction(tx)
			return errors.Wrapf(err, "failed to insert drop reason: %s", reason)
		}
	}

	if err := s.insertFindings(ctx, tx, run.ID, findings); err != nil {
		rollbackTransaction(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) insertFindings(ctx context.Context, tx *sql.Tx, runID string, findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}

	q := s.rebind(insertFindingSQL)
	if s.driver == driverPostgres {
		q = pq.CopyIn("finding", findingColumns...)
	}

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return errors.Wrap(err, "failed to prepare finding statement")
	}
	defer stmt.Close()

	for _, f := range findings {
		if _, err := stmt.ExecContext(ctx,
			runID, f.Rank, f.TransactionID, f.Amount, f.AnomalyScore,
			f.RiskScore, boolToInt(f.IsAnomaly), f.BlockHeight, toUnix(f.Timestamp),
			f.Sender, f.Receiver,
		); err != nil {
			return errors.Wrapf(err, "failed to insert finding: %s", f.TransactionID)
		}
	}

	if s.driver == driverPostgres {
		// flush the copy buffer
		if _, err := stmt.ExecContext(ctx); err != nil {
			return errors.Wrap(err, "failed to copy findings")
		}
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = ListLimitDefault
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectRunsSQL), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	list := make([]*Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return list, nil
}

// GetRun returns a run with its drop reasons, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}

	r, err := scanRun(s.db.QueryRowContext(ctx, s.rebind(selectRunSQL), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "run %s", id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectDropsSQL), id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query drop reasons")
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan drop reason")
		}
		if r.DropReasons == nil {
			r.DropReasons = make(map[string]int)
		}
		r.DropReasons[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate drop reasons")
	}

	return r, nil
}

// GetFindings returns up to limit findings of a run in rank order.
func (s *Store) GetFindings(ctx context.Context, runID string, limit int) ([]*Finding, error) {
	if s == nil || s.db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = ListLimitDefault
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectFindingsSQL), runID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query findings")
	}
	defer rows.Close()

	list := make([]*Finding, 0)
	for rows.Next() {
		f := &Finding{}
		var anomaly int
		var ts int64
		if err := rows.Scan(&f.RunID, &f.Rank, &f.TransactionID, &f.Amount, &f.AnomalyScore,
			&f.RiskScore, &anomaly, &f.BlockHeight, &ts, &f.Sender, &f.Receiver); err != nil {
			return nil, errors.Wrap(err, "failed to scan finding")
		}
		f.IsAnomaly = anomaly != 0
		f.Timestamp = fromUnix(ts)
		list = append(list, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate findings")
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	var created, trained int64
	if err := row.Scan(&r.ID, &r.Source, &r.ModelDir, &r.Method, &created,
		&trained, &r.Rows, &r.Scored, &r.Dropped, &r.Anomalies); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan run")
	}
	r.CreatedAt = fromUnix(created)
	r.ModelTrainedAt = fromUnix(trained)
	return r, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
