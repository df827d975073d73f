// Package pipeline wires ingestion, feature building, the anomaly model
// and risk ranking into the train and detect runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mchmarny/txrisk/pkg/encoder"
	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/forest"
	"github.com/mchmarny/txrisk/pkg/ingest"
	"github.com/mchmarny/txrisk/pkg/model"
	"github.com/mchmarny/txrisk/pkg/net"
	"github.com/mchmarny/txrisk/pkg/risk"
)

const (
	TopDefault  = 20
	BinsDefault = 10
)

// TrainOptions configures a training run.
type TrainOptions struct {
	DataPath string
	ModelDir string
	Limit    int
	Forest   forest.Config
}

// TrainSummary describes a completed training run.
type TrainSummary struct {
	Source      string         `json:"source" yaml:"source"`
	ModelDir    string         `json:"model_dir" yaml:"modelDir"`
	Schema      string         `json:"schema" yaml:"schema"`
	Rows        int            `json:"rows" yaml:"rows"`
	Trained     int            `json:"trained" yaml:"trained"`
	Dropped     int            `json:"dropped" yaml:"dropped"`
	DropReasons map[string]int `json:"drop_reasons,omitempty" yaml:"dropReasons,omitempty"`
	Senders     int            `json:"senders" yaml:"senders"`
	Receivers   int            `json:"receivers" yaml:"receivers"`
	Trees       int            `json:"trees" yaml:"trees"`
	Offset      float64        `json:"offset" yaml:"offset"`
	TrainedAt   time.Time      `json:"trained_at" yaml:"trainedAt"`
}

// Train loads the training export (a file path or http URL), fits the model and saves it to
// opt.ModelDir. Any failure aborts the run.
func Train(ctx context.Context, schema *feature.Schema, opt TrainOptions) (*TrainSummary, error) {
	if opt.DataPath == "" {
		return nil, errors.New("training data path required")
	}
	if opt.ModelDir == "" {
		return nil, errors.New("model directory required")
	}

	b, err := load(ctx, opt.DataPath, opt.Limit)
	if err != nil {
		return nil, fmt.Errorf("error loading training data: %w", err)
	}
	logDropped(b)

	m, err := TrainBatch(ctx, schema, b, opt.Forest)
	if err != nil {
		return nil, err
	}

	if err := model.Save(opt.ModelDir, m); err != nil {
		return nil, fmt.Errorf("error saving model: %w", err)
	}

	s := &TrainSummary{
		Source:      b.Source,
		ModelDir:    opt.ModelDir,
		Schema:      schema.Version,
		Rows:        b.Rows,
		Trained:     m.TrainingRows,
		Dropped:     b.DroppedCount(),
		DropReasons: dropReasons(b),
		Trees:       len(m.Forest.Trees),
		Offset:      m.Forest.Offset,
		TrainedAt:   m.TrainedAt,
	}
	if e, ok := m.Encoders.Get(encoder.SenderColumn); ok {
		s.Senders = e.Len()
	}
	if e, ok := m.Encoders.Get(encoder.ReceiverColumn); ok {
		s.Receivers = e.Len()
	}

	slog.Info("model trained", "dir", opt.ModelDir, "rows", s.Trained, "dropped", s.Dropped)
	return s, nil
}

// TrainBatch fits encoders and the model over an already loaded batch.
func TrainBatch(ctx context.Context, schema *feature.Schema, b *ingest.Batch, cfg forest.Config) (*model.Model, error) {
	if b == nil {
		return nil, errors.New("batch required")
	}
	if len(b.Transactions) < model.MinTrainingRows {
		return nil, &model.TrainingError{Rows: len(b.Transactions), Required: model.MinTrainingRows}
	}

	enc := encoder.FitSet(b.Transactions)
	fb, err := feature.NewBuilder(schema, enc)
	if err != nil {
		return nil, fmt.Errorf("error creating feature builder: %w", err)
	}

	x, err := fb.BuildMatrix(b.Transactions)
	if err != nil {
		return nil, err
	}

	m, err := model.Train(ctx, schema, x, enc, cfg)
	if err != nil {
		return nil, fmt.Errorf("error training model: %w", err)
	}
	return m, nil
}

// DetectOptions configures a detection run. Top is the number of ranked
// rows kept in Report.Top; 0 keeps none.
type DetectOptions struct {
	DataPath string
	Limit    int
	Top      int
	Method   risk.Method
	Bins     int
}

// Report is the outcome of a detection run.
type Report struct {
	RunID        string             `json:"run_id" yaml:"runId"`
	Source       string             `json:"source" yaml:"source"`
	CreatedAt    time.Time          `json:"created_at" yaml:"createdAt"`
	TrainedAt    time.Time          `json:"model_trained_at" yaml:"modelTrainedAt"`
	Method       risk.Method        `json:"risk_method" yaml:"riskMethod"`
	Rows         int                `json:"rows" yaml:"rows"`
	Scored       int                `json:"scored" yaml:"scored"`
	Dropped      int                `json:"dropped" yaml:"dropped"`
	Anomalies    int                `json:"anomalies" yaml:"anomalies"`
	DropReasons  map[string]int     `json:"drop_reasons,omitempty" yaml:"dropReasons,omitempty"`
	Ranked       []risk.Row         `json:"-" yaml:"-"`
	Top          []risk.Row         `json:"top" yaml:"top"`
	Distribution *risk.Distribution `json:"distribution" yaml:"distribution"`
}

// Detect loads the export at opt.DataPath and scores it against m.
// Malformed rows are dropped and counted; schema problems are fatal.
func Detect(ctx context.Context, m *model.Model, opt DetectOptions) (*Report, error) {
	if opt.DataPath == "" {
		return nil, errors.New("data path required")
	}

	b, err := load(ctx, opt.DataPath, opt.Limit)
	if err != nil {
		return nil, fmt.Errorf("error loading data: %w", err)
	}

	return DetectBatch(ctx, m, b, opt)
}

// DetectBatch scores an already loaded batch.
func DetectBatch(ctx context.Context, m *model.Model, b *ingest.Batch, opt DetectOptions) (*Report, error) {
	if m == nil {
		return nil, errors.New("model required")
	}
	if b == nil {
		return nil, errors.New("batch required")
	}
	if opt.Method == "" {
		opt.Method = risk.MethodDefault
	}
	if opt.Bins < 1 {
		opt.Bins = BinsDefault
	}

	logDropped(b)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fb, err := m.Builder()
	if err != nil {
		return nil, fmt.Errorf("error creating feature builder: %w", err)
	}

	res, err := m.ScoreTransactions(fb, b.Transactions)
	if err != nil {
		return nil, fmt.Errorf("error scoring transactions: %w", err)
	}

	scores := make([]float64, len(res))
	for i, r := range res {
		scores[i] = r.AnomalyScore
	}
	riskScores := opt.Method.Apply(scores)

	rows := make([]risk.Row, len(res))
	anomalies := 0
	for i, r := range res {
		rows[i] = risk.Row{
			Transaction:  b.Transactions[i],
			AnomalyScore: r.AnomalyScore,
			RiskScore:    riskScores[i],
			IsAnomaly:    r.IsAnomaly,
		}
		if r.IsAnomaly {
			anomalies++
		}
	}

	ranked := risk.RankAll(rows)
	top := risk.Rank(rows, opt.Top)

	rep := &Report{
		RunID:        uuid.NewString(),
		Source:       b.Source,
		CreatedAt:    time.Now().UTC(),
		TrainedAt:    m.TrainedAt,
		Method:       opt.Method,
		Rows:         b.Rows,
		Scored:       len(rows),
		Dropped:      b.DroppedCount(),
		Anomalies:    anomalies,
		DropReasons:  dropReasons(b),
		Ranked:       ranked,
		Top:          top,
		Distribution: risk.Histogram(ranked, opt.Bins),
	}

	slog.Info("detection complete",
		"run", rep.RunID,
		"scored", rep.Scored,
		"dropped", rep.Dropped,
		"anomalies", rep.Anomalies,
	)

	return rep, nil
}

// load reads the export at src, downloading it first when src is a URL.
func load(ctx context.Context, src string, limit int) (*ingest.Batch, error) {
	if !net.IsURL(src) {
		return ingest.Load(src, ingest.Options{Limit: limit})
	}

	dir, err := os.MkdirTemp("", "txrisk-")
	if err != nil {
		return nil, fmt.Errorf("error creating download dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path, err := net.Fetch(ctx, src, dir)
	if err != nil {
		return nil, err
	}
	slog.Debug("data downloaded", "url", src, "path", path)

	b, err := ingest.Load(path, ingest.Options{Limit: limit})
	if err != nil {
		return nil, err
	}
	b.Source = src
	return b, nil
}

func dropReasons(b *ingest.Batch) map[string]int {
	if len(b.DropReasons) == 0 {
		return nil
	}
	m := make(map[string]int, len(b.DropReasons))
	for k, v := range b.DropReasons {
		m[string(k)] = v
	}
	return m
}

func logDropped(b *ingest.Batch) {
	if b.DroppedCount() == 0 {
		return
	}
	for _, e := range b.Dropped {
		slog.Debug("row dropped", "source", b.Source, "row", e.Row, "reason", e.Reason, "error", e.Err)
	}
	slog.Warn("rows dropped", "source", b.Source, "count", b.DroppedCount(), "reasons", dropReasons(b))
}
