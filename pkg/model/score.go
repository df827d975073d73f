package model

import (
	"errors"
	"fmt"

	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/ingest"
)

// Result is the model output for one row.
type Result struct {
	// AnomalyScore is the negated decision value; higher is more anomalous.
	AnomalyScore float64 `json:"anomaly_score" yaml:"anomalyScore"`
	IsAnomaly    bool    `json:"is_anomaly" yaml:"isAnomaly"`
}

// Builder returns a feature builder bound to the model schema and encoders.
func (m *Model) Builder() (*feature.Builder, error) {
	return feature.NewBuilder(m.Schema, m.Encoders)
}

// CheckBuilder verifies b produces vectors this model can score.
func (m *Model) CheckBuilder(b *feature.Builder) error {
	if b == nil {
		return errors.New("feature builder required")
	}
	if !m.Schema.Equal(b.Schema()) {
		return fmt.Errorf("%w: builder uses %v, model %v", ErrSchemaMismatch, b.Schema(), m.Schema)
	}
	if b.Encoders() == nil || b.Encoders().Fingerprint() != m.Encoders.Fingerprint() {
		return ErrEncoderMismatch
	}
	return nil
}

// Score standardizes every row with the stored scaler and evaluates the
// forest. Results are in row order.
func (m *Model) Score(x *feature.Matrix) ([]Result, error) {
	if x == nil {
		return nil, errors.New("feature matrix required")
	}
	if !m.Schema.Equal(x.Schema) {
		return nil, fmt.Errorf("%w: matrix built for %v, model trained on %v", ErrSchemaMismatch, x.Schema, m.Schema)
	}
	if err := checkWidth(m.Schema, x); err != nil {
		return nil, err
	}

	list := make([]Result, len(x.Rows))
	for i, r := range x.Rows {
		v, err := m.Scaler.Transform(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		d, anomaly := m.Forest.Predict(v)
		list[i] = Result{
			AnomalyScore: -d,
			IsAnomaly:    anomaly,
		}
	}
	return list, nil
}

// ScoreTransactions builds vectors for txs with b and scores them.
func (m *Model) ScoreTransactions(b *feature.Builder, txs []*ingest.Transaction) ([]Result, error) {
	if err := m.CheckBuilder(b); err != nil {
		return nil, err
	}
	x, err := b.BuildMatrix(txs)
	if err != nil {
		return nil, err
	}
	return m.Score(x)
}
