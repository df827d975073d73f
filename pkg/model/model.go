// Package model trains and applies the transaction anomaly model: a
// standard scaler followed by an isolation forest, bundled with the
// feature schema and address encoders it was fitted with.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/txrisk/pkg/encoder"
	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/forest"
)

// MinTrainingRows is the smallest batch a model can be trained on.
const MinTrainingRows = 10

var (
	// ErrSchemaMismatch is returned when vectors or artifacts do not match
	// the schema a model was trained with.
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrEncoderMismatch is returned when features were built with an
	// encoder set other than the model's own.
	ErrEncoderMismatch = errors.New("encoder set does not match model")
)

// TrainingError reports a batch too small to train on.
type TrainingError struct {
	Rows     int
	Required int
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("insufficient training data: %d rows, at least %d required", e.Rows, e.Required)
}

// Model is a trained anomaly model. It is not modified after Train or Load
// and can be shared across goroutines.
type Model struct {
	Schema       *feature.Schema
	Scaler       *Scaler
	Forest       *forest.Forest
	Encoders     *encoder.Set
	TrainedAt    time.Time
	TrainingRows int
}

// Train fits the scaler on m, standardizes it, and grows the forest.
func Train(ctx context.Context, schema *feature.Schema, m *feature.Matrix, enc *encoder.Set, cfg forest.Config) (*Model, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if m == nil {
		return nil, errors.New("feature matrix required")
	}
	if !schema.Equal(m.Schema) {
		return nil, fmt.Errorf("%w: matrix built for %v, training for %v", ErrSchemaMismatch, m.Schema, schema)
	}
	if enc == nil {
		return nil, errors.New("encoder set required")
	}
	if err := checkWidth(schema, m); err != nil {
		return nil, err
	}
	if m.Len() < MinTrainingRows {
		return nil, &TrainingError{Rows: m.Len(), Required: MinTrainingRows}
	}

	scaler, err := FitScaler(m.Rows)
	if err != nil {
		return nil, fmt.Errorf("error fitting scaler on %d rows: %w", m.Len(), err)
	}

	x, err := scaler.TransformAll(m.Rows)
	if err != nil {
		return nil, fmt.Errorf("error scaling training data: %w", err)
	}

	f, err := forest.Fit(ctx, x, cfg)
	if err != nil {
		return nil, fmt.Errorf("error fitting forest: %w", err)
	}

	slog.Debug("model trained",
		"rows", m.Len(),
		"features", schema.Len(),
		"trees", len(f.Trees),
		"offset", f.Offset,
	)

	return &Model{
		Schema:       schema,
		Scaler:       scaler,
		Forest:       f,
		Encoders:     enc,
		TrainedAt:    time.Now().UTC(),
		TrainingRows: m.Len(),
	}, nil
}

// Validate checks that the parts of a model agree with each other.
func (m *Model) Validate() error {
	if m == nil {
		return errors.New("model required")
	}
	if err := m.Schema.Validate(); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if err := m.Scaler.validate(); err != nil {
		return err
	}
	if err := m.Forest.Validate(); err != nil {
		return fmt.Errorf("invalid forest: %w", err)
	}
	if m.Scaler.Width() != m.Schema.Len() || m.Forest.Features != m.Schema.Len() {
		return fmt.Errorf("%w: schema has %d fields, scaler %d, forest %d",
			ErrSchemaMismatch, m.Schema.Len(), m.Scaler.Width(), m.Forest.Features)
	}
	if m.Encoders == nil {
		return errors.New("model has no encoders")
	}
	return nil
}

func checkWidth(schema *feature.Schema, m *feature.Matrix) error {
	if len(m.IDs) != len(m.Rows) {
		return fmt.Errorf("matrix has %d ids for %d rows", len(m.IDs), len(m.Rows))
	}
	for i, r := range m.Rows {
		if len(r) != schema.Len() {
			return fmt.Errorf("%w: row %d has %d columns, schema %s has %d",
				ErrSchemaMismatch, i, len(r), schema.Version, schema.Len())
		}
	}
	return nil
}
