package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/mchmarny/txrisk/pkg/feature"
)

// ErrDegenerateScaler is returned when no feature varies across the
// training batch.
var ErrDegenerateScaler = errors.New("every feature has zero variance")

// Scaler standardizes features to zero mean and unit variance using the
// statistics of the batch it was fitted on.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns keep a scale of 1 so they standardize to zero.
func FitScaler(rows []feature.Vector) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to fit scaler")
	}

	width := len(rows[0])
	s := &Scaler{
		Mean:  make([]float64, width),
		Scale: make([]float64, width),
	}

	n := float64(len(rows))
	for _, r := range rows {
		for j, v := range r {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	varying := 0
	for j := range s.Scale {
		var ss float64
		for _, r := range rows {
			d := r[j] - s.Mean[j]
			ss += d * d
		}
		std := math.Sqrt(ss / n)
		if std == 0 || math.IsNaN(std) {
			s.Scale[j] = 1
			continue
		}
		s.Scale[j] = std
		varying++
	}

	if varying == 0 {
		return nil, ErrDegenerateScaler
	}

	return s, nil
}

// Width returns the number of columns the scaler was fitted on.
func (s *Scaler) Width() int {
	return len(s.Mean)
}

// Transform returns a standardized copy of v.
func (s *Scaler) Transform(v feature.Vector) ([]float64, error) {
	if len(v) != s.Width() {
		return nil, fmt.Errorf("%w: vector has %d columns, scaler expects %d", ErrSchemaMismatch, len(v), s.Width())
	}
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll standardizes every row.
func (s *Scaler) TransformAll(rows []feature.Vector) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		x, err := s.Transform(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

func (s *Scaler) validate() error {
	if s == nil || len(s.Mean) == 0 {
		return errors.New("scaler is empty")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler has %d means and %d scales", len(s.Mean), len(s.Scale))
	}
	for j, sc := range s.Scale {
		if sc <= 0 || math.IsNaN(sc) || math.IsInf(sc, 0) {
			return fmt.Errorf("scaler column %d has invalid scale %v", j, sc)
		}
	}
	return nil
}
