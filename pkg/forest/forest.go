// Package forest implements an isolation forest: an ensemble of random
// partition trees where records that isolate in fewer splits score as
// more anomalous. A fitted Forest is read-only and safe for concurrent use.
package forest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

const (
	TreesDefault         = 200
	SampleSizeDefault    = 256
	ContaminationDefault = 0.01
	SeedDefault          = 42

	maxContamination = 0.5
	minSampleSize    = 2
)

// Config controls ensemble construction.
type Config struct {
	Trees         int     `json:"trees" yaml:"trees"`
	SampleSize    int     `json:"sample_size" yaml:"sample_size"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Seed          int64   `json:"seed" yaml:"seed"`
	Workers       int     `json:"-" yaml:"workers,omitempty"`
}

// DefaultConfig returns the standard ensemble settings.
func DefaultConfig() Config {
	return Config{
		Trees:         TreesDefault,
		SampleSize:    SampleSizeDefault,
		Contamination: ContaminationDefault,
		Seed:          SeedDefault,
		Workers:       runtime.NumCPU(),
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	}
	if c.SampleSize < minSampleSize {
		return fmt.Errorf("sample size must be at least %d, got %d", minSampleSize, c.SampleSize)
	}
	if c.Contamination <= 0 || c.Contamination > maxContamination || math.IsNaN(c.Contamination) {
		return fmt.Errorf("contamination must be in (0, %.1f], got %v", maxContamination, c.Contamination)
	}
	return nil
}

// Forest is a fitted isolation forest.
type Forest struct {
	Config     Config  `json:"config"`
	SampleSize int     `json:"sample_size"`
	Features   int     `json:"features"`
	Offset     float64 `json:"offset"`
	Trees      []*Tree `json:"trees"`
}

// Fit grows cfg.Trees trees over data and calibrates the decision offset
// so that roughly cfg.Contamination of the training rows fall below it.
// Results depend only on data and cfg.Seed, not on cfg.Workers.
func Fit(ctx context.Context, data [][]float64, cfg Config) (*Forest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forest config: %w", err)
	}

	n := len(data)
	if n < minSampleSize {
		return nil, fmt.Errorf("at least %d rows required, got %d", minSampleSize, n)
	}

	width := len(data[0])
	if width == 0 {
		return nil, errors.New("rows have no features")
	}
	for i, row := range data {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}

	psi := min(cfg.SampleSize, n)
	limit := int(math.Ceil(math.Log2(float64(psi))))

	f := &Forest{
		Config:     cfg,
		SampleSize: psi,
		Features:   width,
		Trees:      make([]*Tree, cfg.Trees),
	}

	slog.Debug("building isolation forest",
		"trees", cfg.Trees,
		"rows", n,
		"sample", psi,
		"height_limit", limit,
		"workers", cfg.Workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))

	for i := range cfg.Trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f.Trees[i] = growTree(data, psi, limit, treeSeed(cfg.Seed, i))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("error building trees: %w", err)
	}

	scores := make([]float64, n)
	for i, row := range data {
		scores[i] = f.ScoreSamples(row)
	}
	f.Offset = percentile(scores, 100*cfg.Contamination)

	slog.Debug("isolation forest built", "offset", f.Offset)

	return f, nil
}

// PathLength returns the mean isolation depth of x across all trees.
func (f *Forest) PathLength(x []float64) float64 {
	var sum float64
	for _, t := range f.Trees {
		sum += t.pathLength(x)
	}
	return sum / float64(len(f.Trees))
}

// Score returns the normalized anomaly score 2^(-E[h(x)]/c(psi)) in (0, 1];
// values close to 1 isolate quickly.
func (f *Forest) Score(x []float64) float64 {
	return math.Exp2(-f.PathLength(x) / averagePathLength(f.SampleSize))
}

// ScoreSamples is the negated Score: higher means more normal.
func (f *Forest) ScoreSamples(x []float64) float64 {
	return -f.Score(x)
}

// Decision shifts ScoreSamples by the calibrated offset; negative values
// are classified as anomalies.
func (f *Forest) Decision(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

// Predict returns the decision value of x and whether it falls below the
// calibrated threshold.
func (f *Forest) Predict(x []float64) (float64, bool) {
	d := f.Decision(x)
	return d, d < 0
}

// Validate checks a forest, typically one decoded from storage.
func (f *Forest) Validate() error {
	if f == nil {
		return errors.New("forest required")
	}
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if f.SampleSize < minSampleSize {
		return fmt.Errorf("invalid sample size: %d", f.SampleSize)
	}
	if f.Features < 1 {
		return fmt.Errorf("invalid feature count: %d", f.Features)
	}
	for i, t := range f.Trees {
		if err := t.validate(f.Features); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

const eulerGamma = 0.5772156649015329

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := slices.Clone(values)
	slices.Sort(s)

	pos := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}
