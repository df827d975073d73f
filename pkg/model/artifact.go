package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mchmarny/txrisk/pkg/encoder"
	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/forest"
	"gopkg.in/yaml.v3"
)

const (
	// FormatVersion is bumped when the artifact layout changes.
	FormatVersion = 1

	ManifestFile = "manifest.yaml"
	ScalerFile   = "scaler.json"
	ForestFile   = "forest.json"
	EncodersFile = "encoders.json"

	dirMode  = 0700
	fileMode = 0600
)

// ArtifactError reports a model file that is missing or cannot be decoded.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("model artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// Manifest describes a saved model directory.
type Manifest struct {
	Format       int             `yaml:"format"`
	Schema       *feature.Schema `yaml:"schema"`
	TrainedAt    time.Time       `yaml:"trained_at"`
	TrainingRows int             `yaml:"training_rows"`
	Forest       forest.Config   `yaml:"forest"`
	Offset       float64         `yaml:"offset"`
	Encoders     string          `yaml:"encoders_fingerprint"`
}

// Save writes the model into dir, creating it if needed.
func Save(dir string, m *Model) error {
	if dir == "" {
		return errors.New("model directory required")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("failed to create model dir %s: %w", dir, err)
	}

	cfg := m.Forest.Config
	cfg.Workers = 0

	man := &Manifest{
		Format:       FormatVersion,
		Schema:       m.Schema,
		TrainedAt:    m.TrainedAt,
		TrainingRows: m.TrainingRows,
		Forest:       cfg,
		Offset:       m.Forest.Offset,
		Encoders:     m.Encoders.Fingerprint(),
	}

	b, err := yaml.Marshal(man)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := writeFile(dir, ManifestFile, b); err != nil {
		return err
	}

	for name, v := range map[string]any{
		ScalerFile:   m.Scaler,
		ForestFile:   m.Forest,
		EncodersFile: m.Encoders,
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", name, err)
		}
		if err := writeFile(dir, name, b); err != nil {
			return err
		}
	}

	slog.Debug("model saved", "dir", dir, "schema", m.Schema.Version)
	return nil
}

// Load reads a model saved by Save and checks it was trained with schema.
func Load(dir string, schema *feature.Schema) (*Model, error) {
	if dir == "" {
		return nil, errors.New("model directory required")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	var man Manifest
	if err := readFile(dir, ManifestFile, func(b []byte) error {
		return yaml.Unmarshal(b, &man)
	}); err != nil {
		return nil, err
	}
	if man.Format != FormatVersion {
		return nil, &ArtifactError{
			Path: filepath.Join(dir, ManifestFile),
			Err:  fmt.Errorf("unsupported format version %d", man.Format),
		}
	}
	if !schema.Equal(man.Schema) {
		return nil, fmt.Errorf("%w: model in %s trained on %v, expected %v", ErrSchemaMismatch, dir, man.Schema, schema)
	}

	m := &Model{
		Schema:       schema,
		Scaler:       &Scaler{},
		Forest:       &forest.Forest{},
		Encoders:     &encoder.Set{},
		TrainedAt:    man.TrainedAt,
		TrainingRows: man.TrainingRows,
	}

	for name, v := range map[string]any{
		ScalerFile:   m.Scaler,
		ForestFile:   m.Forest,
		EncodersFile: m.Encoders,
	} {
		if err := readFile(dir, name, func(b []byte) error {
			return json.Unmarshal(b, v)
		}); err != nil {
			return nil, err
		}
	}

	if fp := m.Encoders.Fingerprint(); fp != man.Encoders {
		return nil, &ArtifactError{
			Path: filepath.Join(dir, EncodersFile),
			Err:  fmt.Errorf("%w: fingerprint %s, manifest expects %s", ErrEncoderMismatch, fp, man.Encoders),
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model in %s: %w", dir, err)
	}

	slog.Debug("model loaded",
		"dir", dir,
		"trained", m.TrainedAt,
		"rows", m.TrainingRows,
		"trees", len(m.Forest.Trees),
	)

	return m, nil
}

func writeFile(dir, name string, b []byte) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return &ArtifactError{Path: path, Err: err}
	}
	return nil
}

func readFile(dir, name string, decode func([]byte) error) error {
	path := filepath.Join(dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		return &ArtifactError{Path: path, Err: err}
	}
	if err := decode(b); err != nil {
		return &ArtifactError{Path: path, Err: err}
	}
	return nil
}
