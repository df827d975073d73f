package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/txrisk/pkg/forest"
	"github.com/mchmarny/txrisk/pkg/risk"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	FileName     = "config.yaml"
	ModelDirName = "model"
	DBFileName   = "data.db"
	TopNDefault  = 20

	dirMode  = 0700
	fileMode = 0600
)

// Config represents app config object.
type Config struct {
	ModelDir   string        `yaml:"model_dir"`
	DB         string        `yaml:"db"`
	TopN       int           `yaml:"top_n"`
	RiskMethod string        `yaml:"risk_method"`
	Forest     forest.Config `yaml:"forest"`
}

// Default returns the default config with paths rooted in dir.
func Default(dir string) *Config {
	return &Config{
		ModelDir:   filepath.Join(dir, ModelDirName),
		DB:         filepath.Join(dir, DBFileName),
		TopN:       TopNDefault,
		RiskMethod: string(risk.MethodDefault),
		Forest:     forest.DefaultConfig(),
	}
}

// Validate checks config values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config required")
	}
	if c.ModelDir == "" {
		return errors.New("model_dir required")
	}
	if c.TopN < 0 {
		return errors.Errorf("top_n must be zero or positive, got %d", c.TopN)
	}
	if _, err := risk.ParseMethod(c.RiskMethod); err != nil {
		return errors.Wrap(err, "invalid risk_method")
	}
	if err := c.Forest.Validate(); err != nil {
		return errors.Wrap(err, "invalid forest")
	}
	return nil
}

// Save writes the config to path.
func Save(path string, c *Config) error {
	if path == "" {
		return errors.New("config path required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return errors.Wrapf(err, "failed to create dir for: %s", path)
	}
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return errors.Wrapf(err, "failed to write config file: %s", path)
	}
	return nil
}

// ReadOrCreate reads the config at path, writing the defaults first when
// the file does not exist. Values missing from the file keep their
// defaults.
func ReadOrCreate(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}

	def := Default(filepath.Dir(path))

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating default config", "path", path)
		if err := Save(path, def); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file: %s", path)
	}

	c := def
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling config file: %s", path)
	}
	if c.Forest.Workers <= 0 {
		c.Forest.Workers = def.Forest.Workers
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}
	return c, nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, errors.Wrap(err, "failed to get user home dir")
	}

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, errors.Wrapf(err, "failed to create dir: %s", dir)
		}
		created = true
	}
	return dir, created, nil
}
