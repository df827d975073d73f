package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".txrisk", FileName)

	c1, err := ReadOrCreate(path)
	require.NoError(t, err)
	require.NotNil(t, c1)
	assert.FileExists(t, path)
	assert.Equal(t, TopNDefault, c1.TopN)
	assert.Equal(t, filepath.Join(filepath.Dir(path), ModelDirName), c1.ModelDir)

	c1.TopN = 5
	c1.RiskMethod = "percentile"
	c1.Forest.Trees = 50

	require.NoError(t, Save(path, c1))

	c2, err := ReadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c2.TopN)
	assert.Equal(t, "percentile", c2.RiskMethod)
	assert.Equal(t, 50, c2.Forest.Trees)
	assert.Positive(t, c2.Forest.Workers)
}

func TestReadOrCreate_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("top_n: 3\nforest:\n  trees: 10\n"), 0600))

	c, err := ReadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.TopN)
	assert.Equal(t, 10, c.Forest.Trees)
	// unset keys keep defaults
	assert.Equal(t, 0.01, c.Forest.Contamination)
	assert.Equal(t, "minmax", c.RiskMethod)
}

func TestReadOrCreate_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadOrCreate("")
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("risk_method: zscore\n"), 0600))
	_, err = ReadOrCreate(bad)
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("top_n: [\n"), 0600))
	_, err = ReadOrCreate(broken)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no model dir", func(c *Config) { c.ModelDir = "" }, false},
		{"negative top", func(c *Config) { c.TopN = -1 }, false},
		{"bad method", func(c *Config) { c.RiskMethod = "x" }, false},
		{"bad forest", func(c *Config) { c.Forest.Trees = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default(t.TempDir())
			tt.mutate(c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}

	var c *Config
	assert.Error(t, c.Validate())
}

func TestSave_Errors(t *testing.T) {
	assert.Error(t, Save("", Default(t.TempDir())))
	assert.Error(t, Save(filepath.Join(t.TempDir(), FileName), nil))
}
