package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/txrisk/pkg/config"
	"github.com/mchmarny/txrisk/pkg/data"
	"github.com/mchmarny/txrisk/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHeader = "TxHash,BlockHeight,TimeStamp,From,To,Value,isError"
	testEpoch  = 1709517600
)

func testLine(id string, i int, amount string) string {
	return fmt.Sprintf("%s,%d,%d,0xs%d,0xr%d,%s,0", id, 18_000_000+i, testEpoch+i*60, i%4, i%3, amount)
}

func writeTestCSV(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := testHeader + "\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func testData(t *testing.T, dir string) (train, detect string) {
	t.Helper()
	var lines []string
	for i := 1; i <= 200; i++ {
		lines = append(lines, testLine(fmt.Sprintf("0x%04d", i), i, fmt.Sprint(i)))
	}
	train = writeTestCSV(t, dir, "train.csv", lines)

	lines = []string{testLine("0xoutlier", 100, "5000000")}
	for i := 90; i <= 110; i++ {
		lines = append(lines, testLine(fmt.Sprintf("0x%04d", i), i, fmt.Sprint(i)))
	}
	lines = append(lines, testLine("0xbad", 100, "abc"))
	detect = writeTestCSV(t, dir, "detect.csv", lines)
	return train, detect
}

// runApp executes the app with args and returns what it wrote to out.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := out
	out = &buf
	defer func() { out = prev }()

	err := newApp().Run(context.Background(), append([]string{appName}, args...))
	return buf.String(), err
}

func TestApp_TrainDetectRuns(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	modelDir := filepath.Join(dir, "model")
	reportPath := filepath.Join(dir, "out", "top.csv")
	trainPath, detectPath := testData(t, dir)

	res, err := runApp(t, "--config", cfgPath, "train",
		"--data", trainPath, "--out", modelDir, "--trees", "25", "--seed", "7")
	require.NoError(t, err)
	assert.FileExists(t, cfgPath)
	assert.FileExists(t, filepath.Join(modelDir, model.ManifestFile))

	var sum map[string]any
	require.NoError(t, json.Unmarshal([]byte(res), &sum))
	assert.EqualValues(t, 200, sum["trained"])
	assert.EqualValues(t, 25, sum["trees"])

	res, err = runApp(t, "--config", cfgPath, "detect",
		"--data", detectPath, "--model", modelDir, "--top", "5", "--report", reportPath)
	require.NoError(t, err)
	assert.FileExists(t, reportPath)

	var rep struct {
		RunID   string `json:"run_id"`
		Scored  int    `json:"scored"`
		Dropped int    `json:"dropped"`
		Top     []struct {
			RiskScore   float64 `json:"risk_score"`
			Transaction struct {
				ID string `json:"transaction_id"`
			} `json:"transaction"`
		} `json:"top"`
	}
	require.NoError(t, json.Unmarshal([]byte(res), &rep))
	require.NotEmpty(t, rep.RunID)
	assert.Equal(t, 22, rep.Scored)
	assert.Equal(t, 1, rep.Dropped)
	require.Len(t, rep.Top, 5)
	assert.Equal(t, "0xoutlier", rep.Top[0].Transaction.ID)
	assert.InDelta(t, 100.0, rep.Top[0].RiskScore, 1e-9)

	res, err = runApp(t, "--config", cfgPath, "runs", "list")
	require.NoError(t, err)
	var runs []*data.Run
	require.NoError(t, json.Unmarshal([]byte(res), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)
	assert.Equal(t, 1, runs[0].Dropped)

	res, err = runApp(t, "--config", cfgPath, "--format", "yaml", "runs", "show", "--id", rep.RunID, "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, res, "transactionId: 0xoutlier")
	assert.Contains(t, res, "rank: 3")
	assert.NotContains(t, res, "rank: 4")

	res, err = runApp(t, "--config", cfgPath, "runs", "stats")
	require.NoError(t, err)
	var state map[string]int64
	require.NoError(t, json.Unmarshal([]byte(res), &state))
	assert.Equal(t, int64(1), state["run"])
	assert.Equal(t, int64(5), state["finding"])
}

func TestApp_DetectNoSave(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	trainPath, detectPath := testData(t, dir)

	_, err := runApp(t, "--config", cfgPath, "train", "--data", trainPath, "--trees", "10")
	require.NoError(t, err)

	res, err := runApp(t, "--config", cfgPath, "detect", "--data", detectPath, "--no-save", "--risk", "percentile")
	require.NoError(t, err)
	assert.Contains(t, res, `"risk_method": "percentile"`)

	assert.NoFileExists(t, filepath.Join(dir, config.DBFileName))
}

func TestApp_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	trainPath, detectPath := testData(t, dir)

	tests := []struct {
		name string
		args []string
	}{
		{"missing data flag", []string{"--config", cfgPath, "train"}},
		{"bad format", []string{"--config", cfgPath, "--format", "xml", "runs", "list"}},
		{"bad contamination", []string{"--config", cfgPath, "train", "--data", trainPath, "--contamination", "0.9"}},
		{"no model", []string{"--config", cfgPath, "detect", "--data", detectPath, "--model", filepath.Join(dir, "none")}},
		{"bad risk method", []string{"--config", cfgPath, "detect", "--data", detectPath, "--risk", "zscore"}},
		{"bad report path", []string{"--config", cfgPath, "detect", "--data", detectPath, "--report", filepath.Join(dir, "top.txt")}},
		{"unknown run", []string{"--config", cfgPath, "runs", "show", "--id", "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestApp_DBOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	dbPath := filepath.Join(dir, "other", "history.db")

	res, err := runApp(t, "--config", cfgPath, "--db", dbPath, "runs", "list")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", res)
	assert.FileExists(t, dbPath)
}
