// Package report writes ranked risk rows as CSV, JSON or YAML tables.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mchmarny/txrisk/pkg/risk"
	"gopkg.in/yaml.v3"
)

// Format is a report encoding.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	YAML Format = "yaml"

	dirMode  = 0755
	fileMode = 0644
)

// Columns is the report header in output order.
var Columns = []string{
	"rank",
	"transaction_id",
	"amount",
	"anomaly_score",
	"risk_score",
	"is_anomaly",
	"block_height",
	"timestamp",
	"sender",
	"receiver",
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, YAML:
		return f, nil
	case "yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unsupported report format: %s", s)
	}
}

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("report path has no extension: %s", path)
	}
	return ParseFormat(ext)
}

// Record is one report line.
type Record struct {
	Rank          int     `json:"rank" yaml:"rank"`
	TransactionID string  `json:"transaction_id" yaml:"transaction_id"`
	Amount        float64 `json:"amount" yaml:"amount"`
	AnomalyScore  float64 `json:"anomaly_score" yaml:"anomaly_score"`
	RiskScore     float64 `json:"risk_score" yaml:"risk_score"`
	IsAnomaly     bool    `json:"is_anomaly" yaml:"is_anomaly"`
	BlockHeight   int64   `json:"block_height" yaml:"block_height"`
	Timestamp     string  `json:"timestamp" yaml:"timestamp"`
	Sender        string  `json:"sender" yaml:"sender"`
	Receiver      string  `json:"receiver" yaml:"receiver"`
}

// Records converts ranked rows into report records, numbering from 1.
func Records(rows []risk.Row) []Record {
	list := make([]Record, 0, len(rows))
	for i, r := range rows {
		rec := Record{
			Rank:         i + 1,
			AnomalyScore: r.AnomalyScore,
			RiskScore:    r.RiskScore,
			IsAnomaly:    r.IsAnomaly,
		}
		if tx := r.Transaction; tx != nil {
			rec.TransactionID = tx.ID
			rec.Amount = tx.Amount
			rec.BlockHeight = tx.BlockHeight
			rec.Sender = tx.Sender
			rec.Receiver = tx.Receiver
			if !tx.Timestamp.IsZero() {
				rec.Timestamp = tx.Timestamp.UTC().Format(time.RFC3339)
			}
		}
		list = append(list, rec)
	}
	return list
}

func (r Record) values() []string {
	return []string{
		strconv.Itoa(r.Rank),
		r.TransactionID,
		strconv.FormatFloat(r.Amount, 'f', -1, 64),
		strconv.FormatFloat(r.AnomalyScore, 'f', -1, 64),
		strconv.FormatFloat(r.RiskScore, 'f', 2, 64),
		strconv.FormatBool(r.IsAnomaly),
		strconv.FormatInt(r.BlockHeight, 10),
		r.Timestamp,
		r.Sender,
		r.Receiver,
	}
}

// Write encodes rows to w in ranked order.
func Write(w io.Writer, format Format, rows []risk.Row) error {
	if w == nil {
		return errors.New("writer required")
	}
	list := Records(rows)

	switch format {
	case CSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(Columns); err != nil {
			return fmt.Errorf("error writing csv header: %w", err)
		}
		for _, r := range list {
			if err := cw.Write(r.values()); err != nil {
				return fmt.Errorf("error writing csv row %d: %w", r.Rank, err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("error flushing csv: %w", err)
		}
	case JSON:
		je := json.NewEncoder(w)
		je.SetIndent("", "  ")
		if err := je.Encode(list); err != nil {
			return fmt.Errorf("error encoding json report: %w", err)
		}
	case YAML:
		ye := yaml.NewEncoder(w)
		ye.SetIndent(2)
		if err := ye.Encode(list); err != nil {
			return fmt.Errorf("error encoding yaml report: %w", err)
		}
		if err := ye.Close(); err != nil {
			return fmt.Errorf("error closing yaml encoder: %w", err)
		}
	default:
		return fmt.Errorf("unsupported report format: %s", format)
	}
	return nil
}

// WriteFile writes rows to path, creating parent directories. The format
// follows the file extension.
func WriteFile(path string, rows []risk.Row) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("failed to create report dir %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}

	if err := Write(f, format, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report %s: %w", path, err)
	}

	slog.Debug("report written", "path", path, "format", format, "rows", len(rows))
	return nil
}
