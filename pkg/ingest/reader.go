package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"
)

const (
	gzipExt = ".gz"
	bom     = "\ufeff"
)

type column int

const (
	colID column = iota
	colAmount
	colBlockHeight
	colTimestamp
	colSender
	colReceiver
	colErrorFlag
	columnCount
)

var columns = [columnCount]struct {
	name    string
	aliases []string
}{
	colID:          {"transaction_id", []string{"TxHash", "tx_hash", "transaction_id", "hash"}},
	colAmount:      {"amount", []string{"Value", "amount", "value"}},
	colBlockHeight: {"block_height", []string{"BlockHeight", "block_height", "block_num"}},
	colTimestamp:   {"timestamp", []string{"TimeStamp", "timestamp"}},
	colSender:      {"sender", []string{"From", "from_addr", "sender", "from"}},
	colReceiver:    {"receiver", []string{"To", "to_addr", "receiver", "to"}},
	colErrorFlag:   {"error_flag", []string{"isError", "is_error", "error_flag"}},
}

// Options controls how an export is read.
type Options struct {
	// Limit caps the number of data rows read; 0 reads everything.
	Limit int
}

// Load reads a CSV export from path. Files ending in .gz are decompressed.
func Load(path string, opt Options) (*Batch, error) {
	if path == "" {
		return nil, errors.New("data path required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), gzipExt) {
		zr, zErr := gzip.NewReader(f)
		if zErr != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %s: %w", path, zErr)
		}
		defer zr.Close()
		r = zr
	}

	b, err := Read(r, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %s: %w", path, err)
	}
	b.Source = path

	slog.Debug("transactions loaded",
		"path", path,
		"rows", b.Rows,
		"kept", len(b.Transactions),
		"dropped", b.DroppedCount(),
	)

	return b, nil
}

// Read parses a CSV export from r. The first row must be a header.
func Read(r io.Reader, opt Options) (*Batch, error) {
	if r == nil {
		return nil, errors.New("reader required")
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty input, header row required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	b := &Batch{
		Transactions: make([]*Transaction, 0),
		Dropped:      make([]*RowError, 0),
	}

	for row := 1; opt.Limit <= 0 || b.Rows < opt.Limit; row++ {
		rec, readErr := cr.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", row, readErr)
		}
		b.Rows++

		tx, rowErr := parseRow(rec, idx, row)
		if rowErr != nil {
			slog.Debug("dropping row", "row", row, "reason", rowErr.Reason, "error", rowErr.Err)
			b.drop(rowErr)
			continue
		}
		b.Transactions = append(b.Transactions, tx)
	}

	return b, nil
}

func resolveColumns(header []string) ([columnCount]int, error) {
	var idx [columnCount]int

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(strings.TrimPrefix(h, bom))
	}

	for c := colID; c < columnCount; c++ {
		idx[c] = findColumn(names, columns[c].aliases)
		if idx[c] < 0 {
			return idx, &ColumnError{Column: columns[c].name, Aliases: columns[c].aliases}
		}
	}

	return idx, nil
}

// findColumn prefers an exact header match over a case-insensitive one.
func findColumn(names, aliases []string) int {
	for _, a := range aliases {
		for i, n := range names {
			if n == a {
				return i
			}
		}
	}
	for _, a := range aliases {
		for i, n := range names {
			if strings.EqualFold(n, a) {
				return i
			}
		}
	}
	return -1
}

func parseRow(rec []string, idx [columnCount]int, row int) (*Transaction, *RowError) {
	for _, i := range idx {
		if i >= len(rec) {
			return nil, &RowError{
				Row:    row,
				Reason: ReasonFormat,
				Value:  strconv.Itoa(len(rec)),
				Err:    fmt.Errorf("row has %d fields, column %d required", len(rec), i+1),
			}
		}
	}

	field := func(c column) string {
		return strings.TrimSpace(rec[idx[c]])
	}

	tx := &Transaction{
		Row:      row,
		ID:       field(colID),
		Sender:   field(colSender),
		Receiver: field(colReceiver),
	}

	if tx.ID == "" {
		return nil, &RowError{Row: row, Reason: ReasonID, Err: errEmpty}
	}

	var err error
	if tx.Amount, err = ParseAmount(field(colAmount)); err != nil {
		return nil, &RowError{Row: row, Reason: ReasonAmount, Value: field(colAmount), Err: err}
	}
	if tx.Amount < 0 {
		return nil, &RowError{Row: row, Reason: ReasonAmount, Value: field(colAmount), Err: errNegative}
	}

	if tx.BlockHeight, err = parseBlockHeight(field(colBlockHeight)); err != nil {
		return nil, &RowError{Row: row, Reason: ReasonBlockHeight, Value: field(colBlockHeight), Err: err}
	}

	if tx.Timestamp, err = ParseTimestamp(field(colTimestamp)); err != nil {
		return nil, &RowError{Row: row, Reason: ReasonTimestamp, Value: field(colTimestamp), Err: err}
	}

	if tx.IsError, err = parseErrorFlag(field(colErrorFlag)); err != nil {
		return nil, &RowError{Row: row, Reason: ReasonErrorFlag, Value: field(colErrorFlag), Err: err}
	}

	return tx, nil
}

// ParseAmount parses a transaction value. Integer wei-scale values and
// exponent notation are accepted.
func ParseAmount(s string) (float64, error) {
	if s == "" {
		return 0, errEmpty
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %w", err)
	}

	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("value out of range: %s", s)
	}

	return f, nil
}

func parseBlockHeight(s string) (int64, error) {
	if s == "" {
		return 0, errEmpty
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}

	// exports written by dataframes often carry "123.0"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not an integer: %s", s)
	}

	return int64(f), nil
}

func parseErrorFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "0.0", "false", "f", "no":
		return false, nil
	case "1", "1.0", "true", "t", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("not a 0/1 flag: %s", s)
	}
}
