// Package ingest loads blockchain transaction exports into structured
// records. Rows that cannot be parsed are dropped and tallied by reason
// rather than aborting the batch; a missing required column is fatal.
package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Transaction is a single validated record from a transaction export.
type Transaction struct {
	Row         int       `json:"row" yaml:"row"`
	ID          string    `json:"transaction_id" yaml:"transactionId"`
	Amount      float64   `json:"amount" yaml:"amount"`
	BlockHeight int64     `json:"block_height" yaml:"blockHeight"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Sender      string    `json:"sender" yaml:"sender"`
	Receiver    string    `json:"receiver" yaml:"receiver"`
	IsError     bool      `json:"is_error" yaml:"isError"`
}

// Reason classifies why a row was dropped.
type Reason string

const (
	ReasonAmount      Reason = "amount"
	ReasonID          Reason = "id"
	ReasonBlockHeight Reason = "block_height"
	ReasonTimestamp   Reason = "timestamp"
	ReasonErrorFlag   Reason = "error_flag"
	ReasonFormat      Reason = "format"
)

// RowError describes a single dropped row.
type RowError struct {
	Row    int
	Reason Reason
	Value  string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: invalid %s %q: %v", e.Row, e.Reason, e.Value, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ColumnError is returned when the export lacks a required column.
type ColumnError struct {
	Column  string
	Aliases []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("missing required column %s (accepted headers: %v)", e.Column, e.Aliases)
}

var (
	errEmpty    = errors.New("empty value")
	errNegative = errors.New("negative amount")
)

// Batch is the outcome of loading one export.
type Batch struct {
	Source       string         `json:"source" yaml:"source"`
	Rows         int            `json:"rows" yaml:"rows"`
	Transactions []*Transaction `json:"-" yaml:"-"`
	Dropped      []*RowError    `json:"-" yaml:"-"`
	DropReasons  map[Reason]int `json:"drop_reasons,omitempty" yaml:"dropReasons,omitempty"`
}

// DroppedCount returns the number of rows excluded from the batch.
func (b *Batch) DroppedCount() int {
	return len(b.Dropped)
}

func (b *Batch) drop(e *RowError) {
	b.Dropped = append(b.Dropped, e)
	if b.DropReasons == nil {
		b.DropReasons = make(map[Reason]int)
	}
	b.DropReasons[e.Reason]++
}
