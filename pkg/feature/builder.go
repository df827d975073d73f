package feature

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mchmarny/txrisk/pkg/encoder"
	"github.com/mchmarny/txrisk/pkg/ingest"
)

// ErrKind separates absent inputs from numerically invalid ones.
type ErrKind string

const (
	Missing ErrKind = "missing"
	Invalid ErrKind = "invalid"
)

// FieldError reports a feature that could not be produced.
type FieldError struct {
	Field string
	Kind  ErrKind
	TxID  string
	Err   error
}

func (e *FieldError) Error() string {
	if e.TxID == "" {
		return fmt.Sprintf("%s field %s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s field %s for transaction %s: %v", e.Kind, e.Field, e.TxID, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

var (
	errNoExtractor = errors.New("no extractor for field")
	errNoEncoder   = errors.New("encoder not provided")
	errNoTimestamp = errors.New("timestamp not set")
	errLogDomain   = errors.New("amount must be greater than -1")
	errNotFinite   = errors.New("value is not finite")
)

// Vector is one row of features in schema order.
type Vector []float64

// Matrix is a batch of vectors sharing one schema.
type Matrix struct {
	Schema *Schema
	IDs    []string
	Rows   []Vector
}

// Len returns the number of rows.
func (m *Matrix) Len() int {
	return len(m.Rows)
}

type extractor func(tx *ingest.Transaction) (float64, error)

// Builder produces vectors for a schema using a fitted encoder set.
type Builder struct {
	schema     *Schema
	encoders   *encoder.Set
	extractors []extractor
}

// NewBuilder resolves an extractor for every schema field.
func NewBuilder(schema *Schema, enc *encoder.Set) (*Builder, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	b := &Builder{
		schema:     schema,
		encoders:   enc,
		extractors: make([]extractor, 0, schema.Len()),
	}

	for _, f := range schema.Fields {
		x, err := b.extractorFor(f)
		if err != nil {
			return nil, err
		}
		b.extractors = append(b.extractors, x)
	}

	return b, nil
}

// Schema returns the schema vectors are built for.
func (b *Builder) Schema() *Schema {
	return b.schema
}

// Encoders returns the encoder set used for address fields.
func (b *Builder) Encoders() *encoder.Set {
	return b.encoders
}

// Build converts one transaction into a vector.
func (b *Builder) Build(tx *ingest.Transaction) (Vector, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}

	v := make(Vector, len(b.extractors))
	for i, x := range b.extractors {
		val, err := x(tx)
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				fe.Field = b.schema.Fields[i]
				fe.TxID = tx.ID
				return nil, fe
			}
			return nil, err
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, &FieldError{Field: b.schema.Fields[i], Kind: Invalid, TxID: tx.ID, Err: errNotFinite}
		}
		v[i] = val
	}
	return v, nil
}

// BuildMatrix converts every transaction; the first failure aborts.
func (b *Builder) BuildMatrix(txs []*ingest.Transaction) (*Matrix, error) {
	m := &Matrix{
		Schema: b.schema,
		IDs:    make([]string, 0, len(txs)),
		Rows:   make([]Vector, 0, len(txs)),
	}
	for _, tx := range txs {
		v, err := b.Build(tx)
		if err != nil {
			return nil, fmt.Errorf("error building features: %w", err)
		}
		m.IDs = append(m.IDs, tx.ID)
		m.Rows = append(m.Rows, v)
	}
	return m, nil
}

func (b *Builder) extractorFor(field string) (extractor, error) {
	switch field {
	case FieldAmount:
		return amount, nil
	case FieldLogAmount:
		return logAmount, nil
	case FieldBlockHeight:
		return func(tx *ingest.Transaction) (float64, error) {
			return float64(tx.BlockHeight), nil
		}, nil
	case FieldSender:
		return b.address(field, encoder.SenderColumn, func(tx *ingest.Transaction) string { return tx.Sender })
	case FieldReceiver:
		return b.address(field, encoder.ReceiverColumn, func(tx *ingest.Transaction) string { return tx.Receiver })
	case FieldHour:
		return timePart(func(t time.Time) int { return t.Hour() }), nil
	case FieldDayOfWeek:
		return timePart(DayOfWeek), nil
	case FieldIsError:
		return func(tx *ingest.Transaction) (float64, error) {
			if tx.IsError {
				return 1, nil
			}
			return 0, nil
		}, nil
	default:
		return nil, &FieldError{Field: field, Kind: Missing, Err: errNoExtractor}
	}
}

func (b *Builder) address(field, column string, get func(*ingest.Transaction) string) (extractor, error) {
	enc, ok := b.encoders.Get(column)
	if !ok {
		return nil, &FieldError{Field: field, Kind: Missing, Err: fmt.Errorf("%w: %s", errNoEncoder, column)}
	}
	return func(tx *ingest.Transaction) (float64, error) {
		return float64(enc.Transform(get(tx))), nil
	}, nil
}

func amount(tx *ingest.Transaction) (float64, error) {
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return 0, &FieldError{Kind: Invalid, Err: errNotFinite}
	}
	return tx.Amount, nil
}

func logAmount(tx *ingest.Transaction) (float64, error) {
	a, err := amount(tx)
	if err != nil {
		return 0, err
	}
	if a <= -1 {
		return 0, &FieldError{Kind: Invalid, Err: errLogDomain}
	}
	return math.Log1p(a), nil
}

func timePart(fn func(time.Time) int) extractor {
	return func(tx *ingest.Transaction) (float64, error) {
		if tx.Timestamp.IsZero() {
			return 0, &FieldError{Kind: Missing, Err: errNoTimestamp}
		}
		return float64(fn(tx.Timestamp.UTC())), nil
	}
}

// DayOfWeek numbers days Monday=0 through Sunday=6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
