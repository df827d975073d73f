// Package feature turns transactions into fixed-width numeric vectors
// laid out by a versioned Schema. The same Schema value must be used for
// training and scoring.
package feature

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Field names understood by Builder.
const (
	FieldAmount      = "amount"
	FieldLogAmount   = "log_amount"
	FieldBlockHeight = "block_height"
	FieldSender      = "from_addr_hash"
	FieldReceiver    = "to_addr_hash"
	FieldHour        = "hour"
	FieldDayOfWeek   = "dayofweek"
	FieldIsError     = "is_error"

	// DefaultSchemaVersion tags DefaultSchema in model artifacts.
	DefaultSchemaVersion = "1"
)

// Schema is the ordered list of fields making up a feature vector.
type Schema struct {
	Version string   `json:"version" yaml:"version"`
	Fields  []string `json:"fields" yaml:"fields"`
}

// DefaultSchema returns a new copy of the transaction feature schema.
func DefaultSchema() *Schema {
	return &Schema{
		Version: DefaultSchemaVersion,
		Fields: []string{
			FieldAmount,
			FieldLogAmount,
			FieldBlockHeight,
			FieldSender,
			FieldReceiver,
			FieldHour,
			FieldDayOfWeek,
			FieldIsError,
		},
	}
}

// Len returns the vector width.
func (s *Schema) Len() int {
	return len(s.Fields)
}

// Index returns the position of field, or -1.
func (s *Schema) Index(field string) int {
	return slices.Index(s.Fields, field)
}

// Equal reports whether both schemas share version and field order.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Version == o.Version && slices.Equal(s.Fields, o.Fields)
}

// Validate checks the schema is usable.
func (s *Schema) Validate() error {
	if s == nil {
		return errors.New("schema required")
	}
	if s.Version == "" {
		return errors.New("schema version required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s has no fields", s.Version)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if seen[f] {
			return fmt.Errorf("schema %s lists field %s twice", s.Version, f)
		}
		seen[f] = true
	}
	return nil
}

func (s *Schema) String() string {
	return fmt.Sprintf("v%s[%s]", s.Version, strings.Join(s.Fields, ","))
}
