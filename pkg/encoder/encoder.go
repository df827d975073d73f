// Package encoder maps unbounded categorical values, such as addresses,
// to dense integer codes. An encoder is fitted once on a training batch
// and reused unchanged when scoring later batches.
package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// UnknownCode is returned for values absent from the fitted domain.
const UnknownCode = -1

// Encoder assigns codes 0..k-1 in first-seen order.
type Encoder struct {
	column string
	values []string
	codes  map[string]int
}

// Fit builds an encoder for column from values. Matching is exact and
// case-sensitive.
func Fit(column string, values []string) *Encoder {
	e := &Encoder{
		column: column,
		values: make([]string, 0),
		codes:  make(map[string]int),
	}
	for _, v := range values {
		if _, ok := e.codes[v]; ok {
			continue
		}
		e.codes[v] = len(e.values)
		e.values = append(e.values, v)
	}
	return e
}

// Column returns the name of the encoded column.
func (e *Encoder) Column() string {
	return e.column
}

// Transform returns the code for v, or UnknownCode when v was not seen
// during Fit.
func (e *Encoder) Transform(v string) int {
	if code, ok := e.codes[v]; ok {
		return code
	}
	return UnknownCode
}

// Len returns the number of distinct fitted values.
func (e *Encoder) Len() int {
	return len(e.values)
}

// Values returns the fitted values ordered by code.
func (e *Encoder) Values() []string {
	list := make([]string, len(e.values))
	copy(list, e.values)
	return list
}

// Fingerprint identifies the fitted state: two encoders with equal
// fingerprints assign identical codes.
func (e *Encoder) Fingerprint() string {
	h := sha256.New()
	writeField(h, e.column)
	for _, v := range e.values {
		writeField(h, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type encoderJSON struct {
	Column string   `json:"column"`
	Values []string `json:"values"`
}

func (e *Encoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Column: e.column, Values: e.values})
}

func (e *Encoder) UnmarshalJSON(b []byte) error {
	var v encoderJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("failed to decode encoder: %w", err)
	}
	if v.Column == "" {
		return errors.New("encoder column required")
	}

	fitted := Fit(v.Column, v.Values)
	if fitted.Len() != len(v.Values) {
		return fmt.Errorf("encoder %s has duplicate values", v.Column)
	}
	*e = *fitted
	return nil
}

// writeField length-prefixes s so that field boundaries cannot collide.
func writeField(w io.Writer, s string) {
	_, _ = fmt.Fprintf(w, "%d:", len(s))
	_, _ = io.WriteString(w, s)
}
