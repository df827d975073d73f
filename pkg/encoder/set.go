package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mchmarny/txrisk/pkg/ingest"
)

const (
	// SenderColumn and ReceiverColumn name the address columns encoded
	// for every transaction batch.
	SenderColumn   = "sender"
	ReceiverColumn = "receiver"
)

// Set holds the fitted encoders for all categorical columns of a model.
type Set struct {
	encoders map[string]*Encoder
}

// NewSet groups already fitted encoders by column.
func NewSet(list ...*Encoder) *Set {
	s := &Set{encoders: make(map[string]*Encoder, len(list))}
	for _, e := range list {
		if e != nil {
			s.encoders[e.Column()] = e
		}
	}
	return s
}

// FitAddresses fits sender and receiver encoders from one training batch.
func FitAddresses(senders, receivers []string) *Set {
	return NewSet(
		Fit(SenderColumn, senders),
		Fit(ReceiverColumn, receivers),
	)
}

// FitSet fits sender and receiver encoders from the transactions in order.
func FitSet(txs []*ingest.Transaction) *Set {
	senders := make([]string, len(txs))
	receivers := make([]string, len(txs))
	for i, tx := range txs {
		senders[i] = tx.Sender
		receivers[i] = tx.Receiver
	}
	return FitAddresses(senders, receivers)
}

// Get returns the encoder for column.
func (s *Set) Get(column string) (*Encoder, bool) {
	if s == nil {
		return nil, false
	}
	e, ok := s.encoders[column]
	return e, ok
}

// Columns returns the encoded column names in sorted order.
func (s *Set) Columns() []string {
	if s == nil {
		return nil
	}
	list := make([]string, 0, len(s.encoders))
	for k := range s.encoders {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}

// Fingerprint combines the fingerprints of every encoder in the set.
func (s *Set) Fingerprint() string {
	h := sha256.New()
	for _, c := range s.Columns() {
		writeField(h, s.encoders[c].Fingerprint())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Set) MarshalJSON() ([]byte, error) {
	list := make([]*Encoder, 0, len(s.encoders))
	for _, c := range s.Columns() {
		list = append(list, s.encoders[c])
	}
	return json.Marshal(list)
}

func (s *Set) UnmarshalJSON(b []byte) error {
	var list []*Encoder
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("failed to decode encoder set: %w", err)
	}
	*s = *NewSet(list...)
	return nil
}
