package encoder

import (
	"encoding/json"
	"testing"

	"github.com/mchmarny/txrisk/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit_FirstSeenOrder(t *testing.T) {
	e := Fit(SenderColumn, []string{"0xb", "0xa", "0xb", "0xc", "0xA"})

	assert.Equal(t, 4, e.Len())
	assert.Equal(t, []string{"0xb", "0xa", "0xc", "0xA"}, e.Values())
	assert.Equal(t, 0, e.Transform("0xb"))
	assert.Equal(t, 1, e.Transform("0xa"))
	assert.Equal(t, 2, e.Transform("0xc"))
	assert.Equal(t, 3, e.Transform("0xA"))
}

func TestTransform_Stable(t *testing.T) {
	e := Fit(ReceiverColumn, []string{"x", "y", "z"})
	first := e.Transform("y")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Transform("y"))
	}
}

func TestTransform_Unknown(t *testing.T) {
	e := Fit(ReceiverColumn, []string{"x", "y"})

	assert.Equal(t, UnknownCode, e.Transform("never-seen"))
	assert.Equal(t, UnknownCode, e.Transform(""))
	assert.Equal(t, UnknownCode, e.Transform("X"))

	for _, v := range e.Values() {
		assert.NotEqual(t, UnknownCode, e.Transform(v))
	}
}

func TestFit_Empty(t *testing.T) {
	e := Fit(SenderColumn, nil)
	assert.Zero(t, e.Len())
	assert.Equal(t, UnknownCode, e.Transform("a"))
}

func TestFingerprint(t *testing.T) {
	a := Fit(SenderColumn, []string{"a", "b"})
	b := Fit(SenderColumn, []string{"a", "b", "a"})
	c := Fit(SenderColumn, []string{"b", "a"})
	d := Fit(ReceiverColumn, []string{"a", "b"})
	e := Fit(SenderColumn, []string{"ab"})
	f := Fit(SenderColumn, []string{"a", "b", ""})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), e.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), f.Fingerprint())
}

func TestEncoder_JSON(t *testing.T) {
	e := Fit(SenderColumn, []string{"q", "p", "r"})

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got Encoder
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, e.Fingerprint(), got.Fingerprint())
	assert.Equal(t, e.Transform("p"), got.Transform("p"))

	assert.Error(t, json.Unmarshal([]byte(`{"column":"","values":[]}`), &got))
	assert.Error(t, json.Unmarshal([]byte(`{"column":"sender","values":["a","a"]}`), &got))
}

func TestSet(t *testing.T) {
	s := FitAddresses([]string{"s1", "s2"}, []string{"r1"})

	assert.Equal(t, []string{ReceiverColumn, SenderColumn}, s.Columns())

	snd, ok := s.Get(SenderColumn)
	require.True(t, ok)
	assert.Equal(t, 1, snd.Transform("s2"))

	_, ok = s.Get("token")
	assert.False(t, ok)

	var nilSet *Set
	_, ok = nilSet.Get(SenderColumn)
	assert.False(t, ok)

	b, err := json.Marshal(s)
	require.NoError(t, err)

	var got Set
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, s.Fingerprint(), got.Fingerprint())

	other := FitAddresses([]string{"s1"}, []string{"r1"})
	assert.NotEqual(t, s.Fingerprint(), other.Fingerprint())
}

func TestFitSet(t *testing.T) {
	txs := []*ingest.Transaction{
		{ID: "t1", Sender: "0xa", Receiver: "0xb"},
		{ID: "t2", Sender: "0xc", Receiver: "0xa"},
		{ID: "t3", Sender: "0xa", Receiver: "0xb"},
	}
	s := FitSet(txs)

	snd, ok := s.Get(SenderColumn)
	require.True(t, ok)
	assert.Equal(t, []string{"0xa", "0xc"}, snd.Values())

	rcv, ok := s.Get(ReceiverColumn)
	require.True(t, ok)
	assert.Equal(t, []string{"0xb", "0xa"}, rcv.Values())
	assert.Equal(t, 1, rcv.Transform("0xa"))

	assert.Equal(t, FitAddresses([]string{"0xa", "0xc", "0xa"}, []string{"0xb", "0xa", "0xb"}).Fingerprint(), s.Fingerprint())
}
