package risk

import (
	"testing"

	"github.com/mchmarny/txrisk/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(id string, risk float64) Row {
	return Row{Transaction: &ingest.Transaction{ID: id}, RiskScore: risk}
}

func ids(rows []Row) []string {
	list := make([]string, len(rows))
	for i, r := range rows {
		list[i] = r.ID()
	}
	return list
}

func TestRank_DedupKeepsHighest(t *testing.T) {
	rows := []Row{row("T1", 40), row("T2", 10), row("T1", 80)}

	got := Rank(rows, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "T1", got[0].ID())
	assert.Equal(t, 80.0, got[0].RiskScore)
	assert.Equal(t, "T2", got[1].ID())
	assert.Equal(t, 10.0, got[1].RiskScore)

	// input is left untouched
	assert.Equal(t, []string{"T1", "T2", "T1"}, ids(rows))
}

func TestRank_Truncation(t *testing.T) {
	rows := []Row{row("a", 1), row("b", 2), row("c", 3), row("a", 4)}

	tests := []struct {
		n    int
		want []string
	}{
		{-1, []string{}},
		{0, []string{}},
		{1, []string{"a"}},
		{2, []string{"a", "c"}},
		{3, []string{"a", "c", "b"}},
		{10, []string{"a", "c", "b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ids(Rank(rows, tt.n)), "n=%d", tt.n)
	}
}

func TestSortByRisk_Stable(t *testing.T) {
	rows := []Row{row("x", 5), row("y", 9), row("z", 5), row("w", 9)}
	assert.Equal(t, []string{"y", "w", "x", "z"}, ids(SortByRisk(rows)))
}

func TestRankAll(t *testing.T) {
	rows := []Row{row("a", 10), row("b", 20), row("a", 30), row("b", 5)}
	got := RankAll(rows)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, 30.0, got[0].RiskScore)
	assert.Equal(t, 20.0, got[1].RiskScore)
}

func TestHistogram(t *testing.T) {
	rows := []Row{row("a", 0), row("b", 9.99), row("c", 10), row("d", 55), row("e", 100)}
	d := Histogram(rows, 10)

	require.Len(t, d.Labels, 10)
	assert.Equal(t, "0-10", d.Labels[0])
	assert.Equal(t, "90-100", d.Labels[9])
	assert.Equal(t, []int{2, 1, 0, 0, 0, 1, 0, 0, 0, 1}, d.Data)

	one := Histogram(rows, 0)
	assert.Equal(t, []int{5}, one.Data)
}
