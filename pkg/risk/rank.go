package risk

import (
	"fmt"
	"slices"

	"github.com/mchmarny/txrisk/pkg/ingest"
)

// Row is a scored transaction.
type Row struct {
	Transaction  *ingest.Transaction `json:"transaction" yaml:"transaction"`
	AnomalyScore float64             `json:"anomaly_score" yaml:"anomalyScore"`
	RiskScore    float64             `json:"risk_score" yaml:"riskScore"`
	IsAnomaly    bool                `json:"is_anomaly" yaml:"isAnomaly"`
}

// ID returns the transaction id of the row.
func (r Row) ID() string {
	if r.Transaction == nil {
		return ""
	}
	return r.Transaction.ID
}

// SortByRisk returns a copy of rows ordered by descending RiskScore. Rows
// with equal risk keep their input order.
func SortByRisk(rows []Row) []Row {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b Row) int {
		switch {
		case a.RiskScore > b.RiskScore:
			return -1
		case a.RiskScore < b.RiskScore:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Dedup keeps the first row seen for each transaction id.
func Dedup(rows []Row) []Row {
	seen := make(map[string]bool, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		id := r.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}

// RankAll sorts rows by risk and removes duplicate ids, keeping the
// highest-risk occurrence of each.
func RankAll(rows []Row) []Row {
	return Dedup(SortByRisk(rows))
}

// Rank returns at most n rows of RankAll. n <= 0 yields no rows.
func Rank(rows []Row, n int) []Row {
	if n <= 0 {
		return []Row{}
	}
	all := RankAll(rows)
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Distribution is a histogram of risk scores.
type Distribution struct {
	Labels []string `json:"labels" yaml:"labels"`
	Data   []int    `json:"data" yaml:"data"`
}

// Histogram buckets risk scores into equal-width bins over [0, 100]. The
// last bin includes 100.
func Histogram(rows []Row, bins int) *Distribution {
	if bins < 1 {
		bins = 1
	}
	d := &Distribution{
		Labels: make([]string, bins),
		Data:   make([]int, bins),
	}

	width := float64(maxRisk) / float64(bins)
	for i := range d.Labels {
		d.Labels[i] = fmt.Sprintf("%g-%g", float64(i)*width, float64(i+1)*width)
	}

	for _, r := range rows {
		b := int(r.RiskScore / width)
		b = max(0, min(b, bins-1))
		d.Data[b]++
	}
	return d
}
