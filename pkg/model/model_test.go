package model

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mchmarny/txrisk/pkg/encoder"
	"github.com/mchmarny/txrisk/pkg/feature"
	"github.com/mchmarny/txrisk/pkg/forest"
	"github.com/mchmarny/txrisk/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outlierID = "0xoutlier"

var baseTime = time.Date(2024, 3, 4, 2, 0, 0, 0, time.UTC)

func makeTx(i int, amount float64) *ingest.Transaction {
	return &ingest.Transaction{
		Row:         i,
		ID:          fmt.Sprintf("0x%04d", i),
		Amount:      amount,
		BlockHeight: 18_000_000 + int64(i),
		Timestamp:   baseTime.Add(time.Duration(i) * time.Minute),
		Sender:      fmt.Sprintf("0xs%d", i%5),
		Receiver:    fmt.Sprintf("0xr%d", i%3),
	}
}

// trainingTxs returns amounts 1..1000 plus one 1,000,000 record whose other
// features sit in the middle of the batch.
func trainingTxs() []*ingest.Transaction {
	list := make([]*ingest.Transaction, 0, 1001)
	for i := 1; i <= 1000; i++ {
		list = append(list, makeTx(i, float64(i)))
	}
	out := makeTx(500, 1_000_000)
	out.ID = outlierID
	return append(list, out)
}

func testForestConfig() forest.Config {
	cfg := forest.DefaultConfig()
	cfg.Trees = 60
	cfg.Workers = 2
	return cfg
}

func trainTestModel(t *testing.T) (*Model, []*ingest.Transaction) {
	t.Helper()
	txs := trainingTxs()
	schema := feature.DefaultSchema()
	enc := encoder.FitSet(txs)

	b, err := feature.NewBuilder(schema, enc)
	require.NoError(t, err)
	x, err := b.BuildMatrix(txs)
	require.NoError(t, err)

	m, err := Train(context.Background(), schema, x, enc, testForestConfig())
	require.NoError(t, err)
	return m, txs
}

func TestTrain(t *testing.T) {
	m, txs := trainTestModel(t)

	assert.NoError(t, m.Validate())
	assert.Equal(t, len(txs), m.TrainingRows)
	assert.Equal(t, 8, m.Scaler.Width())
	assert.Len(t, m.Forest.Trees, 60)
	assert.False(t, m.TrainedAt.IsZero())
}

func TestTrain_TooFewRows(t *testing.T) {
	txs := trainingTxs()[:MinTrainingRows-1]
	schema := feature.DefaultSchema()
	enc := encoder.FitSet(txs)
	b, err := feature.NewBuilder(schema, enc)
	require.NoError(t, err)
	x, err := b.BuildMatrix(txs)
	require.NoError(t, err)

	_, err = Train(context.Background(), schema, x, enc, testForestConfig())
	var te *TrainingError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, MinTrainingRows-1, te.Rows)
}

func TestTrain_Errors(t *testing.T) {
	ctx := context.Background()
	schema := feature.DefaultSchema()
	enc := encoder.NewSet()

	rows := make([]feature.Vector, 20)
	ids := make([]string, 20)
	for i := range rows {
		rows[i] = feature.Vector{1, 2, 3, 4, 5, 6, 7, 0}
		ids[i] = fmt.Sprintf("t%d", i)
	}

	_, err := Train(ctx, schema, &feature.Matrix{Schema: schema, IDs: ids, Rows: rows}, enc, testForestConfig())
	assert.ErrorIs(t, err, ErrDegenerateScaler)
	assert.ErrorContains(t, err, "20 rows")

	other := &feature.Schema{Version: "2", Fields: schema.Fields}
	_, err = Train(ctx, schema, &feature.Matrix{Schema: other, IDs: ids, Rows: rows}, enc, testForestConfig())
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	narrow := []feature.Vector{{1, 2}}
	_, err = Train(ctx, schema, &feature.Matrix{Schema: schema, IDs: ids[:1], Rows: narrow}, enc, testForestConfig())
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = Train(ctx, schema, nil, enc, testForestConfig())
	assert.Error(t, err)

	_, err = Train(ctx, schema, &feature.Matrix{Schema: schema, IDs: ids, Rows: rows}, nil, testForestConfig())
	assert.Error(t, err)
}

func TestScore_OutlierRanksFirst(t *testing.T) {
	m, txs := trainTestModel(t)

	b, err := m.Builder()
	require.NoError(t, err)

	// the outlier plus ordinary records from the middle of the batch
	batch := append([]*ingest.Transaction{txs[len(txs)-1]}, txs[450:550]...)
	res, err := m.ScoreTransactions(b, batch)
	require.NoError(t, err)
	require.Len(t, res, len(batch))

	for i := 1; i < len(res); i++ {
		assert.Greater(t, res[0].AnomalyScore, res[i].AnomalyScore, batch[i].ID)
	}
}

func TestScore_Deterministic(t *testing.T) {
	m, txs := trainTestModel(t)
	b, err := m.Builder()
	require.NoError(t, err)

	first, err := m.ScoreTransactions(b, txs)
	require.NoError(t, err)
	second, err := m.ScoreTransactions(b, txs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScore_DecisionSign(t *testing.T) {
	m, txs := trainTestModel(t)
	b, err := m.Builder()
	require.NoError(t, err)

	res, err := m.ScoreTransactions(b, txs)
	require.NoError(t, err)

	flagged := 0
	for _, r := range res {
		assert.Equal(t, r.AnomalyScore > 0, r.IsAnomaly)
		if r.IsAnomaly {
			flagged++
		}
	}
	assert.Positive(t, flagged)
	assert.Less(t, flagged, len(res)/10)
}

func TestScore_Mismatch(t *testing.T) {
	m, txs := trainTestModel(t)

	other := &feature.Schema{Version: "2", Fields: m.Schema.Fields}
	_, err := m.Score(&feature.Matrix{Schema: other})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = m.Score(&feature.Matrix{
		Schema: m.Schema,
		IDs:    []string{"x"},
		Rows:   []feature.Vector{{1, 2, 3}},
	})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = m.Score(nil)
	assert.Error(t, err)

	// features built with a refitted encoder set are rejected
	refit := encoder.FitSet(txs[100:])
	b, err := feature.NewBuilder(m.Schema, refit)
	require.NoError(t, err)
	_, err = m.ScoreTransactions(b, txs)
	assert.ErrorIs(t, err, ErrEncoderMismatch)
}
