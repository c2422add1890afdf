package anomaly

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

type fakeSource struct {
	vectors []model.FeatureVector
}

func (f *fakeSource) ListContractFeatures(context.Context) ([]model.FeatureVector, error) {
	return f.vectors, nil
}

type fakeSink struct {
	model    model.AnomalyModel
	replaced [][]model.AnomalyRecord
}

func (f *fakeSink) ReplaceAnomalies(_ context.Context, m model.AnomalyModel, r []model.AnomalyRecord) error {
	f.model = m
	f.replaced = append(f.replaced, r)
	return nil
}

func testAnomalyConfig() config.AnomalyConfig {
	return config.AnomalyConfig{
		Strategy:    "isolation_forest",
		Trees:       50,
		SampleSize:  128,
		TopN:        10,
		MinSector:   100,
		ClipStdDevs: 10,
		Seed:        42,
		Workers:     2,
	}
}

// sectorVectors builds a tight cluster of ordinary contracts plus one
// far outlier, all in one sector.
func sectorVectors(sector int64, n int, rng *rand.Rand) []model.FeatureVector {
	out := make([]model.FeatureVector, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, model.FeatureVector{
			ContractID: int64(sector)*10000 + int64(i+1),
			Cohort:     model.CohortKey{SectorID: sector, Year: 2022},
			Values: map[string]float64{
				model.FeatPriceRatio: rng.NormFloat64() * 0.5,
				model.FeatSingleBid:  rng.NormFloat64() * 0.5,
				model.FeatWinRate:    rng.NormFloat64() * 0.5,
			},
		})
	}
	out = append(out, model.FeatureVector{
		ContractID: int64(sector)*10000 + 9999,
		Cohort:     model.CohortKey{SectorID: sector, Year: 2022},
		Values: map[string]float64{
			model.FeatPriceRatio: 8.0,
			model.FeatSingleBid:  8.0,
			model.FeatWinRate:    8.0,
		},
	})
	return out
}

func TestEngineRun_OutlierRankedFirst(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src := &fakeSource{vectors: sectorVectors(1, 150, rng)}
	sink := &fakeSink{}
	eng, err := NewEngine(testAnomalyConfig(), src, sink)
	require.NoError(t, err)

	summary, err := eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, summary.Status)
	assert.Equal(t, model.AnomalyModelForest, sink.model)

	require.Len(t, sink.replaced, 1)
	records := sink.replaced[0]
	require.NotEmpty(t, records)

	var best model.AnomalyRecord
	for _, r := range records {
		if r.AnomalyScore > best.AnomalyScore {
			best = r
		}
	}
	assert.Equal(t, int64(19999), best.ContractID)
	assert.Equal(t, 1.0, best.AnomalyScore)
}

func TestEngineRun_TopNCap(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	src := &fakeSource{vectors: sectorVectors(1, 300, rng)}
	sink := &fakeSink{}
	eng, err := NewEngine(testAnomalyConfig(), src, sink)
	require.NoError(t, err)

	summary, err := eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Counters["anomalies_retained"])
	assert.Len(t, sink.replaced[0], 10)
}

func TestEngineRun_SmallSectorSkipped(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vectors := sectorVectors(1, 150, rng)
	vectors = append(vectors, sectorVectors(2, 20, rng)...)
	src := &fakeSource{vectors: vectors}
	sink := &fakeSink{}
	eng, err := NewEngine(testAnomalyConfig(), src, sink)
	require.NoError(t, err)

	summary, err := eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Counters["sectors_total"])
	assert.Equal(t, int64(1), summary.Counters["sectors_skipped"])

	for _, r := range sink.replaced[0] {
		assert.Equal(t, int64(1), r.SectorID)
	}
}

func TestEngineRun_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	vectors := sectorVectors(1, 150, rng)
	vectors = append(vectors, sectorVectors(2, 150, rng)...)
	src := &fakeSource{vectors: vectors}
	sink := &fakeSink{}
	eng, err := NewEngine(testAnomalyConfig(), src, sink)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), "run-2")
	require.NoError(t, err)

	require.Len(t, sink.replaced, 2)
	assert.Equal(t, sink.replaced[0], sink.replaced[1])
}

func TestEngineRun_ScoresBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	src := &fakeSource{vectors: sectorVectors(1, 150, rng)}
	sink := &fakeSink{}
	eng, err := NewEngine(testAnomalyConfig(), src, sink)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	for _, r := range sink.replaced[0] {
		assert.GreaterOrEqual(t, r.AnomalyScore, 0.0)
		assert.LessOrEqual(t, r.AnomalyScore, 1.0)
	}
}

func TestEngineRun_ZScoreFallback(t *testing.T) {
	cfg := testAnomalyConfig()
	cfg.Strategy = "zscore"
	rng := rand.New(rand.NewSource(6))
	src := &fakeSource{vectors: sectorVectors(1, 150, rng)}
	sink := &fakeSink{}
	eng, err := NewEngine(cfg, src, sink)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.AnomalyModelZScore, sink.model)

	var best model.AnomalyRecord
	for _, r := range sink.replaced[0] {
		if r.AnomalyScore > best.AnomalyScore {
			best = r
		}
	}
	assert.Equal(t, int64(19999), best.ContractID)
}

func TestNewEngine_UnknownStrategy(t *testing.T) {
	cfg := testAnomalyConfig()
	cfg.Strategy = "kmeans"
	_, err := NewEngine(cfg, &fakeSource{}, &fakeSink{})
	require.Error(t, err)
}

func TestMinMax(t *testing.T) {
	assert.Nil(t, minMax(nil))
	assert.Equal(t, []float64{0, 0, 0}, minMax([]float64{5, 5, 5}))
	assert.Equal(t, []float64{0, 0.5, 1}, minMax([]float64{2, 3, 4}))
}

func TestClip(t *testing.T) {
	assert.Equal(t, 10.0, clip(50, 10))
	assert.Equal(t, -10.0, clip(-50, 10))
	assert.Equal(t, 3.0, clip(3, 10))
}
