package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

type fakeSource struct {
	vectors []model.FeatureVector
}

func (f *fakeSource) ListContractFeatures(context.Context) ([]model.FeatureVector, error) {
	return f.vectors, nil
}

type fakeSink struct {
	replaced [][]model.RiskScore
}

func (f *fakeSink) ReplaceRiskScores(_ context.Context, s []model.RiskScore) error {
	f.replaced = append(f.replaced, s)
	return nil
}

func TestEngineRun_ScoresEveryVector(t *testing.T) {
	src := &fakeSource{vectors: []model.FeatureVector{
		{ContractID: 2, Values: map[string]float64{model.FeatSingleBid: 6.0}},
		{ContractID: 1, Values: map[string]float64{}},
	}}
	sink := &fakeSink{}
	eng, err := NewEngine(testRiskConfig(), src, sink)
	require.NoError(t, err)

	summary, err := eng.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, summary.Status)
	assert.Equal(t, int64(2), summary.Counters["contracts_total"])
	assert.Equal(t, int64(1), summary.Counters["level_low"])
	assert.Equal(t, int64(1), summary.Counters["level_medium"])

	require.Len(t, sink.replaced, 1)
	// Output sorted by contract id regardless of input order.
	assert.Equal(t, int64(1), sink.replaced[0][0].ContractID)
	assert.Equal(t, int64(2), sink.replaced[0][1].ContractID)
}

func TestEngineRun_EmptyFeatureCacheFatal(t *testing.T) {
	eng, err := NewEngine(testRiskConfig(), &fakeSource{}, &fakeSink{})
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), "run-1")
	require.Error(t, err)
}
