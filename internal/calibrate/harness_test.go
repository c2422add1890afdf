package calibrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/risk"
)

type fakeSource struct {
	contracts []model.Contract
	vectors   []model.FeatureVector
	mappings  []model.VendorMapping
	truth     []int64
	anomalies []model.AnomalyRecord
}

func (f *fakeSource) ListContracts(context.Context) ([]model.Contract, error) {
	return f.contracts, nil
}

func (f *fakeSource) ListContractFeatures(context.Context) ([]model.FeatureVector, error) {
	return f.vectors, nil
}

func (f *fakeSource) ListVendorMappings(context.Context) ([]model.VendorMapping, error) {
	return f.mappings, nil
}

func (f *fakeSource) ListGroundTruthVendors(context.Context) ([]int64, error) {
	return f.truth, nil
}

func (f *fakeSource) ListAnomalies(_ context.Context, _ model.AnomalyModel) ([]model.AnomalyRecord, error) {
	return f.anomalies, nil
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		ModelVersion:      risk.ModelVersion,
		ZRef:              3.0,
		CriticalThreshold: 0.50,
		HighThreshold:     0.30,
		MediumThreshold:   0.10,
	}
}

// backtestFixture: suspect vendors 1 and 2 hold the high-signal
// contracts; clean vendors hold quiet ones.
func backtestFixture() *fakeSource {
	src := &fakeSource{truth: []int64{1, 2}}
	for i := 0; i < 20; i++ {
		id := int64(i + 1)
		vendor := int64(i%10 + 1)
		src.contracts = append(src.contracts, model.Contract{ID: id, VendorID: vendor, SectorID: 1, Year: 2022})

		z := 0.2
		if vendor == 1 || vendor == 2 {
			z = 5.0
		}
		src.vectors = append(src.vectors, model.FeatureVector{
			ContractID: id,
			Cohort:     model.CohortKey{SectorID: 1, Year: 2022},
			Values: map[string]float64{
				model.FeatSingleBid:  z,
				model.FeatPriceRatio: z,
			},
		})
	}
	return src
}

func TestCompareWeights_BaselineSeparates(t *testing.T) {
	h := NewHarness(config.CalibrateConfig{AdoptionMargin: 0.01, EnsembleStep: 0.05}, testRiskConfig(), backtestFixture())

	report, err := h.CompareWeights(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Labeled)
	assert.Equal(t, 4, report.Positives)
	assert.Equal(t, 1.0, report.BaselineAUC)
}

func TestCompareWeights_WorseCandidateNotAdopted(t *testing.T) {
	h := NewHarness(config.CalibrateConfig{AdoptionMargin: 0.01, EnsembleStep: 0.05}, testRiskConfig(), backtestFixture())

	// Shift all weight onto a dimension the fixture never sets: the
	// candidate cannot rank anything.
	worse := testRiskConfig()
	worse.Weights = map[string]float64{model.FeatTenure: 1.0}

	report, err := h.CompareWeights(context.Background(), []Candidate{{Name: "tenure_only", Cfg: worse}})
	require.NoError(t, err)
	require.Len(t, report.Candidates, 1)
	assert.False(t, report.Candidates[0].Adopt)
	assert.Less(t, report.Candidates[0].AUC, report.BaselineAUC)
}

func TestCompareWeights_MarginBlocksNoise(t *testing.T) {
	// A candidate identical to production gains exactly nothing and
	// must not be adopted.
	h := NewHarness(config.CalibrateConfig{AdoptionMargin: 0.01, EnsembleStep: 0.05}, testRiskConfig(), backtestFixture())

	report, err := h.CompareWeights(context.Background(), []Candidate{{Name: "same", Cfg: testRiskConfig()}})
	require.NoError(t, err)
	require.Len(t, report.Candidates, 1)
	assert.Equal(t, 0.0, report.Candidates[0].Delta)
	assert.False(t, report.Candidates[0].Adopt)
}

func TestCompareWeights_EmptyGroundTruthFatal(t *testing.T) {
	src := backtestFixture()
	src.truth = nil
	h := NewHarness(config.CalibrateConfig{}, testRiskConfig(), src)
	_, err := h.CompareWeights(context.Background(), nil)
	require.Error(t, err)
}

func TestCompareWeights_CanonicalMapping(t *testing.T) {
	// Ground truth names vendor 11, a duplicate mapped to canonical
	// vendor 1. Contracts under vendor 1 must still label positive.
	src := backtestFixture()
	src.truth = []int64{11}
	src.mappings = []model.VendorMapping{{VendorID: 11, CanonicalID: 1}}

	h := NewHarness(config.CalibrateConfig{}, testRiskConfig(), src)
	report, err := h.CompareWeights(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Positives)
}

func TestEnsembleSweep_AnomalyLiftAdopted(t *testing.T) {
	// The weighted model misses vendor 2's contracts (quiet
	// features), but the anomaly detector flags them.
	src := backtestFixture()
	for i := range src.vectors {
		vendor := src.contracts[i].VendorID
		if vendor == 2 {
			src.vectors[i].Values = map[string]float64{}
		}
		if vendor == 1 || vendor == 2 {
			src.anomalies = append(src.anomalies, model.AnomalyRecord{
				ContractID:   src.vectors[i].ContractID,
				SectorID:     1,
				Model:        model.AnomalyModelForest,
				AnomalyScore: 1.0,
			})
		}
	}

	h := NewHarness(config.CalibrateConfig{AdoptionMargin: 0.01, EnsembleStep: 0.05}, testRiskConfig(), src)
	result, err := h.EnsembleSweep(context.Background(), model.AnomalyModelForest)
	require.NoError(t, err)

	assert.Less(t, result.BaselineAUC, 1.0)
	assert.Greater(t, result.BestAUC, result.BaselineAUC)
	assert.Greater(t, result.BestAlpha, 0.0)
	assert.True(t, result.Adopt)
}

type fakePartitioner struct {
	calls   int
	results [][]model.VendorMapping
	err     error
}

func (f *fakePartitioner) Partition(context.Context) ([]model.VendorMapping, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := f.results[f.calls%len(f.results)]
	f.calls++
	return r, nil
}

func TestCheckReproducibility_StablePasses(t *testing.T) {
	stable := []model.VendorMapping{
		{VendorID: 1, CanonicalID: 1}, {VendorID: 2, CanonicalID: 1},
	}
	p := &fakePartitioner{results: [][]model.VendorMapping{stable}}
	assert.NoError(t, CheckReproducibility(context.Background(), p))
	assert.Equal(t, 2, p.calls)
}

func TestCheckReproducibility_DivergenceFails(t *testing.T) {
	p := &fakePartitioner{results: [][]model.VendorMapping{
		{{VendorID: 1, CanonicalID: 1}, {VendorID: 2, CanonicalID: 1}},
		{{VendorID: 1, CanonicalID: 1}, {VendorID: 2, CanonicalID: 2}},
	}}
	err := CheckReproducibility(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverged")
}

func TestCheckReproducibility_PartitionErrorPropagates(t *testing.T) {
	p := &fakePartitioner{err: errors.New("db locked")}
	require.Error(t, CheckReproducibility(context.Background(), p))
}
