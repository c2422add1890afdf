package risk

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// ModelVersion tags the active weight table. Persisted with every
// score; changing any weight requires a new version.
const ModelVersion = "v4.0"

// DefaultWeights is the v4.0 weight table. Weights are documented
// shares of the final score and sum to exactly 1.0. network_degree
// carries the network-centrality share; co_bid_clustering is listed
// separately because a dense local clique is evidence on its own.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		model.FeatSingleBid:           0.15,
		model.FeatNetworkDegree:       0.15,
		model.FeatPriceRatio:          0.15,
		model.FeatClientConcentration: 0.10,
		model.FeatDirectAward:         0.10,
		model.FeatAdvertPeriod:        0.08,
		model.FeatWinRate:             0.07,
		model.FeatGrowthAnomaly:       0.06,
		model.FeatSameDayFilings:      0.05,
		model.FeatCoBidClustering:     0.05,
		model.FeatTenure:              0.04,
	}
}

const weightSumTolerance = 1e-9

// ValidateWeights rejects weight tables that could produce an
// unbounded or unauditable score: unknown dimensions, negative
// weights, or a sum that is not 1.0.
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return eris.New("risk: empty weight table")
	}

	known := make(map[string]struct{}, len(model.FeatureNames))
	for _, name := range model.FeatureNames {
		known[name] = struct{}{}
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		w := weights[name]
		if _, ok := known[name]; !ok {
			return eris.Errorf("risk: unknown weight dimension %q", name)
		}
		if w < 0 {
			return eris.Errorf("risk: negative weight for %q", name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return eris.Errorf("risk: weights sum to %.6f, want 1.0", sum)
	}
	return nil
}
