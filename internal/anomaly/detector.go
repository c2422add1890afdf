package anomaly

import (
	"math"
	"math/rand"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// Strategy scores one sector's feature matrix. Raw scores are
// relative; the engine min-max normalizes them per sector before
// persistence.
type Strategy interface {
	// Score returns one raw anomaly score per matrix row, larger =
	// more anomalous. The rng makes the run reproducible.
	Score(matrix [][]float64, rng *rand.Rand) []float64
	// Model tags persisted records with the strategy that made them.
	Model() model.AnomalyModel
}

func (f *IsolationForest) Model() model.AnomalyModel { return model.AnomalyModelForest }

// ZScoreFallback is the univariate strategy used when the forest is
// disabled: a row's raw score is the magnitude of its feature
// vector. Cheap, order-free, and good enough to keep the anomaly
// surface alive when the ensemble is turned off.
type ZScoreFallback struct{}

func (ZScoreFallback) Model() model.AnomalyModel { return model.AnomalyModelZScore }

func (ZScoreFallback) Score(matrix [][]float64, _ *rand.Rand) []float64 {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		var ss float64
		for _, v := range row {
			ss += v * v
		}
		scores[i] = math.Sqrt(ss)
	}
	return scores
}
