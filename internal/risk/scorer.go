package risk

import (
	"github.com/rotisserie/eris"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// Scorer turns a z-scored feature vector into a bounded risk score.
// The aggregate is in [0,1] by construction: each dimension
// contributes at most its weight, and the weights sum to 1.0.
type Scorer struct {
	cfg     config.RiskConfig
	weights map[string]float64
}

// NewScorer validates the configured weight table, falling back to
// the built-in table when the config carries none.
func NewScorer(cfg config.RiskConfig) (*Scorer, error) {
	weights := cfg.Weights
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	if err := ValidateWeights(weights); err != nil {
		return nil, err
	}
	if cfg.ZRef <= 0 {
		return nil, eris.New("risk: z_ref must be positive")
	}
	if cfg.ModelVersion == "" {
		cfg.ModelVersion = ModelVersion
	}
	return &Scorer{cfg: cfg, weights: weights}, nil
}

// Score computes the weighted aggregate and its derived level. The
// per-dimension contributions are recorded so the driver of a score
// stays auditable.
func (s *Scorer) Score(fv model.FeatureVector) model.RiskScore {
	components := make(map[string]float64, len(s.weights))
	var total float64
	// Canonical feature order keeps the float sum bit-stable across
	// runs; every validated weight name is in FeatureNames.
	for _, name := range model.FeatureNames {
		weight, ok := s.weights[name]
		if !ok {
			continue
		}
		c := weight * s.bound(fv.Get(name))
		components[name] = c
		total += c
	}
	return model.RiskScore{
		ContractID:   fv.ContractID,
		Score:        total,
		Level:        s.LevelFromScore(total),
		ModelVersion: s.cfg.ModelVersion,
		Components:   components,
	}
}

// bound maps a z-score to a [0,1] contribution fraction. Risk runs in
// the positive direction only; the transform saturates at ZRef so a
// single extreme dimension cannot spend more than its weight.
func (s *Scorer) bound(z float64) float64 {
	v := z / s.cfg.ZRef
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LevelFromScore derives the discrete band from the score and the
// active threshold table. This is the only place levels come from;
// stored levels are recomputed, never edited.
func (s *Scorer) LevelFromScore(score float64) model.RiskLevel {
	switch {
	case score >= s.cfg.CriticalThreshold:
		return model.LevelCritical
	case score >= s.cfg.HighThreshold:
		return model.LevelHigh
	case score >= s.cfg.MediumThreshold:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

// Relevel recomputes every stored level from its score under the
// current thresholds. Run eagerly after any threshold change so
// stored bands never drift from the table that defines them.
func (s *Scorer) Relevel(scores []model.RiskScore) (updated int) {
	for i := range scores {
		level := s.LevelFromScore(scores[i].Score)
		if scores[i].Level != level {
			scores[i].Level = level
			updated++
		}
	}
	return updated
}
