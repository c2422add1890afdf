package dedup

import (
	"math"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// Fellegi-Sunter style field agreement weights. Each field contributes
// log2(m/u) evidence when it agrees and log2((1-m)/(1-u)) when it
// disagrees, where m is the agreement probability among true matches
// and u among non-matches. The constants below were fit once against
// the hand-labeled vendor pairs and are deliberately conservative:
// rarer agreement carries more weight.
type linkageField struct {
	name string
	m    float64
	u    float64
	// agrees reports field agreement for the pair.
	agrees func(a, b pairSide) bool
}

// pairSide carries the per-vendor fields the linkage model compares.
type pairSide struct {
	norm  model.NormalizedVendor
	taxID string
}

var linkageFields = []linkageField{
	{
		name: "base_name",
		m:    0.92, u: 0.0002,
		agrees: func(a, b pairSide) bool {
			return a.norm.BaseName != "" && a.norm.BaseName == b.norm.BaseName
		},
	},
	{
		name: "phonetic_seq",
		m:    0.88, u: 0.002,
		agrees: func(a, b pairSide) bool {
			if len(a.norm.PhoneticCodes) == 0 || len(a.norm.PhoneticCodes) != len(b.norm.PhoneticCodes) {
				return false
			}
			for i := range a.norm.PhoneticCodes {
				if a.norm.PhoneticCodes[i] != b.norm.PhoneticCodes[i] {
					return false
				}
			}
			return true
		},
	},
	{
		name: "tax_prefix",
		m:    0.75, u: 0.01,
		agrees: func(a, b pairSide) bool {
			if len(a.taxID) < 3 || len(b.taxID) < 3 {
				return false
			}
			return a.taxID[:3] == b.taxID[:3]
		},
	},
	{
		name: "entity_kind",
		m:    0.95, u: 0.5,
		agrees: func(a, b pairSide) bool {
			return a.norm.IsIndividual == b.norm.IsIndividual
		},
	},
}

// linkageProbability combines per-field agreement evidence into a
// match probability via a logistic transform of the summed log
// likelihood ratios.
func linkageProbability(a, b pairSide) float64 {
	var weight float64
	for _, f := range linkageFields {
		if f.agrees(a, b) {
			weight += math.Log2(f.m / f.u)
		} else {
			weight += math.Log2((1 - f.m) / (1 - f.u))
		}
	}
	// Logistic over the total evidence; prior odds folded into the
	// field constants.
	return 1 / (1 + math.Exp2(-weight))
}

// jaccardSignal reports whether a pair has enough token signal for
// the Jaccard tier: at least one side with two or more tokens.
func jaccardSignal(a, b model.NormalizedVendor) bool {
	return len(a.Tokens) >= 2 || len(b.Tokens) >= 2
}
