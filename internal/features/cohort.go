package features

import (
	"math"
	"sort"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// BuildCohorts assigns every contract to its comparison population.
// The primary cohort is (sector, year); a cohort below minSize is
// folded into the sector-wide all-years cohort (Year 0) so z-scores
// stay statistically meaningful. Returns the member lists and the
// per-contract assignment.
func BuildCohorts(contracts []model.Contract, minSize int) (map[model.CohortKey][]model.Contract, map[int64]model.CohortKey) {
	byKey := make(map[model.CohortKey][]model.Contract)
	for _, c := range contracts {
		k := model.CohortKey{SectorID: c.SectorID, Year: c.Year}
		byKey[k] = append(byKey[k], c)
	}

	// Undersized cohorts widen to the whole sector. The widened
	// cohort holds every contract of the sector, not only the ones
	// from small years, so its statistics describe a real population.
	widened := make(map[int64]bool)
	for k, members := range byKey {
		if len(members) < minSize {
			widened[k.SectorID] = true
		}
	}
	for sector := range widened {
		wide := model.CohortKey{SectorID: sector, Year: 0}
		var all []model.Contract
		for _, c := range contracts {
			if c.SectorID == sector {
				all = append(all, c)
			}
		}
		byKey[wide] = all
	}

	assign := make(map[int64]model.CohortKey, len(contracts))
	out := make(map[model.CohortKey][]model.Contract)
	for _, c := range contracts {
		k := model.CohortKey{SectorID: c.SectorID, Year: c.Year}
		if len(byKey[k]) < minSize {
			k = model.CohortKey{SectorID: c.SectorID, Year: 0}
		}
		assign[c.ID] = k
		out[k] = append(out[k], c)
	}

	// A widened cohort's member list is the full sector population,
	// not only the contracts assigned to it: its statistics must
	// describe the sector, however few contracts fold into it.
	for k := range out {
		if k.Year == 0 {
			out[k] = byKey[k]
		}
	}
	return out, assign
}

// stddev guard: below this the cohort is treated as degenerate and
// every z-score in the dimension is 0.
const minStddev = 1e-9

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// zscore maps raw values to (raw-mean)/stddev, with 0 for every
// member of a degenerate (near-zero variance) dimension.
func zscore(raw float64, m, sd float64) float64 {
	if sd < minStddev {
		return 0
	}
	return (raw - m) / sd
}
