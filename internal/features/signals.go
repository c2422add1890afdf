package features

import (
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// sectorContext precomputes the cross-contract aggregates one
// sector's raw signals need. Built once per sector per run; raw
// signals read it without further passes over the contract table.
type sectorContext struct {
	graph *coBidGraph

	// vendorYearValue sums contract amounts per vendor per year.
	vendorYearValue map[int64]map[int]float64
	// instTotal counts contracts per institution across the sector.
	instTotal map[int64]int
	// vendorInstCount counts a vendor's contracts with an institution.
	vendorInstCount map[[2]int64]int
	// vendorInstYears counts distinct contract years per
	// (vendor, institution) pair, the tenure signal.
	vendorInstYears map[[2]int64]int
	// sameDay counts filings per (vendor, filed_date).
	sameDay map[vendorDay]int
}

type vendorDay struct {
	vendor int64
	date   string
}

func buildSectorContext(contracts []model.Contract) *sectorContext {
	sc := &sectorContext{
		graph:           buildCoBidGraph(contracts),
		vendorYearValue: make(map[int64]map[int]float64),
		instTotal:       make(map[int64]int),
		vendorInstCount: make(map[[2]int64]int),
		vendorInstYears: make(map[[2]int64]int),
		sameDay:         make(map[vendorDay]int),
	}

	yearsSeen := make(map[[2]int64]map[int]struct{})
	for _, c := range contracts {
		if sc.vendorYearValue[c.VendorID] == nil {
			sc.vendorYearValue[c.VendorID] = make(map[int]float64)
		}
		sc.vendorYearValue[c.VendorID][c.Year] += c.Amount

		sc.instTotal[c.InstitutionID]++
		pair := [2]int64{c.VendorID, c.InstitutionID}
		sc.vendorInstCount[pair]++
		if yearsSeen[pair] == nil {
			yearsSeen[pair] = make(map[int]struct{})
		}
		yearsSeen[pair][c.Year] = struct{}{}

		if c.FiledDate != "" {
			sc.sameDay[vendorDay{vendor: c.VendorID, date: c.FiledDate}]++
		}
	}
	for pair, years := range yearsSeen {
		sc.vendorInstYears[pair] = len(years)
	}
	return sc
}

// cohortStats carries per-cohort aggregates shared by every member's
// raw signals.
type cohortStats struct {
	medianAmount float64
	totalValue   float64
	vendorValue  map[int64]float64
}

func buildCohortStats(members []model.Contract) cohortStats {
	st := cohortStats{vendorValue: make(map[int64]float64)}
	amounts := make([]float64, 0, len(members))
	for _, c := range members {
		amounts = append(amounts, c.Amount)
		st.totalValue += c.Amount
		st.vendorValue[c.VendorID] += c.Amount
	}
	st.medianAmount = median(amounts)
	return st
}

// rawSignals computes every named raw signal for one contract. Each
// value is cohort- or sector-relative input to z-scoring, not a
// z-score itself.
func rawSignals(c model.Contract, st cohortStats, sc *sectorContext) map[string]float64 {
	raw := make(map[string]float64, len(model.FeatureNames))

	if st.medianAmount > 0 {
		raw[model.FeatPriceRatio] = c.Amount / st.medianAmount
	}

	raw[model.FeatSingleBid] = boolSignal(c.SingleBid)
	raw[model.FeatDirectAward] = boolSignal(c.DirectAward)

	if st.totalValue > 0 {
		raw[model.FeatClientConcentration] = st.vendorValue[c.VendorID] / st.totalValue
	}

	// Short advertisement periods are the risk direction; the sign is
	// flipped so downstream bounding treats them as positive evidence.
	raw[model.FeatAdvertPeriod] = -float64(c.AdvertDays)

	if c.FiledDate != "" {
		raw[model.FeatSameDayFilings] = float64(sc.sameDay[vendorDay{vendor: c.VendorID, date: c.FiledDate}] - 1)
	}

	raw[model.FeatNetworkDegree] = float64(sc.graph.degree(c.VendorID))
	raw[model.FeatCoBidClustering] = sc.graph.clustering(c.VendorID)

	pair := [2]int64{c.VendorID, c.InstitutionID}
	if total := sc.instTotal[c.InstitutionID]; total > 0 {
		raw[model.FeatWinRate] = float64(sc.vendorInstCount[pair]) / float64(total)
	}
	raw[model.FeatTenure] = float64(sc.vendorInstYears[pair])

	raw[model.FeatGrowthAnomaly] = growthSignal(sc.vendorYearValue[c.VendorID], c.Year)

	return raw
}

func boolSignal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// growthSignal is the vendor's year-over-year sector value growth at
// the contract's year, 0 when there is no prior-year baseline.
func growthSignal(byYear map[int]float64, year int) float64 {
	prev := byYear[year-1]
	if prev <= 0 {
		return 0
	}
	return (byYear[year] - prev) / prev
}
