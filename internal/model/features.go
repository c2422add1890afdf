package model

import "math"

// Feature names form a closed, versioned key set. Adding or removing a
// feature is a schema migration, not a silent key drift.
const (
	FeatPriceRatio          = "price_ratio"
	FeatSingleBid           = "single_bid"
	FeatDirectAward         = "direct_award"
	FeatClientConcentration = "client_concentration"
	FeatAdvertPeriod        = "advert_period"
	FeatSameDayFilings      = "same_day_filings"
	FeatNetworkDegree       = "network_degree"
	FeatCoBidClustering     = "co_bid_clustering"
	FeatWinRate             = "win_rate"
	FeatTenure              = "tenure"
	FeatGrowthAnomaly       = "growth_anomaly"
)

// FeatureSchemaVersion identifies the active feature key set.
const FeatureSchemaVersion = "f2"

// FeatureNames lists the active feature keys in canonical order.
// Downstream consumers iterate in this order only.
var FeatureNames = []string{
	FeatPriceRatio,
	FeatSingleBid,
	FeatDirectAward,
	FeatClientConcentration,
	FeatAdvertPeriod,
	FeatSameDayFilings,
	FeatNetworkDegree,
	FeatCoBidClustering,
	FeatWinRate,
	FeatTenure,
	FeatGrowthAnomaly,
}

// FeatureVector holds one contract's z-scored signals, one value per
// name in FeatureNames. Every value is a z-score relative to the
// contract's cohort; NaN is permitted and treated as 0 downstream.
type FeatureVector struct {
	ContractID int64              `json:"contract_id"`
	Cohort     CohortKey          `json:"cohort"`
	Values     map[string]float64 `json:"values"`
}

// Get returns the named z-score, mapping NaN and missing keys to 0.
func (f FeatureVector) Get(name string) float64 {
	v, ok := f.Values[name]
	if !ok || math.IsNaN(v) {
		return 0
	}
	return v
}

// Ordered returns the values in FeatureNames order, NaN mapped to 0.
func (f FeatureVector) Ordered() []float64 {
	out := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[i] = f.Get(name)
	}
	return out
}
