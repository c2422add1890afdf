package model

// MatchMethod identifies which matching tier produced a pair or a
// cluster mapping. Persisted for audit.
type MatchMethod string

const (
	MethodTaxIDExact     MatchMethod = "tax_id_exact"
	MethodNormalizedName MatchMethod = "normalized_name"
	MethodTokenJaccard   MatchMethod = "token_jaccard"
	MethodLinkage        MatchMethod = "probabilistic_linkage"
	MethodSelf           MatchMethod = "self"
	MethodManual         MatchMethod = "manual"
)

// VendorOverride is a manual correction layered over the automatic
// mapping after every rebuild. Overrides never feed back into
// blocking or matching inputs.
type VendorOverride struct {
	VendorID    int64 `json:"vendor_id"`
	CanonicalID int64 `json:"canonical_id"`
}

// MatchScore is an accepted pairwise match between two vendors.
// Probability monotonically reflects field agreement strength;
// tax_id_exact is always 1.0 and short-circuits lower tiers.
type MatchScore struct {
	VendorA     int64       `json:"vendor_a"`
	VendorB     int64       `json:"vendor_b"`
	Probability float64     `json:"probability"`
	Method      MatchMethod `json:"method"`
}

// VendorCluster is a connected component over accepted matches.
// Every vendor belongs to exactly one cluster; unmatched vendors form
// singleton clusters with Method self.
type VendorCluster struct {
	ClusterID         int64       `json:"cluster_id"`
	CanonicalVendorID int64       `json:"canonical_vendor_id"`
	MemberIDs         []int64     `json:"member_ids"` // sorted ascending
	Method            MatchMethod `json:"match_method"`
	Confidence        float64     `json:"confidence"`
}

// VendorMapping is one row of the canonical-vendor output table,
// keyed by vendor id and fully replaced on each dedup run.
type VendorMapping struct {
	VendorID    int64       `json:"vendor_id"`
	CanonicalID int64       `json:"canonical_id"`
	ClusterID   int64       `json:"cluster_id"`
	Method      MatchMethod `json:"match_method"`
	Confidence  float64     `json:"confidence"`
}
