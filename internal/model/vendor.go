// Package model defines the domain types shared across the dedup and
// risk-scoring pipeline.
package model

// VendorRecord is one raw vendor as it appears in source contracts.
// Created by the ingest layer; the core only annotates it with derived
// fields, never mutates the source columns.
type VendorRecord struct {
	ID            int64   `json:"id"`
	RawName       string  `json:"raw_name"`
	TaxID         string  `json:"tax_id,omitempty"` // normalized uppercase alphanumeric, may be empty
	ContractCount int     `json:"contract_count"`
	TotalValue    float64 `json:"total_value"`
}

// MinTaxIDLen is the minimum length for a tax id (RFC) to be treated
// as a near-unique identity key. Shorter values are source noise.
const MinTaxIDLen = 10

// HasUsableTaxID reports whether the record's tax id is long enough to
// serve as an exact-match identity key.
func (v VendorRecord) HasUsableTaxID() bool {
	return len(v.TaxID) >= MinTaxIDLen
}

// NormalizedVendor is the derived, 1:1 normalization of a VendorRecord.
// Computed once per normalization-rule version, cached alongside the
// record.
type NormalizedVendor struct {
	VendorID      int64    `json:"vendor_id"`
	BaseName      string   `json:"base_name"`
	Tokens        []string `json:"tokens"`         // stopword-filtered, order preserved
	PhoneticCodes []string `json:"phonetic_codes"` // up to 5, one per significant token
	IsIndividual  bool     `json:"is_individual"`
	// IndividualConfidence qualifies IsIndividual: the heuristic has
	// known false positives and is never an absolute fact.
	IndividualConfidence float64 `json:"individual_confidence"`
	// Flags hold data-quality markers (see Flag* constants).
	Flags []string `json:"flags,omitempty"`
}

// Data-quality flags attached by the normalizer.
const (
	FlagEmptyName   = "empty_name"
	FlagNumericName = "numeric_name"
)

// Empty reports whether the normalization produced no usable signal.
// Empty vendors are routed to the unmatched bucket and never merged.
func (n NormalizedVendor) Empty() bool {
	return n.BaseName == ""
}

// TokenSet returns the tokens as a membership set.
func (n NormalizedVendor) TokenSet() map[string]struct{} {
	s := make(map[string]struct{}, len(n.Tokens))
	for _, t := range n.Tokens {
		s[t] = struct{}{}
	}
	return s
}
