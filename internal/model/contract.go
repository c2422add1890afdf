package model

// Contract is one procurement contract row from the ingest layer.
type Contract struct {
	ID            int64   `json:"id"`
	VendorID      int64   `json:"vendor_id"`
	InstitutionID int64   `json:"institution_id"`
	SectorID      int64   `json:"sector_id"`
	Year          int     `json:"year"`
	Amount        float64 `json:"amount"`
	SingleBid     bool    `json:"single_bid"`
	DirectAward   bool    `json:"direct_award"`
	// AdvertDays is the advertisement/bidding period length in days;
	// 0 means not recorded in the source.
	AdvertDays int `json:"advert_days"`
	// FiledDate is the filing date in YYYY-MM-DD form, used for the
	// same-day-filings signal. Empty when the source omits it.
	FiledDate string `json:"filed_date,omitempty"`
}

// CohortKey identifies the comparison population for z-scoring:
// contracts in the same sector and year, or the sector across all
// years when the (sector, year) cohort is too small.
type CohortKey struct {
	SectorID int64 `json:"sector_id"`
	// Year is 0 for a widened all-years cohort.
	Year int `json:"year"`
}

// Widened reports whether the key spans all years of the sector.
func (k CohortKey) Widened() bool { return k.Year == 0 }
