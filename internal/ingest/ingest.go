// Package ingest loads vendor and contract tables from CSV or XLSX
// exports. Column mapping is by header name so differently shaped
// source files can feed the same tables. Rows with defects are
// counted and skipped, never silently coerced.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/fetcher"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// VendorColumns maps vendor table fields to source file headers.
// Zero-value fields use the default header of the same name.
type VendorColumns struct {
	ID            string `yaml:"id" mapstructure:"id"`
	RawName       string `yaml:"raw_name" mapstructure:"raw_name"`
	TaxID         string `yaml:"tax_id" mapstructure:"tax_id"`
	ContractCount string `yaml:"contract_count" mapstructure:"contract_count"`
	TotalValue    string `yaml:"total_value" mapstructure:"total_value"`
}

// ContractColumns maps contract table fields to source file headers.
type ContractColumns struct {
	ID            string `yaml:"id" mapstructure:"id"`
	VendorID      string `yaml:"vendor_id" mapstructure:"vendor_id"`
	InstitutionID string `yaml:"institution_id" mapstructure:"institution_id"`
	SectorID      string `yaml:"sector_id" mapstructure:"sector_id"`
	Year          string `yaml:"year" mapstructure:"year"`
	Amount        string `yaml:"amount" mapstructure:"amount"`
	SingleBid     string `yaml:"single_bid" mapstructure:"single_bid"`
	DirectAward   string `yaml:"direct_award" mapstructure:"direct_award"`
	AdvertDays    string `yaml:"advert_days" mapstructure:"advert_days"`
	FiledDate     string `yaml:"filed_date" mapstructure:"filed_date"`
}

// Source names an input file and its physical shape.
type Source struct {
	Path      string
	Delimiter rune   // CSV delimiter; 0 means comma
	Sheet     string // XLSX sheet name; empty means the first sheet
}

func orDefault(name, def string) string {
	if name != "" {
		return name
	}
	return def
}

// readTable returns the header row and data rows of a CSV or XLSX file.
func readTable(ctx context.Context, src Source) ([]string, [][]string, error) {
	if strings.EqualFold(filepath.Ext(src.Path), ".xlsx") {
		rows, err := fetcher.ReadXLSX(src.Path, fetcher.XLSXOptions{Sheet: src.Sheet})
		if err != nil {
			return nil, nil, err
		}
		if len(rows) == 0 {
			return nil, nil, eris.Errorf("ingest: %s is empty", src.Path)
		}
		return rows[0], rows[1:], nil
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: open %s", src.Path)
	}
	defer f.Close()

	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{Delimiter: src.Delimiter})
	var all [][]string
	for row := range rowCh {
		all = append(all, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, nil, err
		}
	}
	if len(all) == 0 {
		return nil, nil, eris.Errorf("ingest: %s is empty", src.Path)
	}
	return all[0], all[1:], nil
}

// headerIndex maps lowercased header names to column positions.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func field(row []string, idx map[string]int, name string) (string, bool) {
	i, ok := idx[strings.ToLower(name)]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y", "si", "sí":
		return true
	}
	return false
}

// LoadVendors reads a vendor table. Rows without a parseable id or
// with an empty name are counted under rows_skipped and dropped.
func LoadVendors(ctx context.Context, src Source, cols VendorColumns) ([]model.VendorRecord, map[string]int64, error) {
	header, rows, err := readTable(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	idx := headerIndex(header)

	idCol := orDefault(cols.ID, "id")
	if _, ok := idx[idCol]; !ok {
		return nil, nil, eris.Errorf("ingest: %s has no %q column", src.Path, idCol)
	}

	counters := map[string]int64{"rows_total": int64(len(rows))}
	out := make([]model.VendorRecord, 0, len(rows))
	for _, row := range rows {
		var v model.VendorRecord

		rawID, _ := field(row, idx, idCol)
		v.ID, err = strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			counters["rows_skipped"]++
			counters["bad_id"]++
			continue
		}

		v.RawName, _ = field(row, idx, orDefault(cols.RawName, "raw_name"))
		if v.RawName == "" {
			counters["rows_skipped"]++
			counters["missing_name"]++
			continue
		}

		v.TaxID, _ = field(row, idx, orDefault(cols.TaxID, "tax_id"))
		if v.TaxID == "" {
			counters["missing_tax_id"]++
		}

		if s, ok := field(row, idx, orDefault(cols.ContractCount, "contract_count")); ok && s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				v.ContractCount = n
			} else {
				counters["bad_contract_count"]++
			}
		}
		if s, ok := field(row, idx, orDefault(cols.TotalValue, "total_value")); ok && s != "" {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				v.TotalValue = f
			} else {
				counters["bad_total_value"]++
			}
		}

		out = append(out, v)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	counters["rows_loaded"] = int64(len(out))
	zap.L().Info("vendors loaded",
		zap.String("path", src.Path),
		zap.Int64("rows", counters["rows_loaded"]),
		zap.Int64("skipped", counters["rows_skipped"]))
	return out, counters, nil
}

// LoadContracts reads a contract table. A row needs a parseable id,
// vendor id, positive amount, and plausible year to be kept.
func LoadContracts(ctx context.Context, src Source, cols ContractColumns) ([]model.Contract, map[string]int64, error) {
	header, rows, err := readTable(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	idx := headerIndex(header)

	idCol := orDefault(cols.ID, "id")
	if _, ok := idx[idCol]; !ok {
		return nil, nil, eris.Errorf("ingest: %s has no %q column", src.Path, idCol)
	}

	counters := map[string]int64{"rows_total": int64(len(rows))}
	out := make([]model.Contract, 0, len(rows))
	for _, row := range rows {
		var c model.Contract

		rawID, _ := field(row, idx, idCol)
		c.ID, err = strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			counters["rows_skipped"]++
			counters["bad_id"]++
			continue
		}

		rawVendor, _ := field(row, idx, orDefault(cols.VendorID, "vendor_id"))
		c.VendorID, err = strconv.ParseInt(rawVendor, 10, 64)
		if err != nil {
			counters["rows_skipped"]++
			counters["bad_vendor_id"]++
			continue
		}

		if s, _ := field(row, idx, orDefault(cols.InstitutionID, "institution_id")); s != "" {
			c.InstitutionID, _ = strconv.ParseInt(s, 10, 64)
		}
		if s, _ := field(row, idx, orDefault(cols.SectorID, "sector_id")); s != "" {
			c.SectorID, _ = strconv.ParseInt(s, 10, 64)
		}

		rawYear, _ := field(row, idx, orDefault(cols.Year, "year"))
		c.Year, err = strconv.Atoi(rawYear)
		if err != nil || c.Year < 1990 || c.Year > 2100 {
			counters["rows_skipped"]++
			counters["bad_year"]++
			continue
		}

		rawAmount, _ := field(row, idx, orDefault(cols.Amount, "amount"))
		c.Amount, err = strconv.ParseFloat(rawAmount, 64)
		if err != nil || c.Amount <= 0 {
			counters["rows_skipped"]++
			counters["bad_amount"]++
			continue
		}

		if s, _ := field(row, idx, orDefault(cols.SingleBid, "single_bid")); s != "" {
			c.SingleBid = parseBool(s)
		}
		if s, _ := field(row, idx, orDefault(cols.DirectAward, "direct_award")); s != "" {
			c.DirectAward = parseBool(s)
		}
		if s, _ := field(row, idx, orDefault(cols.AdvertDays, "advert_days")); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				c.AdvertDays = n
			} else {
				counters["bad_advert_days"]++
			}
		}
		c.FiledDate, _ = field(row, idx, orDefault(cols.FiledDate, "filed_date"))
		if c.FiledDate == "" {
			counters["missing_filed_date"]++
		}

		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	counters["rows_loaded"] = int64(len(out))
	zap.L().Info("contracts loaded",
		zap.String("path", src.Path),
		zap.Int64("rows", counters["rows_loaded"]),
		zap.Int64("skipped", counters["rows_skipped"]))
	return out, counters, nil
}

// LoadGroundTruth reads a one-column file of confirmed-problematic
// vendor ids used by the calibration harness.
func LoadGroundTruth(ctx context.Context, src Source) ([]int64, map[string]int64, error) {
	header, rows, err := readTable(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	idx := headerIndex(header)
	if _, ok := idx["vendor_id"]; !ok {
		return nil, nil, eris.Errorf("ingest: %s has no %q column", src.Path, "vendor_id")
	}

	counters := map[string]int64{"rows_total": int64(len(rows))}
	seen := make(map[int64]bool, len(rows))
	var out []int64
	for _, row := range rows {
		s, _ := field(row, idx, "vendor_id")
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			counters["rows_skipped"]++
			continue
		}
		if seen[id] {
			counters["duplicates"]++
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	counters["rows_loaded"] = int64(len(out))
	return out, counters, nil
}

// LoadOverrides reads a manual override file with vendor_id and
// canonical_id columns.
func LoadOverrides(ctx context.Context, src Source) ([]model.VendorOverride, map[string]int64, error) {
	header, rows, err := readTable(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	idx := headerIndex(header)
	for _, col := range []string{"vendor_id", "canonical_id"} {
		if _, ok := idx[col]; !ok {
			return nil, nil, eris.Errorf("ingest: %s has no %q column", src.Path, col)
		}
	}

	counters := map[string]int64{"rows_total": int64(len(rows))}
	out := make([]model.VendorOverride, 0, len(rows))
	for _, row := range rows {
		rawVendor, _ := field(row, idx, "vendor_id")
		rawCanonical, _ := field(row, idx, "canonical_id")
		vendorID, err1 := strconv.ParseInt(rawVendor, 10, 64)
		canonicalID, err2 := strconv.ParseInt(rawCanonical, 10, 64)
		if err1 != nil || err2 != nil {
			counters["rows_skipped"]++
			continue
		}
		out = append(out, model.VendorOverride{VendorID: vendorID, CanonicalID: canonicalID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	counters["rows_loaded"] = int64(len(out))
	return out, counters, nil
}
