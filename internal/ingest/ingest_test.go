package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("datos")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadVendors_CSV(t *testing.T) {
	path := writeCSV(t, "vendors.csv",
		"id,raw_name,tax_id,contract_count,total_value\n"+
			"2,CONSTRUCTORA AZTECA SA DE CV,CAZ900101AA1,12,4500000.50\n"+
			"1,JUAN PEREZ GOMEZ,,3,120000\n")

	vendors, counters, err := LoadVendors(context.Background(), Source{Path: path}, VendorColumns{})
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	// Sorted by id.
	assert.Equal(t, int64(1), vendors[0].ID)
	assert.Equal(t, "JUAN PEREZ GOMEZ", vendors[0].RawName)
	assert.Equal(t, 12, vendors[1].ContractCount)
	assert.InDelta(t, 4500000.50, vendors[1].TotalValue, 1e-9)

	assert.Equal(t, int64(2), counters["rows_total"])
	assert.Equal(t, int64(2), counters["rows_loaded"])
	assert.Equal(t, int64(1), counters["missing_tax_id"])
}

func TestLoadVendors_SkipsDefectiveRows(t *testing.T) {
	path := writeCSV(t, "vendors.csv",
		"id,raw_name\n"+
			"abc,BAD ID SA\n"+
			"5,\n"+
			"6,PROVEEDORA DEL GOLFO SA DE CV\n")

	vendors, counters, err := LoadVendors(context.Background(), Source{Path: path}, VendorColumns{})
	require.NoError(t, err)
	require.Len(t, vendors, 1)
	assert.Equal(t, int64(6), vendors[0].ID)
	assert.Equal(t, int64(2), counters["rows_skipped"])
	assert.Equal(t, int64(1), counters["bad_id"])
	assert.Equal(t, int64(1), counters["missing_name"])
}

func TestLoadVendors_ColumnMapping(t *testing.T) {
	path := writeCSV(t, "padron.csv",
		"clave,razon_social,rfc\n"+
			"7,ABARROTES LA CENTRAL SA DE CV,ACE850101AB1\n")

	vendors, _, err := LoadVendors(context.Background(), Source{Path: path}, VendorColumns{
		ID: "clave", RawName: "razon_social", TaxID: "rfc",
	})
	require.NoError(t, err)
	require.Len(t, vendors, 1)
	assert.Equal(t, int64(7), vendors[0].ID)
	assert.Equal(t, "ACE850101AB1", vendors[0].TaxID)
}

func TestLoadVendors_SemicolonDelimiter(t *testing.T) {
	path := writeCSV(t, "padron.csv",
		"id;raw_name;tax_id\n"+
			"3;MATERIALES DEL BAJIO SA DE CV;MBA900101AA1\n")

	vendors, _, err := LoadVendors(context.Background(), Source{Path: path, Delimiter: ';'}, VendorColumns{})
	require.NoError(t, err)
	require.Len(t, vendors, 1)
	assert.Equal(t, "MATERIALES DEL BAJIO SA DE CV", vendors[0].RawName)
}

func TestLoadVendors_MissingIDColumn(t *testing.T) {
	path := writeCSV(t, "vendors.csv", "nombre\nX SA\n")

	_, _, err := LoadVendors(context.Background(), Source{Path: path}, VendorColumns{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "id" column`)
}

func TestLoadContracts_CSV(t *testing.T) {
	path := writeCSV(t, "contracts.csv",
		"id,vendor_id,institution_id,sector_id,year,amount,single_bid,direct_award,advert_days,filed_date\n"+
			"10,1,5,2,2023,980000,1,0,4,2023-03-14\n"+
			"11,2,5,2,2023,45000,no,si,21,2023-06-01\n")

	contracts, counters, err := LoadContracts(context.Background(), Source{Path: path}, ContractColumns{})
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.True(t, contracts[0].SingleBid)
	assert.False(t, contracts[0].DirectAward)
	assert.False(t, contracts[1].SingleBid)
	assert.True(t, contracts[1].DirectAward)
	assert.Equal(t, 4, contracts[0].AdvertDays)
	assert.Equal(t, "2023-06-01", contracts[1].FiledDate)
	assert.Equal(t, int64(2), counters["rows_loaded"])
}

func TestLoadContracts_DefectCounters(t *testing.T) {
	path := writeCSV(t, "contracts.csv",
		"id,vendor_id,year,amount\n"+
			"10,1,2023,980000\n"+
			"11,1,1850,5000\n"+
			"12,1,2023,-40\n"+
			"13,x,2023,5000\n")

	contracts, counters, err := LoadContracts(context.Background(), Source{Path: path}, ContractColumns{})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, int64(3), counters["rows_skipped"])
	assert.Equal(t, int64(1), counters["bad_year"])
	assert.Equal(t, int64(1), counters["bad_amount"])
	assert.Equal(t, int64(1), counters["bad_vendor_id"])
}

func TestLoadContracts_XLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"id", "vendor_id", "institution_id", "sector_id", "year", "amount"},
		{"10", "1", "5", "2", "2023", "980000"},
	})

	contracts, counters, err := LoadContracts(context.Background(), Source{Path: path}, ContractColumns{})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, int64(10), contracts[0].ID)
	assert.Equal(t, int64(5), contracts[0].InstitutionID)
	assert.Equal(t, int64(1), counters["rows_loaded"])
}

func TestLoadContracts_NamedSheet(t *testing.T) {
	// First sheet is a cover page; the table lives on a named sheet.
	f := xlsx.NewFile()
	cover, err := f.AddSheet("portada")
	require.NoError(t, err)
	cover.AddRow().AddCell().SetString("reporte trimestral")

	data, err := f.AddSheet("contratos")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		{"id", "vendor_id", "year", "amount"},
		{"10", "1", "2023", "980000"},
	} {
		row := data.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "reporte.xlsx")
	require.NoError(t, f.Save(path))

	contracts, _, err := LoadContracts(context.Background(),
		Source{Path: path, Sheet: "contratos"}, ContractColumns{})
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, int64(10), contracts[0].ID)
}

func TestLoadGroundTruth_Dedupes(t *testing.T) {
	path := writeCSV(t, "truth.csv", "vendor_id\n5\n1\n5\nbad\n")

	ids, counters, err := LoadGroundTruth(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5}, ids)
	assert.Equal(t, int64(1), counters["duplicates"])
	assert.Equal(t, int64(1), counters["rows_skipped"])
}

func TestLoadOverrides(t *testing.T) {
	path := writeCSV(t, "overrides.csv",
		"vendor_id,canonical_id\n7,2\n9,2\nx,1\n")

	overrides, counters, err := LoadOverrides(context.Background(), Source{Path: path})
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, int64(7), overrides[0].VendorID)
	assert.Equal(t, int64(2), overrides[0].CanonicalID)
	assert.Equal(t, int64(1), counters["rows_skipped"])
}

func TestLoadOverrides_MissingColumn(t *testing.T) {
	path := writeCSV(t, "overrides.csv", "vendor_id\n7\n")

	_, _, err := LoadOverrides(context.Background(), Source{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no "canonical_id" column`)
}
