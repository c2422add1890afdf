package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/ingest"
	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/store"
)

var (
	importVendorsPath   string
	importContractsPath string
	importTruthPath     string
	importOverridesPath string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load vendor and contract tables from CSV or XLSX exports",
	Long: `Loads input tables into the store. Vendor and contract loads replace
the full table; the override file is merged by vendor id. Column names
can be remapped per source under ingest.vendor_columns and
ingest.contract_columns in the config file; ingest.delimiter and
ingest.sheet handle semicolon CSVs and named workbook sheets.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if importVendorsPath == "" && importContractsPath == "" &&
			importTruthPath == "" && importOverridesPath == "" {
			return eris.New("import: nothing to do, pass at least one of --vendors, --contracts, --ground-truth, --overrides")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return runStage(ctx, st, func(ctx context.Context, runID string) (model.RunSummary, error) {
			return runImport(ctx, st, runID)
		})
	},
}

func runImport(ctx context.Context, st store.Store, runID string) (model.RunSummary, error) {
	summary := model.RunSummary{
		RunID:     runID,
		Stage:     "import",
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Counters:  make(map[string]int64),
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("stage", "import"))

	if importVendorsPath != "" {
		vendors, counters, err := ingest.LoadVendors(ctx, source(importVendorsPath), vendorColumns())
		if err != nil {
			return summary, err
		}
		if err := st.ReplaceVendors(ctx, vendors); err != nil {
			return summary, err
		}
		mergeCounters(summary.Counters, "vendors_", counters)
	}

	if importContractsPath != "" {
		contracts, counters, err := ingest.LoadContracts(ctx, source(importContractsPath), contractColumns())
		if err != nil {
			return summary, err
		}
		if err := st.ReplaceContracts(ctx, contracts); err != nil {
			return summary, err
		}
		mergeCounters(summary.Counters, "contracts_", counters)
	}

	if importTruthPath != "" {
		ids, counters, err := ingest.LoadGroundTruth(ctx, source(importTruthPath))
		if err != nil {
			return summary, err
		}
		if err := st.ReplaceGroundTruthVendors(ctx, ids); err != nil {
			return summary, err
		}
		mergeCounters(summary.Counters, "truth_", counters)
	}

	if importOverridesPath != "" {
		overrides, counters, err := ingest.LoadOverrides(ctx, source(importOverridesPath))
		if err != nil {
			return summary, err
		}
		n, err := st.ImportVendorOverrides(ctx, overrides)
		if err != nil {
			return summary, err
		}
		mergeCounters(summary.Counters, "overrides_", counters)
		summary.Counters["overrides_merged"] = n
	}

	summary.Status = model.RunStatusComplete
	summary.Duration = time.Since(summary.StartedAt).Round(time.Millisecond).String()
	log.Info("import complete", zap.Any("counters", summary.Counters))
	return summary, nil
}

func mergeCounters(dst map[string]int64, prefix string, src map[string]int64) {
	for k, v := range src {
		dst[prefix+k] = v
	}
}

// source pairs a file path with the configured physical format.
func source(path string) ingest.Source {
	src := ingest.Source{Path: path, Sheet: cfg.Ingest.Sheet}
	if d := cfg.Ingest.Delimiter; d != "" {
		src.Delimiter = []rune(d)[0]
	}
	return src
}

func vendorColumns() ingest.VendorColumns {
	m := cfg.Ingest.VendorColumns
	return ingest.VendorColumns{
		ID:            m["id"],
		RawName:       m["raw_name"],
		TaxID:         m["tax_id"],
		ContractCount: m["contract_count"],
		TotalValue:    m["total_value"],
	}
}

func contractColumns() ingest.ContractColumns {
	m := cfg.Ingest.ContractColumns
	return ingest.ContractColumns{
		ID:            m["id"],
		VendorID:      m["vendor_id"],
		InstitutionID: m["institution_id"],
		SectorID:      m["sector_id"],
		Year:          m["year"],
		Amount:        m["amount"],
		SingleBid:     m["single_bid"],
		DirectAward:   m["direct_award"],
		AdvertDays:    m["advert_days"],
		FiledDate:     m["filed_date"],
	}
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importVendorsPath, "vendors", "", "vendor table file (.csv or .xlsx)")
	f.StringVar(&importContractsPath, "contracts", "", "contract table file (.csv or .xlsx)")
	f.StringVar(&importTruthPath, "ground-truth", "", "confirmed-problematic vendor id file")
	f.StringVar(&importOverridesPath, "overrides", "", "manual vendor override file")
	rootCmd.AddCommand(importCmd)
}
