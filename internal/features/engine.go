package features

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// Source provides the contract snapshot and the canonical vendor
// mapping produced by the dedup stage.
type Source interface {
	ListContracts(ctx context.Context) ([]model.Contract, error)
	ListVendorMappings(ctx context.Context) ([]model.VendorMapping, error)
}

// Sink receives the recomputed feature cache. Full replace: z-scores
// are cohort-relative, so a cohort-membership change invalidates
// every cached vector, not only the new rows.
type Sink interface {
	ReplaceContractFeatures(ctx context.Context, vectors []model.FeatureVector) error
}

// Engine computes the per-contract z-scored feature vectors. Sectors
// are independent and computed in parallel; within a sector the pass
// is single-threaded and deterministic.
type Engine struct {
	cfg    config.FeaturesConfig
	source Source
	sink   Sink
}

func NewEngine(cfg config.FeaturesConfig, source Source, sink Sink) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MinCohort <= 0 {
		cfg.MinCohort = 30
	}
	return &Engine{cfg: cfg, source: source, sink: sink}
}

// Run recomputes the full feature cache and commits it atomically.
func (e *Engine) Run(ctx context.Context, runID string) (model.RunSummary, error) {
	started := time.Now().UTC()
	summary := model.RunSummary{
		RunID:     runID,
		Stage:     "features",
		Status:    model.RunStatusRunning,
		StartedAt: started,
		Counters:  make(map[string]int64),
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("stage", "features"))

	contracts, err := e.source.ListContracts(ctx)
	if err != nil {
		return summary, eris.Wrap(err, "features: list contracts")
	}
	if len(contracts) == 0 {
		return summary, eris.New("features: contract table is empty")
	}
	mappings, err := e.source.ListVendorMappings(ctx)
	if err != nil {
		return summary, eris.Wrap(err, "features: list vendor mappings")
	}
	contracts = applyCanonicalVendors(contracts, mappings)
	summary.Counters["contracts_total"] = int64(len(contracts))

	bySector := make(map[int64][]model.Contract)
	for _, c := range contracts {
		bySector[c.SectorID] = append(bySector[c.SectorID], c)
	}
	sectors := make([]int64, 0, len(bySector))
	for s := range bySector {
		sectors = append(sectors, s)
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })
	summary.Counters["sectors_total"] = int64(len(sectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	var mu sync.Mutex
	var vectors []model.FeatureVector

	for _, sector := range sectors {
		members := bySector[sector]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, stats := e.computeSector(members)
			mu.Lock()
			vectors = append(vectors, vecs...)
			summary.Counters["cohorts_total"] += stats.cohorts
			summary.Counters["widened_cohorts"] += stats.widened
			summary.Counters["degenerate_dimensions"] += stats.degenerate
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "features: compute")
	}

	sort.Slice(vectors, func(i, j int) bool { return vectors[i].ContractID < vectors[j].ContractID })

	if err := e.sink.ReplaceContractFeatures(ctx, vectors); err != nil {
		return summary, eris.Wrap(err, "features: commit cache")
	}

	summary.Status = model.RunStatusComplete
	summary.Duration = time.Since(started).Round(time.Millisecond).String()

	log.Info("feature run complete",
		zap.Int64("contracts", summary.Counters["contracts_total"]),
		zap.Int64("cohorts", summary.Counters["cohorts_total"]),
		zap.Int64("widened", summary.Counters["widened_cohorts"]),
		zap.String("duration", summary.Duration),
	)
	return summary, nil
}

type sectorStats struct {
	cohorts    int64
	widened    int64
	degenerate int64
}

// computeSector runs the full pipeline for one sector: aggregate
// context, cohort assignment, raw signals, per-cohort z-scoring.
func (e *Engine) computeSector(contracts []model.Contract) ([]model.FeatureVector, sectorStats) {
	var stats sectorStats
	sc := buildSectorContext(contracts)
	cohorts, assign := BuildCohorts(contracts, e.cfg.MinCohort)

	keys := make([]model.CohortKey, 0, len(cohorts))
	for k := range cohorts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SectorID != keys[j].SectorID {
			return keys[i].SectorID < keys[j].SectorID
		}
		return keys[i].Year < keys[j].Year
	})

	raws := make(map[int64]map[string]float64, len(contracts))
	vectors := make([]model.FeatureVector, 0, len(contracts))

	for _, key := range keys {
		members := cohorts[key]
		assigned := make([]model.Contract, 0, len(members))
		for _, c := range members {
			if assign[c.ID] == key {
				assigned = append(assigned, c)
			}
		}
		if len(assigned) == 0 {
			continue
		}
		stats.cohorts++
		if key.Widened() {
			stats.widened++
		}

		st := buildCohortStats(members)
		for _, c := range assigned {
			raws[c.ID] = rawSignals(c, st, sc)
		}

		// Cohort statistics use every member, including contracts
		// assigned to a narrower cohort of the same sector, so the
		// widened population is never thinner than the sector.
		memberRaws := make([]map[string]float64, 0, len(members))
		for _, c := range members {
			mr, ok := raws[c.ID]
			if !ok {
				mr = rawSignals(c, st, sc)
			}
			memberRaws = append(memberRaws, mr)
		}

		for _, name := range model.FeatureNames {
			vals := make([]float64, 0, len(memberRaws))
			for _, mr := range memberRaws {
				vals = append(vals, mr[name])
			}
			m := mean(vals)
			sd := stddev(vals, m)
			if sd < minStddev {
				stats.degenerate++
			}
			for _, c := range assigned {
				raws[c.ID][name] = zscore(raws[c.ID][name], m, sd)
			}
		}

		for _, c := range assigned {
			vectors = append(vectors, model.FeatureVector{
				ContractID: c.ID,
				Cohort:     key,
				Values:     raws[c.ID],
			})
		}
	}
	return vectors, stats
}

// applyCanonicalVendors rewrites contract vendor ids through the
// dedup mapping so every signal aggregates over canonical vendors.
func applyCanonicalVendors(contracts []model.Contract, mappings []model.VendorMapping) []model.Contract {
	if len(mappings) == 0 {
		return contracts
	}
	canonical := make(map[int64]int64, len(mappings))
	for _, m := range mappings {
		canonical[m.VendorID] = m.CanonicalID
	}
	out := make([]model.Contract, len(contracts))
	copy(out, contracts)
	for i := range out {
		if c, ok := canonical[out[i].VendorID]; ok {
			out[i].VendorID = c
		}
	}
	return out
}
