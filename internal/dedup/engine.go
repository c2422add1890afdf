package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/cache"
	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/normalize"
)

// Source provides the vendor snapshot and manual overrides.
type Source interface {
	ListVendors(ctx context.Context) ([]model.VendorRecord, error)
	ListVendorOverrides(ctx context.Context) ([]model.VendorOverride, error)
}

// Sink receives the rebuilt mapping. The replace is atomic: either
// the full new mapping lands or the prior one stays authoritative.
type Sink interface {
	ReplaceVendorMappings(ctx context.Context, mappings []model.VendorMapping) error
}

// Engine runs one full deduplication pass: normalize, block, match,
// cluster, override, commit. Reruns on an unchanged snapshot are
// idempotent and replace the prior mapping wholesale.
type Engine struct {
	cfg    config.DedupConfig
	source Source
	sink   Sink
	// normCache avoids re-normalizing identical raw names across
	// vendors; bounded, owned by this engine instance.
	normCache *cache.Cache[string, model.NormalizedVendor]
}

// NewEngine creates a dedup engine.
func NewEngine(cfg config.DedupConfig, source Source, sink Sink) *Engine {
	return &Engine{
		cfg:       cfg,
		source:    source,
		sink:      sink,
		normCache: cache.New[string, model.NormalizedVendor](cfg.NormalizeCacheSize, 0),
	}
}

// Run executes the pass and returns its coverage summary. Only fatal
// input conditions return an error; data-quality defects are counted
// and routed to singleton self-clusters.
func (e *Engine) Run(ctx context.Context, runID string) (model.RunSummary, error) {
	started := time.Now().UTC()
	summary := model.RunSummary{
		RunID:     runID,
		Stage:     "dedup",
		Status:    model.RunStatusRunning,
		StartedAt: started,
		Counters:  make(map[string]int64),
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("stage", "dedup"))

	mappings, err := e.partition(ctx, summary.Counters)
	if err != nil {
		return summary, err
	}

	if err := e.sink.ReplaceVendorMappings(ctx, mappings); err != nil {
		return summary, eris.Wrap(err, "dedup: commit mapping")
	}

	summary.Status = model.RunStatusComplete
	summary.Duration = time.Since(started).Round(time.Millisecond).String()
	summary.Note = coverageNote(summary.Counters)

	log.Info("dedup run complete",
		zap.Int64("vendors", summary.Counters["vendors_total"]),
		zap.Int64("clusters", summary.Counters["clusters_total"]),
		zap.Int64("merged", summary.Counters["merged_vendors"]),
		zap.Int64("flagged", summary.Counters["empty_names"]+summary.Counters["numeric_names"]),
		zap.String("duration", summary.Duration),
	)
	return summary, nil
}

// Partition rebuilds the vendor mapping from the current snapshot
// without committing it. The calibration harness runs it twice and
// diffs the results to catch non-determinism.
func (e *Engine) Partition(ctx context.Context) ([]model.VendorMapping, error) {
	return e.partition(ctx, make(map[string]int64))
}

func (e *Engine) partition(ctx context.Context, counters map[string]int64) ([]model.VendorMapping, error) {
	vendors, err := e.source.ListVendors(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: list vendors")
	}
	if len(vendors) == 0 {
		return nil, eris.New("dedup: vendor table is empty")
	}
	counters["vendors_total"] = int64(len(vendors))

	norms, taxIDs := e.normalizeAll(vendors, counters)

	normSlice := make([]model.NormalizedVendor, 0, len(norms))
	for _, v := range vendors {
		normSlice = append(normSlice, norms[v.ID])
	}
	idx := BuildIndex(normSlice, e.cfg.MinBlockTokens, e.cfg.MaxBlockSize)
	counters["indexed"] = int64(idx.IndexedCount())
	counters["below_token_bar"] = int64(idx.SkippedCount())

	matcher := NewMatcher(norms, taxIDs, MatcherOptions{
		JaccardThreshold: e.cfg.JaccardThreshold,
		LinkageThreshold: e.cfg.LinkageThreshold,
		Workers:          e.cfg.Workers,
	})
	pairs, err := matcher.Match(ctx, vendors, idx)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: match")
	}
	counters["pairs_accepted"] = int64(len(pairs))
	for _, p := range pairs {
		counters["pairs_"+string(p.Method)]++
	}

	clusters := BuildClusters(vendors, pairs)
	mappings := Mappings(clusters)

	var merged, singletons int64
	for _, c := range clusters {
		if len(c.MemberIDs) > 1 {
			merged += int64(len(c.MemberIDs))
		} else {
			singletons++
		}
	}
	counters["clusters_total"] = int64(len(clusters))
	counters["singletons"] = singletons
	counters["merged_vendors"] = merged

	overrides, err := e.source.ListVendorOverrides(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: list overrides")
	}
	mappings = applyOverrides(mappings, overrides)
	counters["manual_overrides"] = int64(len(overrides))

	return mappings, nil
}

// normalizeAll computes the normalization for every vendor, counting
// data-quality defects. Empty and numeric names stay in the output so
// they end up as flagged singleton clusters, never dropped.
func (e *Engine) normalizeAll(vendors []model.VendorRecord, counters map[string]int64) (map[int64]model.NormalizedVendor, map[int64]string) {
	norms := make(map[int64]model.NormalizedVendor, len(vendors))
	taxIDs := make(map[int64]string)

	for _, v := range vendors {
		nv, ok := e.normCache.Get(v.RawName)
		if ok {
			nv.VendorID = v.ID
		} else {
			nv = normalize.Normalize(v.ID, v.RawName)
			e.normCache.Set(v.RawName, nv)
		}
		norms[v.ID] = nv

		for _, f := range nv.Flags {
			switch f {
			case model.FlagEmptyName:
				counters["empty_names"]++
			case model.FlagNumericName:
				counters["numeric_names"]++
			}
		}

		if tid := normalize.NormalizeTaxID(v.TaxID); len(tid) >= model.MinTaxIDLen {
			taxIDs[v.ID] = tid
		} else if v.TaxID != "" {
			counters["malformed_tax_ids"]++
		}
	}
	return norms, taxIDs
}

// applyOverrides layers manual corrections over the automatic
// mapping. Unknown vendor ids in the override table are ignored; an
// override never reaches back into the matcher.
func applyOverrides(mappings []model.VendorMapping, overrides []model.VendorOverride) []model.VendorMapping {
	if len(overrides) == 0 {
		return mappings
	}
	byVendor := make(map[int64]int64, len(overrides))
	for _, o := range overrides {
		byVendor[o.VendorID] = o.CanonicalID
	}
	for i := range mappings {
		if canonical, ok := byVendor[mappings[i].VendorID]; ok {
			mappings[i].CanonicalID = canonical
			mappings[i].Method = model.MethodManual
			mappings[i].Confidence = 1.0
		}
	}
	return mappings
}

// coverageNote renders the trust context downstream consumers need
// before treating the mapping as authoritative.
func coverageNote(c map[string]int64) string {
	total := c["vendors_total"]
	if total == 0 {
		return ""
	}
	flagged := c["empty_names"] + c["numeric_names"]
	return fmt.Sprintf("%d/%d vendors merged, %d flagged defects (%.1f%%), %d below token bar",
		c["merged_vendors"], total, flagged,
		float64(flagged)/float64(total)*100,
		c["below_token_bar"],
	)
}
