package anomaly

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// Source provides the feature cache.
type Source interface {
	ListContractFeatures(ctx context.Context) ([]model.FeatureVector, error)
}

// Sink receives the retained anomalies for the strategy's model tag,
// replacing the prior run's records for that tag.
type Sink interface {
	ReplaceAnomalies(ctx context.Context, m model.AnomalyModel, records []model.AnomalyRecord) error
}

// Engine runs the configured strategy independently per sector.
// Sectors below the minimum sample size are skipped with a logged
// reason rather than fit a degenerate model.
type Engine struct {
	cfg      config.AnomalyConfig
	strategy Strategy
	source   Source
	sink     Sink
}

// ModelForStrategy resolves a configured strategy name to the model
// tag its records are stored under.
func ModelForStrategy(strategy string) (model.AnomalyModel, error) {
	switch strategy {
	case "", "isolation_forest":
		return model.AnomalyModelForest, nil
	case "zscore":
		return model.AnomalyModelZScore, nil
	}
	return "", eris.Errorf("anomaly: unknown strategy %q", strategy)
}

func NewEngine(cfg config.AnomalyConfig, source Source, sink Sink) (*Engine, error) {
	var strategy Strategy
	switch cfg.Strategy {
	case "", "isolation_forest":
		trees := cfg.Trees
		if trees <= 0 {
			trees = 100
		}
		sample := cfg.SampleSize
		if sample <= 0 {
			sample = 256
		}
		strategy = &IsolationForest{Trees: trees, SampleSize: sample}
	case "zscore":
		strategy = ZScoreFallback{}
	default:
		return nil, eris.Errorf("anomaly: unknown strategy %q", cfg.Strategy)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 50
	}
	if cfg.MinSector <= 0 {
		cfg.MinSector = 100
	}
	if cfg.ClipStdDevs <= 0 {
		cfg.ClipStdDevs = 10
	}
	return &Engine{cfg: cfg, strategy: strategy, source: source, sink: sink}, nil
}

// Run scores every eligible sector and persists the top-N anomalies
// per sector under the strategy's model tag.
func (e *Engine) Run(ctx context.Context, runID string) (model.RunSummary, error) {
	started := time.Now().UTC()
	summary := model.RunSummary{
		RunID:     runID,
		Stage:     "anomaly",
		Status:    model.RunStatusRunning,
		StartedAt: started,
		Counters:  make(map[string]int64),
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("stage", "anomaly"))

	vectors, err := e.source.ListContractFeatures(ctx)
	if err != nil {
		return summary, eris.Wrap(err, "anomaly: list features")
	}
	if len(vectors) == 0 {
		return summary, eris.New("anomaly: feature cache is empty, run features first")
	}

	bySector := make(map[int64][]model.FeatureVector)
	for _, v := range vectors {
		bySector[v.Cohort.SectorID] = append(bySector[v.Cohort.SectorID], v)
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
	var records []model.AnomalyRecord

	for _, sector := range sectors {
		members := bySector[sector]
		if len(members) < e.cfg.MinSector {
			summary.Counters["sectors_skipped"]++
			log.Info("anomaly: sector skipped, sample too small",
				zap.Int64("sector_id", sector),
				zap.Int("contracts", len(members)),
				zap.Int("min", e.cfg.MinSector),
			)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs := e.scoreSector(sector, members)
			mu.Lock()
			records = append(records, recs...)
			summary.Counters["anomalies_retained"] += int64(len(recs))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "anomaly: score")
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].SectorID != records[j].SectorID {
			return records[i].SectorID < records[j].SectorID
		}
		return records[i].ContractID < records[j].ContractID
	})

	if err := e.sink.ReplaceAnomalies(ctx, e.strategy.Model(), records); err != nil {
		return summary, eris.Wrap(err, "anomaly: commit records")
	}

	summary.Status = model.RunStatusComplete
	summary.Duration = time.Since(started).Round(time.Millisecond).String()

	log.Info("anomaly run complete",
		zap.Int64("sectors", summary.Counters["sectors_total"]),
		zap.Int64("skipped", summary.Counters["sectors_skipped"]),
		zap.Int64("retained", summary.Counters["anomalies_retained"]),
		zap.String("model", string(e.strategy.Model())),
		zap.String("duration", summary.Duration),
	)
	return summary, nil
}

// scoreSector clips, scores, normalizes, and keeps the top-N for one
// sector. The rng is seeded per sector so worker scheduling cannot
// change the output.
func (e *Engine) scoreSector(sector int64, members []model.FeatureVector) []model.AnomalyRecord {
	sort.Slice(members, func(i, j int) bool { return members[i].ContractID < members[j].ContractID })

	matrix := make([][]float64, len(members))
	for i, v := range members {
		row := v.Ordered()
		for j, val := range row {
			row[j] = clip(val, e.cfg.ClipStdDevs)
		}
		matrix[i] = row
	}

	rng := newSectorRand(e.cfg.Seed, sector)
	raw := e.strategy.Score(matrix, rng)
	normalized := minMax(raw)

	idx := make([]int, len(members))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if normalized[idx[a]] != normalized[idx[b]] {
			return normalized[idx[a]] > normalized[idx[b]]
		}
		return members[idx[a]].ContractID < members[idx[b]].ContractID
	})

	keep := e.cfg.TopN
	if keep > len(idx) {
		keep = len(idx)
	}
	records := make([]model.AnomalyRecord, 0, keep)
	for _, i := range idx[:keep] {
		records = append(records, model.AnomalyRecord{
			ContractID:   members[i].ContractID,
			SectorID:     sector,
			Model:        e.strategy.Model(),
			AnomalyScore: normalized[i],
		})
	}
	return records
}

// newSectorRand derives a per-sector stream from the configured
// seed. Each sector owns its stream, so worker interleaving never
// changes a sector's splits.
func newSectorRand(seed, sector int64) *rand.Rand {
	return rand.New(rand.NewSource(seed ^ (sector * 0x9e3779b9)))
}

func clip(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// minMax rescales raw scores to [0,1] within the sector, 1 = most
// anomalous. A constant vector maps to all zeros.
func minMax(raw []float64) []float64 {
	if len(raw) == 0 {
		return nil
	}
	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(raw))
	if hi == lo {
		return out
	}
	for i, v := range raw {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}
