package calibrate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/risk"
)

// Source provides everything the offline backtest needs: the feature
// cache, the contract table, the canonical vendor mapping, the
// partial ground-truth vendor set, and the anomaly records.
type Source interface {
	ListContracts(ctx context.Context) ([]model.Contract, error)
	ListContractFeatures(ctx context.Context) ([]model.FeatureVector, error)
	ListVendorMappings(ctx context.Context) ([]model.VendorMapping, error)
	ListGroundTruthVendors(ctx context.Context) ([]int64, error)
	ListAnomalies(ctx context.Context, m model.AnomalyModel) ([]model.AnomalyRecord, error)
}

// Candidate is one weight configuration under evaluation.
type Candidate struct {
	Name string
	Cfg  config.RiskConfig
}

// CandidateResult reports one candidate's backtest outcome.
type CandidateResult struct {
	Name  string  `json:"name"`
	AUC   float64 `json:"auc"`
	Delta float64 `json:"delta"`
	// Adopt is set only when the candidate beats the baseline by
	// more than the adoption margin. Ground truth is partial; small
	// improvements are noise, not signal.
	Adopt bool `json:"adopt"`
}

// Report is the outcome of a weight comparison run.
type Report struct {
	BaselineAUC float64           `json:"baseline_auc"`
	Labeled     int               `json:"labeled_contracts"`
	Positives   int               `json:"positives"`
	Candidates  []CandidateResult `json:"candidates,omitempty"`
}

// EnsembleResult reports the best mixing factor found by the sweep.
type EnsembleResult struct {
	BaselineAUC float64 `json:"baseline_auc"`
	BestAlpha   float64 `json:"best_alpha"`
	BestAUC     float64 `json:"best_auc"`
	Adopt       bool    `json:"adopt"`
}

// Harness backtests scoring configurations against the partial
// ground-truth vendor set. It never writes; adoption is a human
// decision informed by the report.
type Harness struct {
	cfg    config.CalibrateConfig
	risk   config.RiskConfig
	source Source
}

func NewHarness(cfg config.CalibrateConfig, riskCfg config.RiskConfig, source Source) *Harness {
	if cfg.AdoptionMargin <= 0 {
		cfg.AdoptionMargin = 0.01
	}
	if cfg.EnsembleStep <= 0 {
		cfg.EnsembleStep = 0.05
	}
	return &Harness{cfg: cfg, risk: riskCfg, source: source}
}

// labeledSet pairs each feature vector with its ground-truth label:
// positive when the contract's canonical vendor is in the known
// suspect set.
type labeledSet struct {
	vectors []model.FeatureVector
	labels  []bool
}

func (h *Harness) loadLabeled(ctx context.Context) (labeledSet, error) {
	var ls labeledSet

	contracts, err := h.source.ListContracts(ctx)
	if err != nil {
		return ls, eris.Wrap(err, "calibrate: list contracts")
	}
	vectors, err := h.source.ListContractFeatures(ctx)
	if err != nil {
		return ls, eris.Wrap(err, "calibrate: list features")
	}
	if len(vectors) == 0 {
		return ls, eris.New("calibrate: feature cache is empty, run features first")
	}
	mappings, err := h.source.ListVendorMappings(ctx)
	if err != nil {
		return ls, eris.Wrap(err, "calibrate: list vendor mappings")
	}
	truth, err := h.source.ListGroundTruthVendors(ctx)
	if err != nil {
		return ls, eris.Wrap(err, "calibrate: list ground truth")
	}
	if len(truth) == 0 {
		return ls, eris.New("calibrate: ground truth vendor set is empty")
	}

	canonical := make(map[int64]int64, len(mappings))
	for _, m := range mappings {
		canonical[m.VendorID] = m.CanonicalID
	}
	suspects := make(map[int64]struct{}, len(truth))
	for _, v := range truth {
		if c, ok := canonical[v]; ok {
			v = c
		}
		suspects[v] = struct{}{}
	}
	vendorOf := make(map[int64]int64, len(contracts))
	for _, c := range contracts {
		vendor := c.VendorID
		if cv, ok := canonical[vendor]; ok {
			vendor = cv
		}
		vendorOf[c.ID] = vendor
	}

	sort.Slice(vectors, func(i, j int) bool { return vectors[i].ContractID < vectors[j].ContractID })
	for _, fv := range vectors {
		vendor, ok := vendorOf[fv.ContractID]
		if !ok {
			continue
		}
		_, suspect := suspects[vendor]
		ls.vectors = append(ls.vectors, fv)
		ls.labels = append(ls.labels, suspect)
	}
	return ls, nil
}

func scoreAll(cfg config.RiskConfig, vectors []model.FeatureVector) ([]float64, error) {
	scorer, err := risk.NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vectors))
	for i, fv := range vectors {
		out[i] = scorer.Score(fv).Score
	}
	return out, nil
}

// CompareWeights backtests the production weight table against the
// candidates and reports which, if any, clear the adoption margin.
func (h *Harness) CompareWeights(ctx context.Context, candidates []Candidate) (Report, error) {
	var report Report

	ls, err := h.loadLabeled(ctx)
	if err != nil {
		return report, err
	}
	report.Labeled = len(ls.vectors)
	for _, lab := range ls.labels {
		if lab {
			report.Positives++
		}
	}

	baseline, err := scoreAll(h.risk, ls.vectors)
	if err != nil {
		return report, eris.Wrap(err, "calibrate: baseline scoring")
	}
	report.BaselineAUC = AUC(baseline, ls.labels)

	for _, cand := range candidates {
		scores, err := scoreAll(cand.Cfg, ls.vectors)
		if err != nil {
			return report, eris.Wrapf(err, "calibrate: candidate %s", cand.Name)
		}
		auc := AUC(scores, ls.labels)
		report.Candidates = append(report.Candidates, CandidateResult{
			Name:  cand.Name,
			AUC:   auc,
			Delta: auc - report.BaselineAUC,
			Adopt: auc-report.BaselineAUC > h.cfg.AdoptionMargin,
		})
	}

	zap.L().Info("calibrate: weight comparison complete",
		zap.Float64("baseline_auc", report.BaselineAUC),
		zap.Int("labeled", report.Labeled),
		zap.Int("positives", report.Positives),
		zap.Int("candidates", len(report.Candidates)),
	)
	return report, nil
}

// EnsembleSweep mixes the weighted score with the anomaly score,
// score(α) = (1-α)·risk + α·anomaly, sweeping α over [0,1] with the
// configured step. Contracts outside a sector's retained top-N carry
// anomaly 0.
func (h *Harness) EnsembleSweep(ctx context.Context, anomalyModel model.AnomalyModel) (EnsembleResult, error) {
	var result EnsembleResult

	ls, err := h.loadLabeled(ctx)
	if err != nil {
		return result, err
	}
	baseline, err := scoreAll(h.risk, ls.vectors)
	if err != nil {
		return result, eris.Wrap(err, "calibrate: baseline scoring")
	}
	result.BaselineAUC = AUC(baseline, ls.labels)
	result.BestAUC = result.BaselineAUC

	records, err := h.source.ListAnomalies(ctx, anomalyModel)
	if err != nil {
		return result, eris.Wrap(err, "calibrate: list anomalies")
	}
	anomalyOf := make(map[int64]float64, len(records))
	for _, r := range records {
		anomalyOf[r.ContractID] = r.AnomalyScore
	}

	mixed := make([]float64, len(ls.vectors))
	for alpha := h.cfg.EnsembleStep; alpha <= 1.0+1e-9; alpha += h.cfg.EnsembleStep {
		for i, fv := range ls.vectors {
			mixed[i] = (1-alpha)*baseline[i] + alpha*anomalyOf[fv.ContractID]
		}
		if auc := AUC(mixed, ls.labels); auc > result.BestAUC {
			result.BestAUC = auc
			result.BestAlpha = alpha
		}
	}
	result.Adopt = result.BestAUC-result.BaselineAUC > h.cfg.AdoptionMargin

	zap.L().Info("calibrate: ensemble sweep complete",
		zap.Float64("baseline_auc", result.BaselineAUC),
		zap.Float64("best_alpha", result.BestAlpha),
		zap.Float64("best_auc", result.BestAUC),
		zap.Bool("adopt", result.Adopt),
	)
	return result, nil
}

// Partitioner rebuilds the vendor partition from the current
// snapshot. Satisfied by the dedup engine.
type Partitioner interface {
	Partition(ctx context.Context) ([]model.VendorMapping, error)
}

// CheckReproducibility rebuilds the vendor partition twice on the
// same snapshot and diffs the results. Any divergence is
// non-determinism in the pipeline and reported as an error.
func CheckReproducibility(ctx context.Context, p Partitioner) error {
	first, err := p.Partition(ctx)
	if err != nil {
		return eris.Wrap(err, "calibrate: first partition")
	}
	second, err := p.Partition(ctx)
	if err != nil {
		return eris.Wrap(err, "calibrate: second partition")
	}
	if len(first) != len(second) {
		return eris.Errorf("calibrate: partition size drifted between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			return eris.Errorf("calibrate: partition diverged at vendor %d: canonical %d vs %d",
				first[i].VendorID, first[i].CanonicalID, second[i].CanonicalID)
		}
	}
	return nil
}
