package risk

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/config"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// Source provides the feature cache built by the feature stage.
type Source interface {
	ListContractFeatures(ctx context.Context) ([]model.FeatureVector, error)
}

// Sink receives the rebuilt score table, replaced wholesale inside
// one transaction.
type Sink interface {
	ReplaceRiskScores(ctx context.Context, scores []model.RiskScore) error
}

// Engine scores every cached feature vector with the configured
// weight table.
type Engine struct {
	scorer *Scorer
	source Source
	sink   Sink
}

func NewEngine(cfg config.RiskConfig, source Source, sink Sink) (*Engine, error) {
	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{scorer: scorer, source: source, sink: sink}, nil
}

// Run rebuilds the score table from the feature cache.
func (e *Engine) Run(ctx context.Context, runID string) (model.RunSummary, error) {
	started := time.Now().UTC()
	summary := model.RunSummary{
		RunID:     runID,
		Stage:     "score",
		Status:    model.RunStatusRunning,
		StartedAt: started,
		Counters:  make(map[string]int64),
	}
	log := zap.L().With(zap.String("run_id", runID), zap.String("stage", "score"))

	vectors, err := e.source.ListContractFeatures(ctx)
	if err != nil {
		return summary, eris.Wrap(err, "risk: list features")
	}
	if len(vectors) == 0 {
		return summary, eris.New("risk: feature cache is empty, run features first")
	}
	summary.Counters["contracts_total"] = int64(len(vectors))

	scores := make([]model.RiskScore, 0, len(vectors))
	for _, fv := range vectors {
		rs := e.scorer.Score(fv)
		scores = append(scores, rs)
		summary.Counters["level_"+string(rs.Level)]++
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].ContractID < scores[j].ContractID })

	if err := e.sink.ReplaceRiskScores(ctx, scores); err != nil {
		return summary, eris.Wrap(err, "risk: commit scores")
	}

	summary.Status = model.RunStatusComplete
	summary.Duration = time.Since(started).Round(time.Millisecond).String()

	log.Info("score run complete",
		zap.Int64("contracts", summary.Counters["contracts_total"]),
		zap.Int64("critical", summary.Counters["level_critical"]),
		zap.Int64("high", summary.Counters["level_high"]),
		zap.String("model_version", e.scorer.cfg.ModelVersion),
		zap.String("duration", summary.Duration),
	)
	return summary, nil
}
