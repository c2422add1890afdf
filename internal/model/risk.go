package model

import "time"

// RiskLevel is the discrete band derived from a risk score. It must
// always be recomputable from the score and the active threshold
// table; no code path may set it independently.
type RiskLevel string

const (
	LevelLow      RiskLevel = "low"
	LevelMedium   RiskLevel = "medium"
	LevelHigh     RiskLevel = "high"
	LevelCritical RiskLevel = "critical"
)

// RiskScore is the per-contract scoring output.
type RiskScore struct {
	ContractID   int64     `json:"contract_id"`
	Score        float64   `json:"score"` // always in [0,1]
	Level        RiskLevel `json:"level"`
	ModelVersion string    `json:"model_version"`
	// Components records each dimension's bounded contribution so the
	// driver of a score is always auditable.
	Components map[string]float64 `json:"components,omitempty"`
}

// AnomalyModel tags which detector produced an anomaly record.
type AnomalyModel string

const (
	AnomalyModelForest AnomalyModel = "isolation_forest"
	AnomalyModelZScore AnomalyModel = "zscore_fallback"
)

// AnomalyRecord is one retained per-sector anomaly. Only the top-N
// per sector per model survive a run; precision over completeness.
type AnomalyRecord struct {
	ContractID   int64        `json:"contract_id"`
	SectorID     int64        `json:"sector_id"`
	Model        AnomalyModel `json:"model"`
	AnomalyScore float64      `json:"anomaly_score"` // [0,1], 1 = most anomalous
}

// RunStatus tracks pipeline run bookkeeping.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
	RunStatusSkipped  RunStatus = "skipped"
)

// RunSummary is the user-visible coverage report for one pipeline
// stage run. Scores and mappings are never presented without it.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration,omitempty"`
	// Counters: input size, matched/unmatched, flagged defects,
	// skipped sectors, and similar stage-specific tallies.
	Counters map[string]int64 `json:"counters,omitempty"`
	Note     string           `json:"note,omitempty"`
}
