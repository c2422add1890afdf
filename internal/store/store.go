package store

import (
	"context"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

const (
	defaultScoreLimit = 100
	defaultRunLimit   = 50
)

// ScoreFilter narrows risk score listings for the query API.
type ScoreFilter struct {
	Level  model.RiskLevel `json:"level,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store is the persistence interface shared by every pipeline stage.
// All Replace* operations swap the full table inside one transaction;
// an abort leaves the prior contents authoritative.
type Store interface {
	// Input tables, loaded by the import command.
	ReplaceVendors(ctx context.Context, vendors []model.VendorRecord) error
	ListVendors(ctx context.Context) ([]model.VendorRecord, error)
	ReplaceContracts(ctx context.Context, contracts []model.Contract) error
	ListContracts(ctx context.Context) ([]model.Contract, error)

	// Dedup output and manual corrections.
	ReplaceVendorMappings(ctx context.Context, mappings []model.VendorMapping) error
	ListVendorMappings(ctx context.Context) ([]model.VendorMapping, error)
	GetVendorMapping(ctx context.Context, vendorID int64) (*model.VendorMapping, error)
	ListVendorOverrides(ctx context.Context) ([]model.VendorOverride, error)
	UpsertVendorOverride(ctx context.Context, o model.VendorOverride) error
	ImportVendorOverrides(ctx context.Context, overrides []model.VendorOverride) (int64, error)

	// Feature cache.
	ReplaceContractFeatures(ctx context.Context, vectors []model.FeatureVector) error
	ListContractFeatures(ctx context.Context) ([]model.FeatureVector, error)

	// Risk scores.
	ReplaceRiskScores(ctx context.Context, scores []model.RiskScore) error
	ListRiskScores(ctx context.Context, filter ScoreFilter) ([]model.RiskScore, error)
	GetRiskScore(ctx context.Context, contractID int64) (*model.RiskScore, error)

	// Anomalies, keyed by model tag.
	ReplaceAnomalies(ctx context.Context, m model.AnomalyModel, records []model.AnomalyRecord) error
	ListAnomalies(ctx context.Context, m model.AnomalyModel) ([]model.AnomalyRecord, error)
	ListSectorAnomalies(ctx context.Context, sectorID int64, m model.AnomalyModel) ([]model.AnomalyRecord, error)

	// Partial ground truth for calibration.
	ReplaceGroundTruthVendors(ctx context.Context, vendorIDs []int64) error
	ListGroundTruthVendors(ctx context.Context) ([]int64, error)

	// Run bookkeeping.
	RecordRun(ctx context.Context, summary model.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
