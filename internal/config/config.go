package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Features  FeaturesConfig  `yaml:"features" mapstructure:"features"`
	Risk      RiskConfig      `yaml:"risk" mapstructure:"risk"`
	Anomaly   AnomalyConfig   `yaml:"anomaly" mapstructure:"anomaly"`
	Calibrate CalibrateConfig `yaml:"calibrate" mapstructure:"calibrate"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IngestConfig maps input table fields to source file headers, for
// exports whose column names differ from the defaults. Delimiter and
// Sheet handle portals that export semicolon CSVs or multi-sheet
// workbooks.
type IngestConfig struct {
	VendorColumns   map[string]string `yaml:"vendor_columns" mapstructure:"vendor_columns"`
	ContractColumns map[string]string `yaml:"contract_columns" mapstructure:"contract_columns"`
	Delimiter       string            `yaml:"delimiter" mapstructure:"delimiter"`
	Sheet           string            `yaml:"sheet" mapstructure:"sheet"`
}

// DedupConfig configures the vendor deduplication engine.
type DedupConfig struct {
	JaccardThreshold float64 `yaml:"jaccard_threshold" mapstructure:"jaccard_threshold"`
	LinkageThreshold float64 `yaml:"linkage_threshold" mapstructure:"linkage_threshold"`
	MinBlockTokens   int     `yaml:"min_block_tokens" mapstructure:"min_block_tokens"`
	// MaxBlockSize skips degenerate buckets whose shared token is too
	// common to be discriminative.
	MaxBlockSize int `yaml:"max_block_size" mapstructure:"max_block_size"`
	Workers      int `yaml:"workers" mapstructure:"workers"`
	// NormalizeCacheSize bounds the normalized-vendor cache.
	NormalizeCacheSize int `yaml:"normalize_cache_size" mapstructure:"normalize_cache_size"`
}

// FeaturesConfig configures cohort z-score feature computation.
type FeaturesConfig struct {
	MinCohort int `yaml:"min_cohort" mapstructure:"min_cohort"`
	Workers   int `yaml:"workers" mapstructure:"workers"`
}

// RiskConfig configures score aggregation and level thresholds.
type RiskConfig struct {
	ModelVersion string `yaml:"model_version" mapstructure:"model_version"`
	// ZRef is the z-score at which a dimension's bounded contribution
	// saturates.
	ZRef float64 `yaml:"z_ref" mapstructure:"z_ref"`
	// Weights maps feature name to its share of the score. Must sum
	// to 1.0; validated at startup.
	Weights map[string]float64 `yaml:"weights" mapstructure:"weights"`
	// Level thresholds: score >= Critical => critical, and so on.
	CriticalThreshold float64 `yaml:"critical_threshold" mapstructure:"critical_threshold"`
	HighThreshold     float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold" mapstructure:"medium_threshold"`
}

// AnomalyConfig configures the per-sector anomaly detector.
type AnomalyConfig struct {
	Strategy      string  `yaml:"strategy" mapstructure:"strategy"` // "isolation_forest" or "zscore"
	Trees         int     `yaml:"trees" mapstructure:"trees"`
	SampleSize    int     `yaml:"sample_size" mapstructure:"sample_size"`
	TopN          int     `yaml:"top_n" mapstructure:"top_n"`
	MinSector     int     `yaml:"min_sector" mapstructure:"min_sector"`
	ClipStdDevs   float64 `yaml:"clip_std_devs" mapstructure:"clip_std_devs"`
	Seed          int64   `yaml:"seed" mapstructure:"seed"`
	Workers       int     `yaml:"workers" mapstructure:"workers"`
}

// CalibrateConfig configures the offline backtest harness.
type CalibrateConfig struct {
	// AdoptionMargin is the minimum AUC improvement before a candidate
	// configuration replaces production.
	AdoptionMargin float64 `yaml:"adoption_margin" mapstructure:"adoption_margin"`
	EnsembleStep   float64 `yaml:"ensemble_step" mapstructure:"ensemble_step"`
}

// ServerConfig configures the read-only query API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTRATOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "contratos.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("dedup.jaccard_threshold", 0.80)
	v.SetDefault("dedup.linkage_threshold", 0.97)
	v.SetDefault("dedup.min_block_tokens", 2)
	v.SetDefault("dedup.max_block_size", 2000)
	v.SetDefault("dedup.workers", 4)
	v.SetDefault("dedup.normalize_cache_size", 100_000)

	v.SetDefault("features.min_cohort", 30)
	v.SetDefault("features.workers", 4)

	v.SetDefault("risk.model_version", "v4.0")
	v.SetDefault("risk.z_ref", 3.0)
	v.SetDefault("risk.critical_threshold", 0.50)
	v.SetDefault("risk.high_threshold", 0.30)
	v.SetDefault("risk.medium_threshold", 0.10)

	v.SetDefault("anomaly.strategy", "isolation_forest")
	v.SetDefault("anomaly.trees", 100)
	v.SetDefault("anomaly.sample_size", 256)
	v.SetDefault("anomaly.top_n", 50)
	v.SetDefault("anomaly.min_sector", 100)
	v.SetDefault("anomaly.clip_std_devs", 10)
	v.SetDefault("anomaly.seed", 42)
	v.SetDefault("anomaly.workers", 4)

	v.SetDefault("calibrate.adoption_margin", 0.01)
	v.SetDefault("calibrate.ensemble_step", 0.05)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
