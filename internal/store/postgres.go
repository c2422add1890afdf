package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/transparencia-lab/contratos-cli/internal/db"
	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It backs shared
// serving deployments; local pipeline runs use SQLite.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the serving API's hot lookups.
var preparedStatements = map[string]string{
	"get_mapping": `SELECT vendor_id, canonical_id, cluster_id, method, confidence FROM vendor_map WHERE vendor_id = $1`,
	"get_score":   `SELECT contract_id, score, level, model_version, components FROM risk_scores WHERE contract_id = $1`,
	"sector_anomalies": `SELECT contract_id, sector_id, model, score FROM anomalies
		WHERE sector_id = $1 AND model = $2 ORDER BY score DESC, contract_id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return fmt.Errorf("prepare %s: %w", name, err)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: new pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Tests inject pgxmock
// through this; prepared statements are skipped.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id             BIGINT PRIMARY KEY,
	raw_name       TEXT NOT NULL,
	tax_id         TEXT NOT NULL DEFAULT '',
	contract_count BIGINT NOT NULL DEFAULT 0,
	total_value    DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS contracts (
	id             BIGINT PRIMARY KEY,
	vendor_id      BIGINT NOT NULL,
	institution_id BIGINT NOT NULL,
	sector_id      BIGINT NOT NULL,
	year           INTEGER NOT NULL,
	amount         DOUBLE PRECISION NOT NULL,
	single_bid     BOOLEAN NOT NULL DEFAULT FALSE,
	direct_award   BOOLEAN NOT NULL DEFAULT FALSE,
	advert_days    INTEGER NOT NULL DEFAULT 0,
	filed_date     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS vendor_map (
	vendor_id    BIGINT PRIMARY KEY,
	canonical_id BIGINT NOT NULL,
	cluster_id   BIGINT NOT NULL,
	method       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_overrides (
	vendor_id    BIGINT PRIMARY KEY,
	canonical_id BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS contract_features (
	contract_id    BIGINT PRIMARY KEY,
	sector_id      BIGINT NOT NULL,
	cohort_year    INTEGER NOT NULL,
	schema_version TEXT NOT NULL,
	features       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_scores (
	contract_id   BIGINT PRIMARY KEY,
	score         DOUBLE PRECISION NOT NULL,
	level         TEXT NOT NULL,
	model_version TEXT NOT NULL,
	components    JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS anomalies (
	contract_id BIGINT NOT NULL,
	sector_id   BIGINT NOT NULL,
	model       TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (contract_id, model)
);

CREATE TABLE IF NOT EXISTS ground_truth (
	vendor_id BIGINT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	duration   TEXT NOT NULL DEFAULT '',
	counters   JSONB NOT NULL DEFAULT '{}',
	note       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (id, stage)
);

CREATE INDEX IF NOT EXISTS idx_contracts_sector_year ON contracts(sector_id, year);
CREATE INDEX IF NOT EXISTS idx_contracts_vendor ON contracts(vendor_id);
CREATE INDEX IF NOT EXISTS idx_vendor_map_canonical ON vendor_map(canonical_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_level ON risk_scores(level);
CREATE INDEX IF NOT EXISTS idx_anomalies_sector ON anomalies(sector_id, model);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

// replaceAll swaps a table's full contents inside one transaction,
// bulk-loading the new rows over the COPY protocol.
func (s *PostgresStore) replaceAll(ctx context.Context, table string, columns []string, rows [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin replace %s", table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()); err != nil {
		return eris.Wrapf(err, "postgres: clear %s", table)
	}
	if _, err := db.CopyFrom(ctx, tx, table, columns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy into %s", table)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit replace %s", table)
}

func (s *PostgresStore) ReplaceVendors(ctx context.Context, vendors []model.VendorRecord) error {
	rows := make([][]any, 0, len(vendors))
	for _, v := range vendors {
		rows = append(rows, []any{v.ID, v.RawName, v.TaxID, v.ContractCount, v.TotalValue})
	}
	return s.replaceAll(ctx, "vendors",
		[]string{"id", "raw_name", "tax_id", "contract_count", "total_value"}, rows)
}

func (s *PostgresStore) ListVendors(ctx context.Context) ([]model.VendorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, raw_name, tax_id, contract_count, total_value FROM vendors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendors")
	}
	defer rows.Close()

	var out []model.VendorRecord
	for rows.Next() {
		var v model.VendorRecord
		if err := rows.Scan(&v.ID, &v.RawName, &v.TaxID, &v.ContractCount, &v.TotalValue); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vendors rows")
}

func (s *PostgresStore) ReplaceContracts(ctx context.Context, contracts []model.Contract) error {
	rows := make([][]any, 0, len(contracts))
	for _, c := range contracts {
		rows = append(rows, []any{
			c.ID, c.VendorID, c.InstitutionID, c.SectorID, c.Year,
			c.Amount, c.SingleBid, c.DirectAward, c.AdvertDays, c.FiledDate,
		})
	}
	return s.replaceAll(ctx, "contracts",
		[]string{"id", "vendor_id", "institution_id", "sector_id", "year",
			"amount", "single_bid", "direct_award", "advert_days", "filed_date"}, rows)
}

func (s *PostgresStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, vendor_id, institution_id, sector_id, year, amount, single_bid, direct_award, advert_days, filed_date
		 FROM contracts ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contracts")
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		var c model.Contract
		if err := rows.Scan(&c.ID, &c.VendorID, &c.InstitutionID, &c.SectorID, &c.Year,
			&c.Amount, &c.SingleBid, &c.DirectAward, &c.AdvertDays, &c.FiledDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contract")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contracts rows")
}

func (s *PostgresStore) ReplaceVendorMappings(ctx context.Context, mappings []model.VendorMapping) error {
	rows := make([][]any, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, []any{m.VendorID, m.CanonicalID, m.ClusterID, string(m.Method), m.Confidence})
	}
	return s.replaceAll(ctx, "vendor_map",
		[]string{"vendor_id", "canonical_id", "cluster_id", "method", "confidence"}, rows)
}

func (s *PostgresStore) ListVendorMappings(ctx context.Context) ([]model.VendorMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vendor_id, canonical_id, cluster_id, method, confidence FROM vendor_map ORDER BY vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendor mappings")
	}
	defer rows.Close()

	var out []model.VendorMapping
	for rows.Next() {
		m, err := scanMappingPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vendor mappings rows")
}

func (s *PostgresStore) GetVendorMapping(ctx context.Context, vendorID int64) (*model.VendorMapping, error) {
	row := s.pool.QueryRow(ctx, "get_mapping", vendorID)
	m, err := scanMappingPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListVendorOverrides(ctx context.Context) ([]model.VendorOverride, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vendor_id, canonical_id FROM vendor_overrides ORDER BY vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list overrides")
	}
	defer rows.Close()

	var out []model.VendorOverride
	for rows.Next() {
		var o model.VendorOverride
		if err := rows.Scan(&o.VendorID, &o.CanonicalID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list overrides rows")
}

func (s *PostgresStore) ImportVendorOverrides(ctx context.Context, overrides []model.VendorOverride) (int64, error) {
	rows := make([][]any, 0, len(overrides))
	for _, o := range overrides {
		rows = append(rows, []any{o.VendorID, o.CanonicalID})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "vendor_overrides",
		Columns:      []string{"vendor_id", "canonical_id"},
		ConflictKeys: []string{"vendor_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import overrides")
}

func (s *PostgresStore) UpsertVendorOverride(ctx context.Context, o model.VendorOverride) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vendor_overrides (vendor_id, canonical_id) VALUES ($1, $2)
		 ON CONFLICT (vendor_id) DO UPDATE SET canonical_id = EXCLUDED.canonical_id`,
		o.VendorID, o.CanonicalID)
	return eris.Wrapf(err, "postgres: upsert override for vendor %d", o.VendorID)
}

func (s *PostgresStore) ReplaceContractFeatures(ctx context.Context, vectors []model.FeatureVector) error {
	rows := make([][]any, 0, len(vectors))
	for _, v := range vectors {
		valuesJSON, err := json.Marshal(v.Values)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal features for contract %d", v.ContractID)
		}
		rows = append(rows, []any{v.ContractID, v.Cohort.SectorID, v.Cohort.Year, model.FeatureSchemaVersion, valuesJSON})
	}
	return s.replaceAll(ctx, "contract_features",
		[]string{"contract_id", "sector_id", "cohort_year", "schema_version", "features"}, rows)
}

func (s *PostgresStore) ListContractFeatures(ctx context.Context) ([]model.FeatureVector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contract_id, sector_id, cohort_year, features FROM contract_features ORDER BY contract_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list features")
	}
	defer rows.Close()

	var out []model.FeatureVector
	for rows.Next() {
		var v model.FeatureVector
		var valuesJSON []byte
		if err := rows.Scan(&v.ContractID, &v.Cohort.SectorID, &v.Cohort.Year, &valuesJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan features")
		}
		if err := json.Unmarshal(valuesJSON, &v.Values); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal features for contract %d", v.ContractID)
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list features rows")
}

func (s *PostgresStore) ReplaceRiskScores(ctx context.Context, scores []model.RiskScore) error {
	rows := make([][]any, 0, len(scores))
	for _, sc := range scores {
		componentsJSON, err := json.Marshal(sc.Components)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal components for contract %d", sc.ContractID)
		}
		rows = append(rows, []any{sc.ContractID, sc.Score, string(sc.Level), sc.ModelVersion, componentsJSON})
	}
	return s.replaceAll(ctx, "risk_scores",
		[]string{"contract_id", "score", "level", "model_version", "components"}, rows)
}

func (s *PostgresStore) ListRiskScores(ctx context.Context, filter ScoreFilter) ([]model.RiskScore, error) {
	query := `SELECT contract_id, score, level, model_version, components FROM risk_scores`
	var args []any

	if filter.Level != "" {
		args = append(args, string(filter.Level))
		query += fmt.Sprintf(" WHERE level = $%d", len(args))
	}
	query += ` ORDER BY score DESC, contract_id`

	// Limit < 0 returns the full table; the relevel pass needs it.
	if filter.Limit >= 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = defaultScoreLimit
		}
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))

		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list risk scores")
	}
	defer rows.Close()

	var out []model.RiskScore
	for rows.Next() {
		sc, err := scanRiskScorePG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list risk scores rows")
}

func (s *PostgresStore) GetRiskScore(ctx context.Context, contractID int64) (*model.RiskScore, error) {
	row := s.pool.QueryRow(ctx, "get_score", contractID)
	sc, err := scanRiskScorePG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PostgresStore) ReplaceAnomalies(ctx context.Context, m model.AnomalyModel, records []model.AnomalyRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace anomalies")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM anomalies WHERE model = $1`, string(m)); err != nil {
		return eris.Wrap(err, "postgres: clear anomalies")
	}
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.ContractID, r.SectorID, string(m), r.AnomalyScore})
	}
	if _, err := db.CopyFrom(ctx, tx, "anomalies",
		[]string{"contract_id", "sector_id", "model", "score"}, rows); err != nil {
		return eris.Wrap(err, "postgres: copy into anomalies")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace anomalies")
}

func (s *PostgresStore) ListAnomalies(ctx context.Context, m model.AnomalyModel) ([]model.AnomalyRecord, error) {
	return s.queryAnomalies(ctx,
		`SELECT contract_id, sector_id, model, score FROM anomalies WHERE model = $1
		 ORDER BY sector_id, score DESC, contract_id`,
		string(m))
}

func (s *PostgresStore) ListSectorAnomalies(ctx context.Context, sectorID int64, m model.AnomalyModel) ([]model.AnomalyRecord, error) {
	return s.queryAnomalies(ctx, "sector_anomalies", sectorID, string(m))
}

func (s *PostgresStore) queryAnomalies(ctx context.Context, query string, args ...any) ([]model.AnomalyRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list anomalies")
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		var r model.AnomalyRecord
		var tag string
		if err := rows.Scan(&r.ContractID, &r.SectorID, &tag, &r.AnomalyScore); err != nil {
			return nil, eris.Wrap(err, "postgres: scan anomaly")
		}
		r.Model = model.AnomalyModel(tag)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list anomalies rows")
}

func (s *PostgresStore) ReplaceGroundTruthVendors(ctx context.Context, vendorIDs []int64) error {
	rows := make([][]any, 0, len(vendorIDs))
	for _, id := range vendorIDs {
		rows = append(rows, []any{id})
	}
	return s.replaceAll(ctx, "ground_truth", []string{"vendor_id"}, rows)
}

func (s *PostgresStore) ListGroundTruthVendors(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT vendor_id FROM ground_truth ORDER BY vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ground truth")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ground truth")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list ground truth rows")
}

func (s *PostgresStore) RecordRun(ctx context.Context, summary model.RunSummary) error {
	countersJSON, err := json.Marshal(summary.Counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run counters")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, stage, status, started_at, duration, counters, note) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id, stage) DO UPDATE SET
		   status = EXCLUDED.status, duration = EXCLUDED.duration,
		   counters = EXCLUDED.counters, note = EXCLUDED.note`,
		summary.RunID, summary.Stage, string(summary.Status), summary.StartedAt,
		summary.Duration, countersJSON, summary.Note)
	return eris.Wrapf(err, "postgres: record run %s/%s", summary.RunID, summary.Stage)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, stage, status, started_at, duration, counters, note FROM runs
		 ORDER BY started_at DESC, stage LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var status string
		var countersJSON []byte
		if err := rows.Scan(&r.RunID, &r.Stage, &status, &r.StartedAt, &r.Duration, &countersJSON, &r.Note); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := json.Unmarshal(countersJSON, &r.Counters); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run counters")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

func scanMappingPG(row pgx.Row) (model.VendorMapping, error) {
	var m model.VendorMapping
	var method string
	err := row.Scan(&m.VendorID, &m.CanonicalID, &m.ClusterID, &method, &m.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, err
	}
	if err != nil {
		return m, eris.Wrap(err, "postgres: scan mapping")
	}
	m.Method = model.MatchMethod(method)
	return m, nil
}

func scanRiskScorePG(row pgx.Row) (model.RiskScore, error) {
	var sc model.RiskScore
	var level string
	var componentsJSON []byte
	err := row.Scan(&sc.ContractID, &sc.Score, &level, &sc.ModelVersion, &componentsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return sc, err
	}
	if err != nil {
		return sc, eris.Wrap(err, "postgres: scan risk score")
	}
	sc.Level = model.RiskLevel(level)
	if err := json.Unmarshal(componentsJSON, &sc.Components); err != nil {
		return sc, eris.Wrap(err, "postgres: unmarshal components")
	}
	return sc, nil
}
