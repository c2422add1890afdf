package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// local/offline backend; serving deployments use Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures
// WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id             INTEGER PRIMARY KEY,
	raw_name       TEXT NOT NULL,
	tax_id         TEXT NOT NULL DEFAULT '',
	contract_count INTEGER NOT NULL DEFAULT 0,
	total_value    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS contracts (
	id             INTEGER PRIMARY KEY,
	vendor_id      INTEGER NOT NULL,
	institution_id INTEGER NOT NULL,
	sector_id      INTEGER NOT NULL,
	year           INTEGER NOT NULL,
	amount         REAL NOT NULL,
	single_bid     INTEGER NOT NULL DEFAULT 0,
	direct_award   INTEGER NOT NULL DEFAULT 0,
	advert_days    INTEGER NOT NULL DEFAULT 0,
	filed_date     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS vendor_map (
	vendor_id    INTEGER PRIMARY KEY,
	canonical_id INTEGER NOT NULL,
	cluster_id   INTEGER NOT NULL,
	method       TEXT NOT NULL,
	confidence   REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_overrides (
	vendor_id    INTEGER PRIMARY KEY,
	canonical_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contract_features (
	contract_id    INTEGER PRIMARY KEY,
	sector_id      INTEGER NOT NULL,
	cohort_year    INTEGER NOT NULL,
	schema_version TEXT NOT NULL,
	features       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_scores (
	contract_id   INTEGER PRIMARY KEY,
	score         REAL NOT NULL,
	level         TEXT NOT NULL,
	model_version TEXT NOT NULL,
	components    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS anomalies (
	contract_id INTEGER NOT NULL,
	sector_id   INTEGER NOT NULL,
	model       TEXT NOT NULL,
	score       REAL NOT NULL,
	PRIMARY KEY (contract_id, model)
);

CREATE TABLE IF NOT EXISTS ground_truth (
	vendor_id INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	duration   TEXT NOT NULL DEFAULT '',
	counters   TEXT NOT NULL DEFAULT '{}',
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// replaceAll swaps a table's full contents inside one transaction.
func (s *SQLiteStore) replaceAll(ctx context.Context, table, insertSQL string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin replace %s", table)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return eris.Wrapf(err, "sqlite: clear %s", table)
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert into %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit replace %s", table)
}

func (s *SQLiteStore) ReplaceVendors(ctx context.Context, vendors []model.VendorRecord) error {
	rows := make([][]any, 0, len(vendors))
	for _, v := range vendors {
		rows = append(rows, []any{v.ID, v.RawName, v.TaxID, v.ContractCount, v.TotalValue})
	}
	return s.replaceAll(ctx, "vendors",
		`INSERT INTO vendors (id, raw_name, tax_id, contract_count, total_value) VALUES (?, ?, ?, ?, ?)`,
		rows)
}

func (s *SQLiteStore) ListVendors(ctx context.Context) ([]model.VendorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, raw_name, tax_id, contract_count, total_value FROM vendors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendors")
	}
	defer rows.Close()

	var out []model.VendorRecord
	for rows.Next() {
		var v model.VendorRecord
		if err := rows.Scan(&v.ID, &v.RawName, &v.TaxID, &v.ContractCount, &v.TotalValue); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vendors iterate")
}

func (s *SQLiteStore) ReplaceContracts(ctx context.Context, contracts []model.Contract) error {
	rows := make([][]any, 0, len(contracts))
	for _, c := range contracts {
		rows = append(rows, []any{
			c.ID, c.VendorID, c.InstitutionID, c.SectorID, c.Year,
			c.Amount, boolToInt(c.SingleBid), boolToInt(c.DirectAward), c.AdvertDays, c.FiledDate,
		})
	}
	return s.replaceAll(ctx, "contracts",
		`INSERT INTO contracts (id, vendor_id, institution_id, sector_id, year, amount, single_bid, direct_award, advert_days, filed_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rows)
}

func (s *SQLiteStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vendor_id, institution_id, sector_id, year, amount, single_bid, direct_award, advert_days, filed_date
		 FROM contracts ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contracts")
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		var c model.Contract
		var singleBid, directAward int
		if err := rows.Scan(&c.ID, &c.VendorID, &c.InstitutionID, &c.SectorID, &c.Year,
			&c.Amount, &singleBid, &directAward, &c.AdvertDays, &c.FiledDate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contract")
		}
		c.SingleBid = singleBid != 0
		c.DirectAward = directAward != 0
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contracts iterate")
}

func (s *SQLiteStore) ReplaceVendorMappings(ctx context.Context, mappings []model.VendorMapping) error {
	rows := make([][]any, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, []any{m.VendorID, m.CanonicalID, m.ClusterID, string(m.Method), m.Confidence})
	}
	return s.replaceAll(ctx, "vendor_map",
		`INSERT INTO vendor_map (vendor_id, canonical_id, cluster_id, method, confidence) VALUES (?, ?, ?, ?, ?)`,
		rows)
}

func (s *SQLiteStore) ListVendorMappings(ctx context.Context) ([]model.VendorMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vendor_id, canonical_id, cluster_id, method, confidence FROM vendor_map ORDER BY vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendor mappings")
	}
	defer rows.Close()

	var out []model.VendorMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vendor mappings iterate")
}

func (s *SQLiteStore) GetVendorMapping(ctx context.Context, vendorID int64) (*model.VendorMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT vendor_id, canonical_id, cluster_id, method, confidence FROM vendor_map WHERE vendor_id = ?`,
		vendorID)
	m, err := scanMapping(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) ListVendorOverrides(ctx context.Context) ([]model.VendorOverride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vendor_id, canonical_id FROM vendor_overrides ORDER BY vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list overrides")
	}
	defer rows.Close()

	var out []model.VendorOverride
	for rows.Next() {
		var o model.VendorOverride
		if err := rows.Scan(&o.VendorID, &o.CanonicalID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan override")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

func (s *SQLiteStore) UpsertVendorOverride(ctx context.Context, o model.VendorOverride) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vendor_overrides (vendor_id, canonical_id) VALUES (?, ?)
		 ON CONFLICT (vendor_id) DO UPDATE SET canonical_id = excluded.canonical_id`,
		o.VendorID, o.CanonicalID)
	return eris.Wrapf(err, "sqlite: upsert override for vendor %d", o.VendorID)
}

func (s *SQLiteStore) ImportVendorOverrides(ctx context.Context, overrides []model.VendorOverride) (int64, error) {
	if len(overrides) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin import overrides")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vendor_overrides (vendor_id, canonical_id) VALUES (?, ?)
		 ON CONFLICT (vendor_id) DO UPDATE SET canonical_id = excluded.canonical_id`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare import overrides")
	}
	defer stmt.Close()

	for _, o := range overrides {
		if _, err := stmt.ExecContext(ctx, o.VendorID, o.CanonicalID); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import override for vendor %d", o.VendorID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit import overrides")
	}
	return int64(len(overrides)), nil
}

func (s *SQLiteStore) ReplaceContractFeatures(ctx context.Context, vectors []model.FeatureVector) error {
	rows := make([][]any, 0, len(vectors))
	for _, v := range vectors {
		valuesJSON, err := json.Marshal(v.Values)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal features for contract %d", v.ContractID)
		}
		rows = append(rows, []any{
			v.ContractID, v.Cohort.SectorID, v.Cohort.Year, model.FeatureSchemaVersion, string(valuesJSON),
		})
	}
	return s.replaceAll(ctx, "contract_features",
		`INSERT INTO contract_features (contract_id, sector_id, cohort_year, schema_version, features) VALUES (?, ?, ?, ?, ?)`,
		rows)
}

func (s *SQLiteStore) ListContractFeatures(ctx context.Context) ([]model.FeatureVector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contract_id, sector_id, cohort_year, features FROM contract_features ORDER BY contract_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list features")
	}
	defer rows.Close()

	var out []model.FeatureVector
	for rows.Next() {
		var v model.FeatureVector
		var valuesJSON string
		if err := rows.Scan(&v.ContractID, &v.Cohort.SectorID, &v.Cohort.Year, &valuesJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan features")
		}
		if err := json.Unmarshal([]byte(valuesJSON), &v.Values); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal features for contract %d", v.ContractID)
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list features iterate")
}

func (s *SQLiteStore) ReplaceRiskScores(ctx context.Context, scores []model.RiskScore) error {
	rows := make([][]any, 0, len(scores))
	for _, sc := range scores {
		componentsJSON, err := json.Marshal(sc.Components)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal components for contract %d", sc.ContractID)
		}
		rows = append(rows, []any{sc.ContractID, sc.Score, string(sc.Level), sc.ModelVersion, string(componentsJSON)})
	}
	return s.replaceAll(ctx, "risk_scores",
		`INSERT INTO risk_scores (contract_id, score, level, model_version, components) VALUES (?, ?, ?, ?, ?)`,
		rows)
}

func (s *SQLiteStore) ListRiskScores(ctx context.Context, filter ScoreFilter) ([]model.RiskScore, error) {
	query := `SELECT contract_id, score, level, model_version, components FROM risk_scores WHERE 1=1`
	var args []any

	if filter.Level != "" {
		query += ` AND level = ?`
		args = append(args, string(filter.Level))
	}
	query += ` ORDER BY score DESC, contract_id`

	// Limit < 0 returns the full table; the relevel pass needs it.
	if filter.Limit >= 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = defaultScoreLimit
		}
		query += ` LIMIT ?`
		args = append(args, limit)

		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list risk scores")
	}
	defer rows.Close()

	var out []model.RiskScore
	for rows.Next() {
		sc, err := scanRiskScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list risk scores iterate")
}

func (s *SQLiteStore) GetRiskScore(ctx context.Context, contractID int64) (*model.RiskScore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT contract_id, score, level, model_version, components FROM risk_scores WHERE contract_id = ?`,
		contractID)
	sc, err := scanRiskScore(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *SQLiteStore) ReplaceAnomalies(ctx context.Context, m model.AnomalyModel, records []model.AnomalyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace anomalies")
	}
	defer tx.Rollback()

	// Replacement is scoped to the model tag so forest and fallback
	// runs never clobber each other.
	if _, err := tx.ExecContext(ctx, `DELETE FROM anomalies WHERE model = ?`, string(m)); err != nil {
		return eris.Wrap(err, "sqlite: clear anomalies")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO anomalies (contract_id, sector_id, model, score) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert anomalies")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ContractID, r.SectorID, string(m), r.AnomalyScore); err != nil {
			return eris.Wrap(err, "sqlite: insert anomaly")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace anomalies")
}

func (s *SQLiteStore) ListAnomalies(ctx context.Context, m model.AnomalyModel) ([]model.AnomalyRecord, error) {
	return s.queryAnomalies(ctx,
		`SELECT contract_id, sector_id, model, score FROM anomalies WHERE model = ?
		 ORDER BY sector_id, score DESC, contract_id`,
		string(m))
}

func (s *SQLiteStore) ListSectorAnomalies(ctx context.Context, sectorID int64, m model.AnomalyModel) ([]model.AnomalyRecord, error) {
	return s.queryAnomalies(ctx,
		`SELECT contract_id, sector_id, model, score FROM anomalies WHERE sector_id = ? AND model = ?
		 ORDER BY score DESC, contract_id`,
		sectorID, string(m))
}

func (s *SQLiteStore) queryAnomalies(ctx context.Context, query string, args ...any) ([]model.AnomalyRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list anomalies")
	}
	defer rows.Close()

	var out []model.AnomalyRecord
	for rows.Next() {
		var r model.AnomalyRecord
		var tag string
		if err := rows.Scan(&r.ContractID, &r.SectorID, &tag, &r.AnomalyScore); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan anomaly")
		}
		r.Model = model.AnomalyModel(tag)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list anomalies iterate")
}

func (s *SQLiteStore) ReplaceGroundTruthVendors(ctx context.Context, vendorIDs []int64) error {
	rows := make([][]any, 0, len(vendorIDs))
	for _, id := range vendorIDs {
		rows = append(rows, []any{id})
	}
	return s.replaceAll(ctx, "ground_truth",
		`INSERT INTO ground_truth (vendor_id) VALUES (?)`, rows)
}

func (s *SQLiteStore) ListGroundTruthVendors(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT vendor_id FROM ground_truth ORDER BY vendor_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ground truth")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ground truth")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list ground truth iterate")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, summary model.RunSummary) error {
	countersJSON, err := json.Marshal(summary.Counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run counters")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, status, started_at, duration, counters, note) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id, stage) DO UPDATE SET
		   status = excluded.status, duration = excluded.duration,
		   counters = excluded.counters, note = excluded.note`,
		summary.RunID, summary.Stage, string(summary.Status), summary.StartedAt,
		summary.Duration, string(countersJSON), summary.Note)
	return eris.Wrapf(err, "sqlite: record run %s/%s", summary.RunID, summary.Stage)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, status, started_at, duration, counters, note FROM runs
		 ORDER BY started_at DESC, stage LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var status, countersJSON string
		if err := rows.Scan(&r.RunID, &r.Stage, &status, &r.StartedAt, &r.Duration, &countersJSON, &r.Note); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if err := json.Unmarshal([]byte(countersJSON), &r.Counters); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run counters")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMapping(row scannable) (model.VendorMapping, error) {
	var m model.VendorMapping
	var method string
	err := row.Scan(&m.VendorID, &m.CanonicalID, &m.ClusterID, &method, &m.Confidence)
	if err == sql.ErrNoRows {
		return m, err
	}
	if err != nil {
		return m, eris.Wrap(err, "sqlite: scan mapping")
	}
	m.Method = model.MatchMethod(method)
	return m, nil
}

func scanRiskScore(row scannable) (model.RiskScore, error) {
	var sc model.RiskScore
	var level, componentsJSON string
	err := row.Scan(&sc.ContractID, &sc.Score, &level, &sc.ModelVersion, &componentsJSON)
	if err == sql.ErrNoRows {
		return sc, err
	}
	if err != nil {
		return sc, eris.Wrap(err, "sqlite: scan risk score")
	}
	sc.Level = model.RiskLevel(level)
	if err := json.Unmarshal([]byte(componentsJSON), &sc.Components); err != nil {
		return sc, eris.Wrap(err, "sqlite: unmarshal components")
	}
	return sc, nil
}
