package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/db"
	"github.com/sells-group/lakeflow/internal/model"
)

// PostgresStore implements TableStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lake_tables (
	name       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS lake_rows (
	id               UUID PRIMARY KEY,
	table_name       TEXT NOT NULL REFERENCES lake_tables(name),
	natural_key_hash TEXT,
	change_key_hash  TEXT,
	partition_key    BIGINT,
	sk               BIGINT,
	effective_from   DATE,
	effective_to     DATE,
	is_current       BOOLEAN NOT NULL DEFAULT false,
	deletion_flag    BOOLEAN NOT NULL DEFAULT false,
	attrs            JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS sk_counters (
	table_name TEXT PRIMARY KEY,
	next_sk    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           UUID PRIMARY KEY,
	contract     TEXT NOT NULL,
	target_table TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	stats        JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         UUID PRIMARY KEY,
	run_id     UUID NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT,
	duration   BIGINT NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lake_rows_table ON lake_rows(table_name);
CREATE INDEX IF NOT EXISTS idx_lake_rows_table_current ON lake_rows(table_name, is_current);
CREATE INDEX IF NOT EXISTS idx_lake_rows_table_nk ON lake_rows(table_name, natural_key_hash);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_contract ON runs(contract);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) TableExists(ctx context.Context, table string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM lake_tables WHERE name = $1`, table).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: table exists %s", table)
	}
	return true, nil
}

func (s *PostgresStore) CreateTable(ctx context.Context, table string, rows []model.HistorizedRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create table")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO lake_tables (name, kind) VALUES ($1, 'historized') ON CONFLICT (name) DO NOTHING`, table,
	); err != nil {
		return eris.Wrapf(err, "postgres: register table %s", table)
	}
	if err := insertHistorizedPg(ctx, tx, table, rows); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit create table %s", table)
}

func (s *PostgresStore) ReadActive(ctx context.Context, table string) ([]model.HistorizedRow, error) {
	return s.readHistorized(ctx, table, true)
}

func (s *PostgresStore) ReadAll(ctx context.Context, table string) ([]model.HistorizedRow, error) {
	return s.readHistorized(ctx, table, false)
}

func (s *PostgresStore) readHistorized(ctx context.Context, table string, activeOnly bool) ([]model.HistorizedRow, error) {
	query := `SELECT natural_key_hash, change_key_hash, partition_key, COALESCE(sk, 0),
		effective_from, effective_to, is_current, deletion_flag, attrs
		FROM lake_rows WHERE table_name = $1`
	if activeOnly {
		query += ` AND is_current = true`
	}

	rows, err := s.pool.Query(ctx, query, table)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read %s", table)
	}
	defer rows.Close()

	var out []model.HistorizedRow
	for rows.Next() {
		var (
			hr    model.HistorizedRow
			attrs []byte
		)
		if err := rows.Scan(&hr.NaturalKeyHash, &hr.ChangeKeyHash, &hr.PartitionKey, &hr.SurrogateKey,
			&hr.EffectiveFrom, &hr.EffectiveTo, &hr.IsCurrent, &hr.DeletionFlag, &attrs); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan row from %s", table)
		}
		if hr.Attributes, err = decodeAttrs(string(attrs)); err != nil {
			return nil, err
		}
		out = append(out, hr)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", table)
}

func (s *PostgresStore) ApplyMerge(ctx context.Context, table string, ms *model.MutationSet) error {
	if ms.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin merge")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO lake_tables (name, kind) VALUES ($1, 'historized') ON CONFLICT (name) DO NOTHING`, table,
	); err != nil {
		return eris.Wrapf(err, "postgres: register table %s", table)
	}

	if len(ms.CloseKeys) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE lake_rows SET is_current = false, effective_to = $1
			 WHERE table_name = $2 AND is_current = true AND natural_key_hash = ANY($3)`,
			ms.CloseDate, table, ms.CloseKeys,
		); err != nil {
			return eris.Wrapf(err, "postgres: close rows in %s", table)
		}
	}

	if err := insertHistorizedPg(ctx, tx, table, ms.Inserts); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit merge to %s", table)
}

func insertHistorizedPg(ctx context.Context, tx pgx.Tx, table string, rows []model.HistorizedRow) error {
	if len(rows) == 0 {
		return nil
	}

	copyRows := make([][]any, 0, len(rows))
	for _, hr := range rows {
		attrs, err := encodeAttrs(hr.Attributes)
		if err != nil {
			return err
		}
		var sk any
		if hr.SurrogateKey > 0 {
			sk = hr.SurrogateKey
		}
		copyRows = append(copyRows, []any{
			uuid.New(), table, hr.NaturalKeyHash, hr.ChangeKeyHash, hr.PartitionKey,
			sk, hr.EffectiveFrom, hr.EffectiveTo, hr.IsCurrent, hr.DeletionFlag, []byte(attrs),
		})
	}

	_, err := tx.CopyFrom(ctx, pgx.Identifier{"lake_rows"},
		[]string{"id", "table_name", "natural_key_hash", "change_key_hash", "partition_key",
			"sk", "effective_from", "effective_to", "is_current", "deletion_flag", "attrs"},
		pgx.CopyFromRows(copyRows),
	)
	return eris.Wrapf(err, "postgres: copy rows into %s", table)
}

// AllocateSurrogateKeys reserves n consecutive keys through an atomic counter
// upsert, so allocation is collision-free even when the counter table is
// shared across concurrent pipelines.
func (s *PostgresStore) AllocateSurrogateKeys(ctx context.Context, table string, n int) (int64, error) {
	if n <= 0 {
		return 0, eris.New("postgres: surrogate key count must be positive")
	}

	var next int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sk_counters (table_name, next_sk) VALUES ($1, $2 + 1)
		 ON CONFLICT (table_name) DO UPDATE SET next_sk = sk_counters.next_sk + $2
		 RETURNING next_sk - $2`,
		table, n,
	).Scan(&next)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: allocate surrogate keys for %s", table)
	}
	return next, nil
}

func (s *PostgresStore) MaxSurrogateKey(ctx context.Context, table string) (int64, error) {
	var maxSK int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sk), 0) FROM lake_rows WHERE table_name = $1`, table,
	).Scan(&maxSK)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: max surrogate key %s", table)
	}
	return maxSK, nil
}

func (s *PostgresStore) AppendRows(ctx context.Context, table string, rows []model.Row) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO lake_tables (name, kind) VALUES ($1, 'plain') ON CONFLICT (name) DO NOTHING`, table,
	); err != nil {
		return eris.Wrapf(err, "postgres: register table %s", table)
	}

	copyRows := make([][]any, 0, len(rows))
	for _, row := range rows {
		attrs, err := encodeAttrs(row)
		if err != nil {
			return err
		}
		copyRows = append(copyRows, []any{uuid.New(), table, false, false, []byte(attrs)})
	}

	_, err := db.CopyFrom(ctx, s.pool, "lake_rows",
		[]string{"id", "table_name", "is_current", "deletion_flag", "attrs"}, copyRows)
	return err
}

func (s *PostgresStore) ReplaceRows(ctx context.Context, table string, rows []model.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO lake_tables (name, kind) VALUES ($1, 'plain') ON CONFLICT (name) DO NOTHING`, table,
	); err != nil {
		return eris.Wrapf(err, "postgres: register table %s", table)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM lake_rows WHERE table_name = $1`, table); err != nil {
		return eris.Wrapf(err, "postgres: clear table %s", table)
	}

	for _, row := range rows {
		attrs, err := encodeAttrs(row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO lake_rows (id, table_name, is_current, deletion_flag, attrs) VALUES ($1, $2, false, false, $3)`,
			uuid.New(), table, []byte(attrs),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert into %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit replace %s", table)
}

func (s *PostgresStore) ReadRows(ctx context.Context, table string) ([]model.Row, error) {
	return s.readAttrs(ctx, `SELECT attrs FROM lake_rows WHERE table_name = $1`, table)
}

func (s *PostgresStore) CurrentView(ctx context.Context, table string) ([]model.Row, error) {
	return s.readAttrs(ctx,
		`SELECT attrs FROM lake_rows WHERE table_name = $1 AND is_current = true AND deletion_flag = false`,
		table,
	)
}

func (s *PostgresStore) readAttrs(ctx context.Context, query, table string) ([]model.Row, error) {
	rows, err := s.pool.Query(ctx, query, table)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: read %s", table)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var attrs []byte
		if err := rows.Scan(&attrs); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		row, err := decodeAttrs(string(attrs))
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", table)
}

func (s *PostgresStore) CreateRun(ctx context.Context, contractName, table, strategy string) (*model.Run, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, contract, target_table, strategy, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, contractName, table, strategy, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id.String(),
		Contract:    contractName,
		TargetTable: table,
		Strategy:    strategy,
		Status:      model.RunStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats *model.PipelineStats, runErr string) error {
	status := model.RunStatusComplete
	if runErr != "" {
		status = model.RunStatusFailed
	}

	var statsJSON any
	if stats != nil {
		raw, err := json.Marshal(stats)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal stats")
		}
		statsJSON = raw
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stats = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(status), statsJSON, nullString(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, contract, target_table, strategy, status, stats, error, created_at, updated_at
		 FROM runs WHERE id = $1`, runID,
	)
	run, err := scanRunPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, contract, target_table, strategy, status, stats, error, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.Contract != "" {
		args = append(args, filter.Contract)
		query += ` AND contract = $` + itoa(len(args))
	}
	if !filter.CreatedAfter.IsZero() {
		args = append(args, filter.CreatedAfter)
		query += ` AND created_at >= $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanRunPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID, name string) (*model.RunPhase, error) {
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert phase")
	}

	return &model.RunPhase{
		ID:        id.String(),
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, error = $2, duration = $3 WHERE id = $4`,
		string(result.Status), nullString(result.Error), result.Duration, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: phase %s not found", phaseID)
	}
	return nil
}

func scanRunPg(sc rowScanner) (*model.Run, error) {
	var (
		run   model.Run
		id    uuid.UUID
		stats []byte
		rerr  *string
	)
	if err := sc.Scan(&id, &run.Contract, &run.TargetTable, &run.Strategy, &run.Status,
		&stats, &rerr, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.ID = id.String()
	if len(stats) > 0 {
		var ps model.PipelineStats
		if err := json.Unmarshal(stats, &ps); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run stats")
		}
		run.Stats = &ps
	}
	if rerr != nil {
		run.Error = *rerr
	}
	return &run, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
