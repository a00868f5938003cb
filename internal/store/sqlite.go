package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lakeflow/internal/model"
)

// SQLiteStore implements TableStore using modernc.org/sqlite. All row data
// for historized and plain tables lives in one physical table keyed by the
// logical table name; commits are plain SQL transactions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
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
CREATE TABLE IF NOT EXISTS lake_tables (
	name       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lake_rows (
	id               TEXT PRIMARY KEY,
	table_name       TEXT NOT NULL REFERENCES lake_tables(name),
	natural_key_hash TEXT,
	change_key_hash  TEXT,
	partition_key    INTEGER,
	sk               INTEGER,
	effective_from   TEXT,
	effective_to     TEXT,
	is_current       INTEGER NOT NULL DEFAULT 0,
	deletion_flag    INTEGER NOT NULL DEFAULT 0,
	attrs            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	contract     TEXT NOT NULL,
	target_table TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	stats        TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	error      TEXT,
	duration   INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lake_rows_table ON lake_rows(table_name);
CREATE INDEX IF NOT EXISTS idx_lake_rows_table_current ON lake_rows(table_name, is_current);
CREATE INDEX IF NOT EXISTS idx_lake_rows_table_nk ON lake_rows(table_name, natural_key_hash);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_contract ON runs(contract);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) TableExists(ctx context.Context, table string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM lake_tables WHERE name = ?`, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: table exists %s", table)
	}
	return true, nil
}

func (s *SQLiteStore) CreateTable(ctx context.Context, table string, rows []model.HistorizedRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create table")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO lake_tables (name, kind) VALUES (?, 'historized')`, table,
	); err != nil {
		return eris.Wrapf(err, "sqlite: register table %s", table)
	}
	if err := insertHistorizedTx(ctx, tx, table, rows); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit create table %s", table)
}

func (s *SQLiteStore) ReadActive(ctx context.Context, table string) ([]model.HistorizedRow, error) {
	return s.readHistorized(ctx, table, true)
}

func (s *SQLiteStore) ReadAll(ctx context.Context, table string) ([]model.HistorizedRow, error) {
	return s.readHistorized(ctx, table, false)
}

func (s *SQLiteStore) readHistorized(ctx context.Context, table string, activeOnly bool) ([]model.HistorizedRow, error) {
	query := `SELECT natural_key_hash, change_key_hash, partition_key, COALESCE(sk, 0),
		effective_from, effective_to, is_current, deletion_flag, attrs
		FROM lake_rows WHERE table_name = ?`
	if activeOnly {
		query += ` AND is_current = 1`
	}

	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read %s", table)
	}
	defer rows.Close()

	var out []model.HistorizedRow
	for rows.Next() {
		var (
			hr       model.HistorizedRow
			from, to string
			attrs    string
		)
		if err := rows.Scan(&hr.NaturalKeyHash, &hr.ChangeKeyHash, &hr.PartitionKey, &hr.SurrogateKey,
			&from, &to, &hr.IsCurrent, &hr.DeletionFlag, &attrs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan row from %s", table)
		}
		if hr.EffectiveFrom, err = decodeDate(from); err != nil {
			return nil, err
		}
		if hr.EffectiveTo, err = decodeDate(to); err != nil {
			return nil, err
		}
		if hr.Attributes, err = decodeAttrs(attrs); err != nil {
			return nil, err
		}
		out = append(out, hr)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", table)
}

func (s *SQLiteStore) ApplyMerge(ctx context.Context, table string, ms *model.MutationSet) error {
	if ms.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO lake_tables (name, kind) VALUES (?, 'historized')`, table,
	); err != nil {
		return eris.Wrapf(err, "sqlite: register table %s", table)
	}

	// Close superseded rows in bounded chunks to stay under the SQLite
	// bind-variable limit.
	for _, chunk := range chunkStrings(ms.CloseKeys, 500) {
		args := make([]any, 0, len(chunk)+2)
		args = append(args, encodeDate(ms.CloseDate), table)
		placeholders := ""
		for i, key := range chunk {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, key)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE lake_rows SET is_current = 0, effective_to = ?
			 WHERE table_name = ? AND is_current = 1 AND natural_key_hash IN (`+placeholders+`)`,
			args...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: close rows in %s", table)
		}
	}

	if err := insertHistorizedTx(ctx, tx, table, ms.Inserts); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit merge to %s", table)
}

func insertHistorizedTx(ctx context.Context, tx *sql.Tx, table string, rows []model.HistorizedRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lake_rows (id, table_name, natural_key_hash, change_key_hash, partition_key,
			sk, effective_from, effective_to, is_current, deletion_flag, attrs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for _, hr := range rows {
		attrs, err := encodeAttrs(hr.Attributes)
		if err != nil {
			return err
		}
		var sk any
		if hr.SurrogateKey > 0 {
			sk = hr.SurrogateKey
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), table, hr.NaturalKeyHash, hr.ChangeKeyHash, hr.PartitionKey,
			sk, encodeDate(hr.EffectiveFrom), encodeDate(hr.EffectiveTo), hr.IsCurrent, hr.DeletionFlag, attrs,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert row into %s", table)
		}
	}
	return nil
}

// AllocateSurrogateKeys reserves n consecutive keys. SQLite has no shared
// sequence object; MAX(sk)+1 is collision-free because merges against one
// table are serialized by the caller.
func (s *SQLiteStore) AllocateSurrogateKeys(ctx context.Context, table string, n int) (int64, error) {
	if n <= 0 {
		return 0, eris.New("sqlite: surrogate key count must be positive")
	}
	maxSK, err := s.MaxSurrogateKey(ctx, table)
	if err != nil {
		return 0, err
	}
	return maxSK + 1, nil
}

func (s *SQLiteStore) MaxSurrogateKey(ctx context.Context, table string) (int64, error) {
	var maxSK int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sk), 0) FROM lake_rows WHERE table_name = ?`, table,
	).Scan(&maxSK)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: max surrogate key %s", table)
	}
	return maxSK, nil
}

func (s *SQLiteStore) AppendRows(ctx context.Context, table string, rows []model.Row) error {
	return s.writePlain(ctx, table, rows, false)
}

func (s *SQLiteStore) ReplaceRows(ctx context.Context, table string, rows []model.Row) error {
	return s.writePlain(ctx, table, rows, true)
}

func (s *SQLiteStore) writePlain(ctx context.Context, table string, rows []model.Row, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin write")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO lake_tables (name, kind) VALUES (?, 'plain')`, table,
	); err != nil {
		return eris.Wrapf(err, "sqlite: register table %s", table)
	}
	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM lake_rows WHERE table_name = ?`, table); err != nil {
			return eris.Wrapf(err, "sqlite: clear table %s", table)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lake_rows (id, table_name, is_current, deletion_flag, attrs) VALUES (?, ?, 0, 0, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare plain insert")
	}
	defer stmt.Close()

	for _, row := range rows {
		attrs, err := encodeAttrs(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), table, attrs); err != nil {
			return eris.Wrapf(err, "sqlite: insert into %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit write to %s", table)
}

func (s *SQLiteStore) ReadRows(ctx context.Context, table string) ([]model.Row, error) {
	return s.readAttrs(ctx, `SELECT attrs FROM lake_rows WHERE table_name = ?`, table)
}

func (s *SQLiteStore) CurrentView(ctx context.Context, table string) ([]model.Row, error) {
	return s.readAttrs(ctx,
		`SELECT attrs FROM lake_rows WHERE table_name = ? AND is_current = 1 AND deletion_flag = 0`,
		table,
	)
}

func (s *SQLiteStore) readAttrs(ctx context.Context, query, table string) ([]model.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: read %s", table)
	}
	defer rows.Close()

	var out []model.Row
	for rows.Next() {
		var attrs string
		if err := rows.Scan(&attrs); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", table)
		}
		row, err := decodeAttrs(attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", table)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, contractName, table, strategy string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, contract, target_table, strategy, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, contractName, table, strategy, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:          id,
		Contract:    contractName,
		TargetTable: table,
		Strategy:    strategy,
		Status:      model.RunStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats *model.PipelineStats, runErr string) error {
	status := model.RunStatusComplete
	if runErr != "" {
		status = model.RunStatusFailed
	}

	var statsJSON any
	if stats != nil {
		raw, err := json.Marshal(stats)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal stats")
		}
		statsJSON = string(raw)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stats = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), statsJSON, nullString(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contract, target_table, strategy, status, stats, error, created_at, updated_at
		 FROM runs WHERE id = ?`, runID,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: run %s not found", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, contract, target_table, strategy, status, stats, error, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Contract != "" {
		query += ` AND contract = ?`
		args = append(args, filter.Contract)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert phase")
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, error = ?, duration = ? WHERE id = ?`,
		string(result.Status), nullString(result.Error), result.Duration, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*model.Run, error) {
	var (
		run         model.Run
		stats, rerr sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Contract, &run.TargetTable, &run.Strategy, &run.Status,
		&stats, &rerr, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if stats.Valid && stats.String != "" {
		var ps model.PipelineStats
		if err := json.Unmarshal([]byte(stats.String), &ps); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run stats")
		}
		run.Stats = &ps
	}
	run.Error = rerr.String
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("store: %s %s not found", kind, id)
	}
	return nil
}

func chunkStrings(in []string, size int) [][]string {
	if len(in) == 0 {
		return nil
	}
	var out [][]string
	for size < len(in) {
		out = append(out, in[:size])
		in = in[size:]
	}
	return append(out, in)
}
