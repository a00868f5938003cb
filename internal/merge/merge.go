// Package merge implements the temporal change-tracking merge engine shared
// by the type_2_change_log, scd2 and scd4 write strategies. The engine is
// single-pass: it compares an incoming hashed batch against the currently
// active rows of a historized table, decides the exact set of close and
// insert mutations, and hands them to the table store for one atomic commit.
package merge

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// Options configure one merge engine instance.
type Options struct {
	NaturalKeyCol      string
	ChangeKeyCol       string
	PartitionCol       string
	ProcessDate        time.Time // zero value means today
	SoftDelete         bool
	DuplicatePolicy    contract.DuplicatePolicy
	AllocateSurrogates bool
}

// Engine runs merge passes against historized tables. Callers must serialize
// merges per table; the engine provides no cross-process mutual exclusion.
type Engine struct {
	store store.TableStore
	opts  Options
}

// NewEngine creates a merge engine, applying column-name and process-date
// defaults.
func NewEngine(st store.TableStore, opts Options) *Engine {
	if opts.NaturalKeyCol == "" {
		opts.NaturalKeyCol = model.ColNaturalKeyHash
	}
	if opts.ChangeKeyCol == "" {
		opts.ChangeKeyCol = model.ColChangeKeyHash
	}
	if opts.PartitionCol == "" {
		opts.PartitionCol = model.ColPartitionKey
	}
	if opts.ProcessDate.IsZero() {
		opts.ProcessDate = Today()
	} else {
		opts.ProcessDate = truncateToDate(opts.ProcessDate)
	}
	if opts.DuplicatePolicy == "" {
		opts.DuplicatePolicy = contract.DuplicateFail
	}
	return &Engine{store: st, opts: opts}
}

// Today returns the current UTC calendar date.
func Today() time.Time {
	return truncateToDate(time.Now().UTC())
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Merge runs one pass against the target table and returns its statistics.
// Preconditions are checked before any store mutation; a failure after that
// point leaves the table untouched because the store commit is atomic.
func (e *Engine) Merge(ctx context.Context, table string, batch *model.Batch) (*model.MergeStats, error) {
	log := zap.L().With(zap.String("table", table), zap.Time("process_date", e.opts.ProcessDate))

	if err := e.checkPreconditions(batch); err != nil {
		return nil, err
	}

	rows, err := resolveDuplicates(batch.Rows(), e.opts.NaturalKeyCol, e.opts.DuplicatePolicy)
	if err != nil {
		return nil, eris.Wrapf(err, "merge: %s", table)
	}

	exists, err := e.store.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}

	var active []model.HistorizedRow
	if exists {
		if active, err = e.store.ReadActive(ctx, table); err != nil {
			return nil, err
		}
	}

	stats := &model.MergeStats{
		TargetTable: table,
		ProcessDate: e.opts.ProcessDate,
	}
	dater := &effectiveDater{
		naturalKeyCol: e.opts.NaturalKeyCol,
		changeKeyCol:  e.opts.ChangeKeyCol,
		partitionCol:  e.opts.PartitionCol,
		processDate:   e.opts.ProcessDate,
	}

	// First-ever load: every incoming row is NEW, skip the join entirely.
	if len(active) == 0 {
		return e.firstLoad(ctx, log, table, rows, dater, stats, exists)
	}

	activeByKey := make(map[string]model.HistorizedRow, len(active))
	for _, hr := range active {
		activeByKey[hr.NaturalKeyHash] = hr
	}

	cls, err := classify(activeByKey, rows, e.opts.NaturalKeyCol, e.opts.ChangeKeyCol)
	if err != nil {
		return nil, err
	}

	ms, err := dater.mutations(cls)
	if err != nil {
		return nil, err
	}

	deleted := 0
	if e.opts.SoftDelete {
		deleted = detectSoftDeletes(activeByKey, rows, e.opts.NaturalKeyCol, ms)
	}

	if e.opts.AllocateSurrogates {
		maxSK, err := assignSurrogateKeys(ctx, e.store, table, ms.Inserts)
		if err != nil {
			return nil, err
		}
		if maxSK == 0 {
			if maxSK, err = e.store.MaxSurrogateKey(ctx, table); err != nil {
				return nil, err
			}
		}
		stats.MaxSurrogateKey = maxSK
	}

	log.Info("merge: pass classified",
		zap.Int("new", len(cls.newRows)),
		zap.Int("changed", len(cls.changedRows)),
		zap.Int("revived", len(cls.revivedRows)),
		zap.Int("unchanged", cls.unchanged),
		zap.Int("soft_deleted", deleted),
	)

	if !ms.Empty() {
		if err := e.store.ApplyMerge(ctx, table, ms); err != nil {
			return nil, eris.Wrapf(err, "merge: commit to %s", table)
		}
	}

	stats.NewRecords = len(cls.newRows) + len(cls.revivedRows)
	stats.ChangedRecords = len(cls.changedRows)
	stats.SoftDeleted = deleted
	stats.RecordsInserted = len(ms.Inserts)

	log.Info("merge: pass complete",
		zap.Int("records_inserted", stats.RecordsInserted),
		zap.Int("rows_closed", len(ms.CloseKeys)),
	)
	return stats, nil
}

// firstLoad writes the whole prepared batch as the initial table state.
func (e *Engine) firstLoad(ctx context.Context, log *zap.Logger, table string, rows []model.Row, dater *effectiveDater, stats *model.MergeStats, exists bool) (*model.MergeStats, error) {
	inserts := make([]model.HistorizedRow, 0, len(rows))
	for _, row := range rows {
		hr, err := dater.openRow(row)
		if err != nil {
			return nil, err
		}
		inserts = append(inserts, hr)
	}

	if e.opts.AllocateSurrogates {
		maxSK, err := assignSurrogateKeys(ctx, e.store, table, inserts)
		if err != nil {
			return nil, err
		}
		stats.MaxSurrogateKey = maxSK
	}

	if !exists {
		if err := e.store.CreateTable(ctx, table, inserts); err != nil {
			return nil, eris.Wrapf(err, "merge: first load of %s", table)
		}
	} else {
		// Registered but empty table: same degenerate case, append-only.
		ms := &model.MutationSet{CloseDate: e.opts.ProcessDate, Inserts: inserts}
		if err := e.store.ApplyMerge(ctx, table, ms); err != nil {
			return nil, eris.Wrapf(err, "merge: first load of %s", table)
		}
	}

	stats.FirstLoad = true
	stats.NewRecords = len(inserts)
	stats.RecordsInserted = len(inserts)

	log.Info("merge: first load complete", zap.Int("records_inserted", len(inserts)))
	return stats, nil
}

// checkPreconditions verifies the hashing stage ran: all three hash columns
// must be declared on the batch.
func (e *Engine) checkPreconditions(batch *model.Batch) error {
	for _, col := range []string{e.opts.NaturalKeyCol, e.opts.ChangeKeyCol, e.opts.PartitionCol} {
		if !batch.HasColumn(col) {
			return eris.Wrapf(ErrMissingHashColumns, "column %s", col)
		}
	}
	return nil
}
