package writer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/merge"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// overwriteWriter replaces the target table with the batch. Use case: full
// refresh of reference data.
type overwriteWriter struct {
	store store.TableStore
	table string
}

func newOverwrite(c *contract.Contract, st store.TableStore, _ time.Time) Writer {
	return &overwriteWriter{store: st, table: c.TargetTable()}
}

func (w *overwriteWriter) Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error) {
	if err := w.store.ReplaceRows(ctx, w.table, batch.Rows()); err != nil {
		return nil, eris.Wrapf(err, "writer: overwrite %s", w.table)
	}

	zap.L().Info("writer: overwrite complete",
		zap.String("table", w.table),
		zap.Int("rows", batch.Len()),
	)
	return &model.MergeStats{
		Strategy:        string(contract.StrategyOverwrite),
		TargetTable:     w.table,
		RecordsInserted: batch.Len(),
		ProcessDate:     merge.Today(),
	}, nil
}
