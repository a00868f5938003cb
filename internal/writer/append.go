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

// appendWriter appends the batch to the target table without historization.
// Use case: immutable event/fact data.
type appendWriter struct {
	store store.TableStore
	table string
}

func newAppend(c *contract.Contract, st store.TableStore, _ time.Time) Writer {
	return &appendWriter{store: st, table: c.TargetTable()}
}

func (w *appendWriter) Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error) {
	if err := w.store.AppendRows(ctx, w.table, batch.Rows()); err != nil {
		return nil, eris.Wrapf(err, "writer: append to %s", w.table)
	}

	zap.L().Info("writer: append complete",
		zap.String("table", w.table),
		zap.Int("rows", batch.Len()),
	)
	return &model.MergeStats{
		Strategy:        string(contract.StrategyAppend),
		TargetTable:     w.table,
		RecordsInserted: batch.Len(),
		ProcessDate:     merge.Today(),
	}, nil
}
