package writer

import (
	"context"
	"time"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/merge"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// scd2Writer extends the T2CL merge with surrogate key generation: every
// inserted row version gets the next key from the store's monotonic
// generator.
type scd2Writer struct {
	engine *merge.Engine
	table  string
}

func newSCD2(c *contract.Contract, st store.TableStore, processDate time.Time) Writer {
	return &scd2Writer{
		engine: merge.NewEngine(st, mergeOptions(c, processDate, true)),
		table:  c.TargetTable(),
	}
}

func (w *scd2Writer) Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error) {
	stats, err := w.engine.Merge(ctx, w.table, batch)
	if err != nil {
		return nil, err
	}
	stats.Strategy = string(contract.StrategySCD2)
	return stats, nil
}
