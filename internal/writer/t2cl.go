package writer

import (
	"context"
	"time"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/merge"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// t2clWriter is the Type 2 Change Log strategy: full history of changes with
// effective dates, new row per change, old row closed. The base historizing
// strategy; scd2 adds surrogate keys on top.
type t2clWriter struct {
	engine *merge.Engine
	table  string
}

func newT2CL(c *contract.Contract, st store.TableStore, processDate time.Time) Writer {
	return &t2clWriter{
		engine: merge.NewEngine(st, mergeOptions(c, processDate, false)),
		table:  c.TargetTable(),
	}
}

func (w *t2clWriter) Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error) {
	stats, err := w.engine.Merge(ctx, w.table, batch)
	if err != nil {
		return nil, err
	}
	stats.Strategy = string(contract.StrategyT2CL)
	return stats, nil
}

// mergeOptions maps contract write options onto engine options.
func mergeOptions(c *contract.Contract, processDate time.Time, surrogates bool) merge.Options {
	return merge.Options{
		NaturalKeyCol:      c.Write.NaturalKeyCol,
		ChangeKeyCol:       c.Write.ChangeKeyCol,
		PartitionCol:       c.Write.PartitionCol,
		ProcessDate:        processDate,
		SoftDelete:         c.Write.SoftDelete,
		DuplicatePolicy:    c.Write.DuplicatePolicy,
		AllocateSurrogates: surrogates,
	}
}
