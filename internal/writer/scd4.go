package writer

import (
	"context"
	"time"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/merge"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// scd4Writer maintains a current + historical table pair: the historical
// table is merged with surrogate keys, then the current table is fully
// rebuilt from the historical table's current slice. The historical merge
// must commit before the rebuild starts; a rebuild failure leaves the
// committed history standing and is surfaced as *merge.CurrentRebuildError.
type scd4Writer struct {
	engine    *merge.Engine
	projector *merge.CurrentProjector
	histTable string
	currTable string
}

func newSCD4(c *contract.Contract, st store.TableStore, processDate time.Time) Writer {
	return &scd4Writer{
		engine:    merge.NewEngine(st, mergeOptions(c, processDate, true)),
		projector: merge.NewCurrentProjector(st),
		histTable: c.HistoricalTable(),
		currTable: c.CurrentTable(),
	}
}

func (w *scd4Writer) Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error) {
	histStats, err := w.engine.Merge(ctx, w.histTable, batch)
	if err != nil {
		return nil, err
	}
	histStats.Strategy = string(contract.StrategySCD2)

	currentRows, err := w.projector.Rebuild(ctx, w.histTable, w.currTable)
	if err != nil {
		return nil, &merge.CurrentRebuildError{
			CurrentTable: w.currTable,
			Historical:   histStats,
			Err:          err,
		}
	}

	return &model.MergeStats{
		Strategy:        string(contract.StrategySCD4),
		TargetTable:     w.histTable,
		CurrentTable:    w.currTable,
		CurrentRows:     currentRows,
		FirstLoad:       histStats.FirstLoad,
		NewRecords:      histStats.NewRecords,
		ChangedRecords:  histStats.ChangedRecords,
		SoftDeleted:     histStats.SoftDeleted,
		RecordsInserted: histStats.RecordsInserted,
		ProcessDate:     histStats.ProcessDate,
		HistoricalStats: histStats,
	}, nil
}
