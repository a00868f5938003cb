package merge

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// CurrentProjector rebuilds an SCD4 current table from the current slice of
// its historical table. The rebuild is a full replace, never incremental:
// write volume is traded for query simplicity on the read side.
type CurrentProjector struct {
	store store.TableStore
}

// NewCurrentProjector creates a projector over the given store.
func NewCurrentProjector(st store.TableStore) *CurrentProjector {
	return &CurrentProjector{store: st}
}

// Rebuild replaces currentTable with the is_current AND NOT deletion_flag
// slice of historicalTable, temporal and tombstone columns stripped. The
// natural-key, change-key, partition and surrogate-key columns are kept for
// downstream joins. Returns the row count of the rebuilt table.
func (p *CurrentProjector) Rebuild(ctx context.Context, historicalTable, currentTable string) (int, error) {
	active, err := p.store.ReadActive(ctx, historicalTable)
	if err != nil {
		return 0, eris.Wrapf(err, "merge: read current slice of %s", historicalTable)
	}

	rows := make([]model.Row, 0, len(active))
	for _, hr := range active {
		if hr.DeletionFlag {
			continue
		}
		row := hr.Attributes.Clone()
		row[model.ColNaturalKeyHash] = hr.NaturalKeyHash
		row[model.ColChangeKeyHash] = hr.ChangeKeyHash
		row[model.ColPartitionKey] = hr.PartitionKey
		if hr.SurrogateKey > 0 {
			row[model.ColSurrogateKey] = hr.SurrogateKey
		}
		rows = append(rows, row)
	}

	if err := p.store.ReplaceRows(ctx, currentTable, rows); err != nil {
		return 0, eris.Wrapf(err, "merge: rebuild %s", currentTable)
	}

	zap.L().Info("merge: current table rebuilt",
		zap.String("current_table", currentTable),
		zap.String("historical_table", historicalTable),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}
