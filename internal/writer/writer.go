// Package writer implements the six write strategies a contract can select.
// The three historizing strategies share the merge engine; append, overwrite
// and file_export are thin wrappers over the store and exporters.
package writer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// Writer persists one prepared batch according to its strategy.
type Writer interface {
	Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error)
}

// factory builds a strategy writer for a contract.
type factory func(c *contract.Contract, st store.TableStore, processDate time.Time) Writer

// factories is the closed registry of write strategies; contract validation
// guarantees the strategy name is known before a pipeline is built.
var factories = map[contract.WriteStrategy]factory{
	contract.StrategyAppend:     newAppend,
	contract.StrategyOverwrite:  newOverwrite,
	contract.StrategyT2CL:       newT2CL,
	contract.StrategySCD2:       newSCD2,
	contract.StrategySCD4:       newSCD4,
	contract.StrategyFileExport: newFileExport,
}

// New builds the writer the contract selects. processDate zero means today.
func New(c *contract.Contract, st store.TableStore, processDate time.Time) (Writer, error) {
	f, ok := factories[c.Write.Strategy]
	if !ok {
		return nil, eris.Errorf("writer: unknown strategy %q", c.Write.Strategy)
	}
	return f(c, st, processDate), nil
}
