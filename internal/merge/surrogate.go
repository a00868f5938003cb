package merge

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/model"
)

// KeyAllocator reserves blocks of surrogate keys. The store backends satisfy
// it; the generator must be monotonic and collision-free for the backend's
// concurrency model.
type KeyAllocator interface {
	AllocateSurrogateKeys(ctx context.Context, table string, n int) (int64, error)
}

// assignSurrogateKeys stamps a consecutive key block onto every insert of
// the pass. An allocation failure fails the whole merge before any mutation
// is issued; non-unique keys are never an acceptable fallback.
func assignSurrogateKeys(ctx context.Context, alloc KeyAllocator, table string, inserts []model.HistorizedRow) (int64, error) {
	if len(inserts) == 0 {
		return 0, nil
	}

	first, err := alloc.AllocateSurrogateKeys(ctx, table, len(inserts))
	if err != nil {
		return 0, eris.Wrapf(err, "merge: surrogate key allocation for %s", table)
	}

	for i := range inserts {
		inserts[i].SurrogateKey = first + int64(i)
	}
	return first + int64(len(inserts)) - 1, nil
}
