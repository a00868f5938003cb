package dedup

import (
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/hashing"
	"github.com/sells-group/lakeflow/internal/model"
)

// Deduplicate removes rows whose key columns repeat within the batch, keeping
// the first occurrence. Returns the number of rows dropped. The merge engine
// still enforces its own no-duplicates precondition; running this first keeps
// that precondition honest for well-formed sources.
func Deduplicate(batch *model.Batch, keyColumns []string) (int, error) {
	if len(keyColumns) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, batch.Len())
	kept := make([]model.Row, 0, batch.Len())
	dropped := 0

	for _, row := range batch.Rows() {
		key, err := hashing.HashColumns(row, keyColumns)
		if err != nil {
			return 0, err
		}
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}

	if dropped > 0 {
		batch.SetRows(kept)
		zap.L().Info("dedup: duplicates removed",
			zap.Int("dropped", dropped),
			zap.Int("remaining", len(kept)),
		)
	}
	return dropped, nil
}
