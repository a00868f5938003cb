package lineage

import (
	"time"

	"github.com/sells-group/lakeflow/internal/model"
)

// Columns stamped onto every ingested row.
const (
	ColRecordSource = "_record_source"
	ColLoadTS       = "_load_ts"
	ColRunID        = "_run_id"
)

// Stamp adds lineage columns to every row of the batch.
func Stamp(batch *model.Batch, source, runID string) {
	now := time.Now().UTC()

	batch.AddColumn(ColRecordSource)
	batch.AddColumn(ColLoadTS)
	batch.AddColumn(ColRunID)

	for _, row := range batch.Rows() {
		row[ColRecordSource] = source
		row[ColLoadTS] = now
		row[ColRunID] = runID
	}
}
