package lineage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/model"
)

func TestStamp(t *testing.T) {
	b := model.NewBatch([]string{"id"})
	b.Append(model.Row{"id": "1"})
	b.Append(model.Row{"id": "2"})

	Stamp(b, "csv:/data/customers.csv", "run-123")

	assert.True(t, b.HasColumn(ColRecordSource))
	assert.True(t, b.HasColumn(ColLoadTS))
	assert.True(t, b.HasColumn(ColRunID))

	for _, row := range b.Rows() {
		assert.Equal(t, "csv:/data/customers.csv", row[ColRecordSource])
		assert.Equal(t, "run-123", row[ColRunID])

		ts, ok := row[ColLoadTS].(time.Time)
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
	}

	rows := b.Rows()
	assert.Equal(t, rows[0][ColLoadTS], rows[1][ColLoadTS], "one timestamp per batch")
}

func TestStamp_EmptyBatch(t *testing.T) {
	b := model.NewBatch([]string{"id"})
	Stamp(b, "salesforce", "run-1")
	assert.Zero(t, b.Len())
	assert.True(t, b.HasColumn(ColRecordSource))
}
