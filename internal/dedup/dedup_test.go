package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/model"
)

func testBatch(rows ...model.Row) *model.Batch {
	b := model.NewBatch([]string{"id", "name"})
	for _, r := range rows {
		b.Append(r)
	}
	return b
}

func TestDeduplicate_KeepsFirstOccurrence(t *testing.T) {
	b := testBatch(
		model.Row{"id": "1", "name": "alice"},
		model.Row{"id": "2", "name": "bob"},
		model.Row{"id": "1", "name": "alice v2"},
	)

	dropped, err := Deduplicate(b, []string{"id"})
	require.NoError(t, err)

	assert.Equal(t, 1, dropped)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, "alice", b.Rows()[0]["name"])
	assert.Equal(t, "bob", b.Rows()[1]["name"])
}

func TestDeduplicate_NoDuplicates(t *testing.T) {
	b := testBatch(
		model.Row{"id": "1", "name": "alice"},
		model.Row{"id": "2", "name": "bob"},
	)

	dropped, err := Deduplicate(b, []string{"id"})
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, 2, b.Len())
}

func TestDeduplicate_CompositeKey(t *testing.T) {
	b := testBatch(
		model.Row{"id": "1", "name": "alice"},
		model.Row{"id": "1", "name": "bob"},
	)

	dropped, err := Deduplicate(b, []string{"id", "name"})
	require.NoError(t, err)
	assert.Zero(t, dropped, "different composite keys are not duplicates")
}

func TestDeduplicate_NullVsEmptyKey(t *testing.T) {
	b := testBatch(
		model.Row{"id": nil, "name": "a"},
		model.Row{"id": "", "name": "b"},
	)

	dropped, err := Deduplicate(b, []string{"id"})
	require.NoError(t, err)
	assert.Zero(t, dropped, "NULL key and empty-string key are distinct")
}

func TestDeduplicate_NoKeyColumns(t *testing.T) {
	b := testBatch(model.Row{"id": "1"}, model.Row{"id": "1"})

	dropped, err := Deduplicate(b, nil)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, 2, b.Len())
}
