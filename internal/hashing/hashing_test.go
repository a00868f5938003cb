package hashing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/model"
)

func TestHashColumns_Deterministic(t *testing.T) {
	row := model.Row{"id": "42", "name": "alice", "age": int64(30)}

	h1, err := HashColumns(row, []string{"id", "name", "age"})
	require.NoError(t, err)
	h2, err := HashColumns(row, []string{"id", "name", "age"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex sha256
}

func TestHashColumns_NullEmptyAndMissingDiffer(t *testing.T) {
	null := model.Row{"a": nil, "b": "x"}
	empty := model.Row{"a": "", "b": "x"}
	missing := model.Row{"b": "x"}

	hNull, err := HashColumns(null, []string{"a", "b"})
	require.NoError(t, err)
	hEmpty, err := HashColumns(empty, []string{"a", "b"})
	require.NoError(t, err)
	hMissing, err := HashColumns(missing, []string{"a", "b"})
	require.NoError(t, err)

	assert.NotEqual(t, hNull, hEmpty, "NULL and empty string must hash differently")
	assert.Equal(t, hNull, hMissing, "missing column is NULL")
}

func TestHashColumns_ConcatenationCannotCollide(t *testing.T) {
	// "ab"+"c" vs "a"+"bc" across two columns.
	h1, err := HashColumns(model.Row{"a": "ab", "b": "c"}, []string{"a", "b"})
	require.NoError(t, err)
	h2, err := HashColumns(model.Row{"a": "a", "b": "bc"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	// A value containing the separator byte cannot fake a column boundary.
	h3, err := HashColumns(model.Row{"a": "x\x1fy", "b": "z"}, []string{"a", "b"})
	require.NoError(t, err)
	h4, err := HashColumns(model.Row{"a": "x", "b": "y\x1fz"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, h3, h4)
}

func TestHashColumns_TypeTagsDiffer(t *testing.T) {
	hStr, err := HashColumns(model.Row{"a": "1"}, []string{"a"})
	require.NoError(t, err)
	hInt, err := HashColumns(model.Row{"a": int64(1)}, []string{"a"})
	require.NoError(t, err)
	hBool, err := HashColumns(model.Row{"a": true}, []string{"a"})
	require.NoError(t, err)

	assert.NotEqual(t, hStr, hInt, `"1" and 1 must hash differently`)
	assert.NotEqual(t, hStr, hBool)
	assert.NotEqual(t, hInt, hBool)
}

func TestHashColumns_UnsupportedType(t *testing.T) {
	_, err := HashColumns(model.Row{"a": []string{"x"}}, []string{"a"})
	require.Error(t, err)
}

func TestPartitionKey_BoundedAndStable(t *testing.T) {
	k1 := PartitionKey("some-hash", 100)
	k2 := PartitionKey("some-hash", 100)
	assert.Equal(t, k1, k2)
	assert.GreaterOrEqual(t, k1, int64(0))
	assert.Less(t, k1, int64(100))
}

func TestComputer_Apply(t *testing.T) {
	c := &Computer{
		NaturalKeyColumns: []string{"id"},
		ChangeKeyColumns:  []string{"name", "age"},
		NaturalKeyCol:     model.ColNaturalKeyHash,
		ChangeKeyCol:      model.ColChangeKeyHash,
		PartitionCol:      model.ColPartitionKey,
		PartitionBuckets:  16,
	}

	b := model.NewBatch([]string{"id", "name", "age"})
	b.Append(model.Row{"id": "1", "name": "alice", "age": int64(30)})
	b.Append(model.Row{"id": "2", "name": "bob", "age": nil})

	require.NoError(t, c.Apply(b))

	assert.True(t, b.HasColumn(model.ColNaturalKeyHash))
	assert.True(t, b.HasColumn(model.ColChangeKeyHash))
	assert.True(t, b.HasColumn(model.ColPartitionKey))

	rows := b.Rows()
	assert.NotEqual(t, rows[0][model.ColNaturalKeyHash], rows[1][model.ColNaturalKeyHash])
	for _, row := range rows {
		pk, ok := row[model.ColPartitionKey].(int64)
		require.True(t, ok)
		assert.Less(t, pk, int64(16))
	}
}

func TestComputer_Apply_SameKeyDifferentAttrs(t *testing.T) {
	c := &Computer{
		NaturalKeyColumns: []string{"id"},
		ChangeKeyColumns:  []string{"name"},
		NaturalKeyCol:     model.ColNaturalKeyHash,
		ChangeKeyCol:      model.ColChangeKeyHash,
		PartitionCol:      model.ColPartitionKey,
		PartitionBuckets:  8,
	}

	b := model.NewBatch([]string{"id", "name"})
	b.Append(model.Row{"id": "1", "name": "alice"})
	b.Append(model.Row{"id": "1", "name": "alicia"})
	require.NoError(t, c.Apply(b))

	rows := b.Rows()
	assert.Equal(t, rows[0][model.ColNaturalKeyHash], rows[1][model.ColNaturalKeyHash])
	assert.NotEqual(t, rows[0][model.ColChangeKeyHash], rows[1][model.ColChangeKeyHash])
	assert.Equal(t, rows[0][model.ColPartitionKey], rows[1][model.ColPartitionKey])
}

func TestComputer_Apply_RequiresConfig(t *testing.T) {
	b := model.NewBatch([]string{"id"})
	b.Append(model.Row{"id": "1"})

	c := &Computer{ChangeKeyColumns: []string{"id"}, PartitionBuckets: 4}
	require.Error(t, c.Apply(b), "missing natural key columns")

	c = &Computer{NaturalKeyColumns: []string{"id"}, ChangeKeyColumns: []string{"id"}}
	require.Error(t, c.Apply(b), "missing bucket count")
}

func TestEncodeValue_Time(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	h1, err := HashColumns(model.Row{"a": ts}, []string{"a"})
	require.NoError(t, err)
	h2, err := HashColumns(model.Row{"a": ts.UTC()}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "times hash by UTC instant")
}
