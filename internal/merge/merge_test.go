package merge

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

func newTestStore(t *testing.T) store.TableStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func keyedRow(nk, ck, name string) model.Row {
	return model.Row{
		"id":                    nk,
		"name":                  name,
		model.ColNaturalKeyHash: nk,
		model.ColChangeKeyHash:  ck,
		model.ColPartitionKey:   int64(7),
	}
}

func keyedBatch(rows ...model.Row) *model.Batch {
	b := model.NewBatch([]string{"id", "name", model.ColNaturalKeyHash, model.ColChangeKeyHash, model.ColPartitionKey})
	for _, r := range rows {
		b.Append(r)
	}
	return b
}

// assertTemporalInvariants checks, per entity: exactly one current row, the
// current row is open-ended, and [effective_from, effective_to) intervals do
// not overlap.
func assertTemporalInvariants(t *testing.T, rows []model.HistorizedRow) {
	t.Helper()

	byKey := make(map[string][]model.HistorizedRow)
	for _, hr := range rows {
		byKey[hr.NaturalKeyHash] = append(byKey[hr.NaturalKeyHash], hr)
	}

	for nk, history := range byKey {
		current := 0
		for _, hr := range history {
			if hr.IsCurrent {
				current++
				assert.Equal(t, model.OpenEndedDate, hr.EffectiveTo, "current row of %s must be open-ended", nk)
			}
		}
		assert.Equal(t, 1, current, "entity %s must have exactly one current row", nk)

		sort.Slice(history, func(i, j int) bool {
			return history[i].EffectiveFrom.Before(history[j].EffectiveFrom)
		})
		for i := 1; i < len(history); i++ {
			assert.False(t, history[i].EffectiveFrom.Before(history[i-1].EffectiveTo),
				"entity %s has overlapping intervals", nk)
		}
	}
}

func TestMerge_FirstLoad(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	eng := NewEngine(st, Options{ProcessDate: day(1)})

	stats, err := eng.Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	))
	require.NoError(t, err)

	assert.True(t, stats.FirstLoad)
	assert.Equal(t, 2, stats.NewRecords)
	assert.Equal(t, 2, stats.RecordsInserted)
	assert.Equal(t, 0, stats.ChangedRecords)
	assert.Equal(t, day(1), stats.ProcessDate)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assertTemporalInvariants(t, rows)
	for _, hr := range rows {
		assert.Equal(t, day(1), hr.EffectiveFrom)
		assert.False(t, hr.DeletionFlag)
		assert.Equal(t, int64(7), hr.PartitionKey)
	}
}

func TestMerge_UnchangedIsNoOp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	)
	_, err := NewEngine(st, Options{ProcessDate: day(1)}).Merge(ctx, "dwh.customers", batch)
	require.NoError(t, err)

	stats, err := NewEngine(st, Options{ProcessDate: day(2)}).Merge(ctx, "dwh.customers", batch)
	require.NoError(t, err)

	assert.False(t, stats.FirstLoad)
	assert.Zero(t, stats.NewRecords)
	assert.Zero(t, stats.ChangedRecords)
	assert.Zero(t, stats.SoftDeleted)
	assert.Zero(t, stats.RecordsInserted)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	assert.Len(t, rows, 2, "no-op pass must write zero rows")
}

func TestMerge_ChangedRowVersions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewEngine(st, Options{ProcessDate: day(1)}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	))
	require.NoError(t, err)

	stats, err := NewEngine(st, Options{ProcessDate: day(5)}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a2", "alice v2"),
		keyedRow("nk-b", "ck-b1", "bob"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ChangedRecords)
	assert.Zero(t, stats.NewRecords)
	assert.Equal(t, 1, stats.RecordsInserted)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assertTemporalInvariants(t, rows)

	for _, hr := range rows {
		if hr.NaturalKeyHash != "nk-a" {
			continue
		}
		if hr.IsCurrent {
			assert.Equal(t, "ck-a2", hr.ChangeKeyHash)
			assert.Equal(t, day(5), hr.EffectiveFrom)
			assert.Equal(t, "alice v2", hr.Attributes["name"])
		} else {
			assert.Equal(t, "ck-a1", hr.ChangeKeyHash)
			assert.Equal(t, day(5), hr.EffectiveTo, "superseded row closes at the process date")
		}
	}
}

func TestMerge_SoftDeleteTombstone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewEngine(st, Options{ProcessDate: day(1), SoftDelete: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	))
	require.NoError(t, err)

	stats, err := NewEngine(st, Options{ProcessDate: day(3), SoftDelete: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SoftDeleted)
	assert.Equal(t, 1, stats.RecordsInserted)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assertTemporalInvariants(t, rows)

	var tombstone *model.HistorizedRow
	for i, hr := range rows {
		if hr.NaturalKeyHash == "nk-b" && hr.IsCurrent {
			tombstone = &rows[i]
		}
	}
	require.NotNil(t, tombstone)
	assert.True(t, tombstone.DeletionFlag)
	assert.Equal(t, day(3), tombstone.EffectiveFrom)
	assert.Equal(t, "bob", tombstone.Attributes["name"], "tombstone carries attributes forward")
}

func TestMerge_SoftDeleteIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewEngine(st, Options{ProcessDate: day(1), SoftDelete: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	))
	require.NoError(t, err)

	shrunk := keyedBatch(keyedRow("nk-a", "ck-a1", "alice"))
	_, err = NewEngine(st, Options{ProcessDate: day(3), SoftDelete: true}).Merge(ctx, "dwh.customers", shrunk)
	require.NoError(t, err)

	// Re-running the identical pass must not produce a second tombstone.
	stats, err := NewEngine(st, Options{ProcessDate: day(3), SoftDelete: true}).Merge(ctx, "dwh.customers", shrunk)
	require.NoError(t, err)
	assert.Zero(t, stats.SoftDeleted)
	assert.Zero(t, stats.RecordsInserted)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assertTemporalInvariants(t, rows)
}

func TestMerge_RevivedEntity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewEngine(st, Options{ProcessDate: day(1), SoftDelete: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	))
	require.NoError(t, err)

	_, err = NewEngine(st, Options{ProcessDate: day(3), SoftDelete: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
	))
	require.NoError(t, err)

	stats, err := NewEngine(st, Options{ProcessDate: day(7), SoftDelete: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob is back"),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewRecords, "revival counts as a new record")
	assert.Equal(t, 1, stats.RecordsInserted)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assertTemporalInvariants(t, rows)

	for _, hr := range rows {
		if hr.NaturalKeyHash == "nk-b" && hr.IsCurrent {
			assert.False(t, hr.DeletionFlag, "revived row is not a tombstone")
			assert.Equal(t, day(7), hr.EffectiveFrom)
			assert.Equal(t, "bob is back", hr.Attributes["name"])
		}
	}
}

func TestMerge_DuplicateKeysFail(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	eng := NewEngine(st, Options{ProcessDate: day(1)})

	_, err := eng.Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-a", "ck-a2", "alice again"),
	))
	require.ErrorIs(t, err, ErrDuplicateNaturalKeys)

	// Precondition failures must leave the table untouched.
	exists, err := st.TableExists(ctx, "dwh.customers")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMerge_DuplicateKeysKeepPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   contract.DuplicatePolicy
		wantName string
	}{
		{"keep_first", contract.DuplicateKeepFirst, "first"},
		{"keep_last", contract.DuplicateKeepLast, "last"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			ctx := context.Background()
			eng := NewEngine(st, Options{ProcessDate: day(1), DuplicatePolicy: tt.policy})

			stats, err := eng.Merge(ctx, "dwh.customers", keyedBatch(
				keyedRow("nk-a", "ck-a1", "first"),
				keyedRow("nk-a", "ck-a2", "last"),
			))
			require.NoError(t, err)
			assert.Equal(t, 1, stats.RecordsInserted)

			rows, err := st.ReadAll(ctx, "dwh.customers")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, tt.wantName, rows[0].Attributes["name"])
		})
	}
}

func TestMerge_MissingHashColumns(t *testing.T) {
	st := newTestStore(t)
	eng := NewEngine(st, Options{ProcessDate: day(1)})

	b := model.NewBatch([]string{"id", "name"})
	b.Append(model.Row{"id": "1", "name": "alice"})

	_, err := eng.Merge(context.Background(), "dwh.customers", b)
	require.ErrorIs(t, err, ErrMissingHashColumns)
}

func TestMerge_SurrogateKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stats, err := NewEngine(st, Options{ProcessDate: day(1), AllocateSurrogates: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
		keyedRow("nk-c", "ck-c1", "carol"),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.MaxSurrogateKey)

	stats, err = NewEngine(st, Options{ProcessDate: day(2), AllocateSurrogates: true}).Merge(ctx, "dwh.customers", keyedBatch(
		keyedRow("nk-a", "ck-a2", "alice v2"),
		keyedRow("nk-b", "ck-b1", "bob"),
		keyedRow("nk-c", "ck-c1", "carol"),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.MaxSurrogateKey)

	rows, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	seen := make(map[int64]bool)
	for _, hr := range rows {
		require.Greater(t, hr.SurrogateKey, int64(0))
		assert.False(t, seen[hr.SurrogateKey], "surrogate key %d reused", hr.SurrogateKey)
		seen[hr.SurrogateKey] = true
	}
}

func TestMerge_SurrogateKeysNoInsertsKeepsMax(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := keyedBatch(keyedRow("nk-a", "ck-a1", "alice"))
	_, err := NewEngine(st, Options{ProcessDate: day(1), AllocateSurrogates: true}).Merge(ctx, "dwh.customers", batch)
	require.NoError(t, err)

	stats, err := NewEngine(st, Options{ProcessDate: day(2), AllocateSurrogates: true}).Merge(ctx, "dwh.customers", batch)
	require.NoError(t, err)
	assert.Zero(t, stats.RecordsInserted)
	assert.Equal(t, int64(1), stats.MaxSurrogateKey, "no-op pass still reports the table max")
}

func TestMerge_ProcessDateDefaultsToToday(t *testing.T) {
	eng := NewEngine(newTestStore(t), Options{})
	assert.Equal(t, Today(), eng.opts.ProcessDate)

	eng = NewEngine(newTestStore(t), Options{ProcessDate: time.Date(2026, 3, 5, 14, 30, 12, 0, time.UTC)})
	assert.Equal(t, day(5), eng.opts.ProcessDate, "process date is truncated to a calendar date")
}

func TestCurrentProjector_Rebuild(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewEngine(st, Options{ProcessDate: day(1), SoftDelete: true, AllocateSurrogates: true}).
		Merge(ctx, "dwh.customers_history", keyedBatch(
			keyedRow("nk-a", "ck-a1", "alice"),
			keyedRow("nk-b", "ck-b1", "bob"),
		))
	require.NoError(t, err)

	// Drop nk-b so the history holds a tombstone.
	_, err = NewEngine(st, Options{ProcessDate: day(2), SoftDelete: true, AllocateSurrogates: true}).
		Merge(ctx, "dwh.customers_history", keyedBatch(
			keyedRow("nk-a", "ck-a1", "alice"),
		))
	require.NoError(t, err)

	count, err := NewCurrentProjector(st).Rebuild(ctx, "dwh.customers_history", "dwh.customers_current")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "tombstoned entities are excluded from the current table")

	rows, err := st.ReadRows(ctx, "dwh.customers_current")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
	assert.Equal(t, "nk-a", rows[0][model.ColNaturalKeyHash])
	assert.NotNil(t, rows[0][model.ColSurrogateKey])
	assert.Nil(t, rows[0][model.ColEffectiveFrom], "temporal columns are stripped")
}

func TestResolveDuplicates_NoDuplicatesPassthrough(t *testing.T) {
	rows := []model.Row{
		keyedRow("nk-a", "ck-a1", "alice"),
		keyedRow("nk-b", "ck-b1", "bob"),
	}
	out, err := resolveDuplicates(rows, model.ColNaturalKeyHash, contract.DuplicateFail)
	require.NoError(t, err)
	assert.Equal(t, rows, out)
}
