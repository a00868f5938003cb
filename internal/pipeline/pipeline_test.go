package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/lineage"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/quality"
	"github.com/sells-group/lakeflow/internal/reader"
	"github.com/sells-group/lakeflow/internal/store"
)

const testContractYAML = `
name: customers
schema:
  name: dwh
  table: customers
  properties:
    - name: id
      type: string
      isPrimaryKey: true
    - name: name
      type: string
      isChangeTracking: true
    - name: revenue
      type: number
source:
  type: csv
  path: %s
quality:
  - type: transformation
    rule: trim
    columns: [name]
  - type: validation
    rule: not_null
    columns: [id]
    severity: error
customProperties:
  writeStrategy: scd2
  softDelete: true
`

func newPipelineStore(t *testing.T) store.TableStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func loadTestContract(t *testing.T, csvBody string) *contract.Contract {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "customers.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csvBody), 0o644))

	yamlPath := filepath.Join(dir, "customers.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(fmt.Sprintf(testContractYAML, csvPath)), 0o644))

	c, err := contract.Load(yamlPath, quality.ValidateRuleName)
	require.NoError(t, err)
	return c
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	st := newPipelineStore(t)
	ctx := context.Background()

	c := loadTestContract(t,
		"id,name,revenue\n"+
			"1,  alice  ,100.5\n"+
			"2,bob,200\n"+
			"2,bob copy,200\n")

	rd, err := reader.New(c, reader.Options{})
	require.NoError(t, err)

	p, err := New(c, st, rd, Options{PartitionBuckets: 16})
	require.NoError(t, err)

	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "dwh.customers", run.TargetTable)
	assert.Equal(t, "scd2", run.Strategy)

	require.NotNil(t, run.Stats)
	assert.Equal(t, 3, run.Stats.RowsRead)
	assert.Equal(t, 1, run.Stats.DuplicateRows)
	assert.Equal(t, 2, run.Stats.CleanRows)
	assert.Equal(t, 2, run.Stats.MergedRows)
	assert.Equal(t, 2, run.Stats.MergeDetails["new_records"])

	active, err := st.ReadActive(ctx, "dwh.customers")
	require.NoError(t, err)
	require.Len(t, active, 2)

	byID := map[any]model.Row{}
	for _, hr := range active {
		byID[hr.Attributes["id"]] = hr.Attributes
		assert.NotEmpty(t, hr.Attributes[lineage.ColRecordSource])
		assert.Equal(t, run.ID, hr.Attributes[lineage.ColRunID])
	}
	assert.Equal(t, "alice", byID["1"]["name"], "cleansing trims before write")
	assert.Equal(t, "bob", byID["2"]["name"], "duplicate keeps the first occurrence")

	persisted, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, persisted.Status)
}

func TestPipeline_Run_ReadFailureMarksRunFailed(t *testing.T) {
	st := newPipelineStore(t)
	ctx := context.Background()

	c := loadTestContract(t, "id,name,revenue\n")
	c.Source.Path = filepath.Join(t.TempDir(), "missing.csv")

	rd, err := reader.New(c, reader.Options{})
	require.NoError(t, err)

	p, err := New(c, st, rd, Options{PartitionBuckets: 16})
	require.NoError(t, err)

	run, runErr := p.Run(ctx)
	require.Error(t, runErr)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	persisted, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, persisted.Status)
}

func TestPipeline_Run_Idempotent(t *testing.T) {
	st := newPipelineStore(t)
	ctx := context.Background()

	c := loadTestContract(t, "id,name,revenue\n1,alice,100\n")
	rd, err := reader.New(c, reader.Options{})
	require.NoError(t, err)

	p, err := New(c, st, rd, Options{PartitionBuckets: 16})
	require.NoError(t, err)

	_, err = p.Run(ctx)
	require.NoError(t, err)
	run2, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, run2.Stats.MergedRows, "identical batch writes nothing")

	all, err := st.ReadAll(ctx, "dwh.customers")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

type failingWriter struct{}

func (failingWriter) Write(context.Context, *model.Batch) (*model.MergeStats, error) {
	return nil, eris.New("disk full")
}

func TestPipeline_Run_WriteFailure(t *testing.T) {
	st := newPipelineStore(t)
	ctx := context.Background()

	c := loadTestContract(t, "id,name,revenue\n1,alice,100\n")
	rd, err := reader.New(c, reader.Options{})
	require.NoError(t, err)

	p, err := New(c, st, rd, Options{PartitionBuckets: 16})
	require.NoError(t, err)
	p.writer = failingWriter{}

	run, runErr := p.Run(ctx)
	require.Error(t, runErr)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "disk full")
}

func TestNeedsHashes(t *testing.T) {
	assert.True(t, needsHashes(contract.StrategyT2CL))
	assert.True(t, needsHashes(contract.StrategySCD2))
	assert.True(t, needsHashes(contract.StrategySCD4))
	assert.False(t, needsHashes(contract.StrategyAppend))
	assert.False(t, needsHashes(contract.StrategyOverwrite))
	assert.False(t, needsHashes(contract.StrategyFileExport))
}

func TestSourceLabel(t *testing.T) {
	c := &contract.Contract{Source: contract.Source{Type: "csv", Path: "/data/x.csv"}}
	assert.Equal(t, "csv:/data/x.csv", sourceLabel(c))

	c.Source = contract.Source{Type: "ftp", URL: "ftp://host/x.csv"}
	assert.Equal(t, "ftp:ftp://host/x.csv", sourceLabel(c))

	c.Source = contract.Source{Type: "salesforce"}
	assert.Equal(t, "salesforce", sourceLabel(c))
}
