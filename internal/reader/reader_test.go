package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lakeflow/internal/contract"
)

func csvContract(path string) *contract.Contract {
	return &contract.Contract{
		Name: "test",
		Schema: contract.Schema{
			Name:  "dwh",
			Table: "t",
			Columns: []contract.Column{
				{Name: "id", Type: "string", IsPrimaryKey: true},
				{Name: "amount", Type: "number"},
				{Name: "active", Type: "boolean"},
				{Name: "joined", Type: "date"},
			},
		},
		Source: contract.Source{Type: "csv", Path: path},
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCSVReader_TypedBatch(t *testing.T) {
	path := writeFile(t, "data.csv",
		"id,amount,active,joined,extra\n"+
			"a1,12.5,true,2026-01-15,ignored\n"+
			"a2,,false,,x\n")

	rd, err := New(csvContract(path), Options{})
	require.NoError(t, err)

	batch, err := rd.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, []string{"id", "amount", "active", "joined"}, batch.Columns())

	r0 := batch.Rows()[0]
	assert.Equal(t, "a1", r0["id"])
	assert.Equal(t, 12.5, r0["amount"])
	assert.Equal(t, true, r0["active"])
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), r0["joined"])

	r1 := batch.Rows()[1]
	assert.Nil(t, r1["amount"], "empty numeric cell is NULL")
	assert.Nil(t, r1["joined"])
}

func TestCSVReader_DelimiterAndSkipRows(t *testing.T) {
	c := csvContract(writeFile(t, "data.txt",
		"generated 2026-03-01\n"+
			"id;amount;active;joined\n"+
			"a1;1;true;2026-01-01\n"))
	c.Source.Delimiter = ";"
	c.Source.SkipRows = 1

	rd, err := New(c, Options{})
	require.NoError(t, err)

	batch, err := rd.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "a1", batch.Rows()[0]["id"])
}

func TestCSVReader_MissingColumn(t *testing.T) {
	path := writeFile(t, "data.csv", "id,amount\na1,1\n")

	rd, err := New(csvContract(path), Options{})
	require.NoError(t, err)

	_, err = rd.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active")
}

func TestCSVReader_BadCell(t *testing.T) {
	path := writeFile(t, "data.csv", "id,amount,active,joined\na1,not-a-number,true,2026-01-01\n")

	rd, err := New(csvContract(path), Options{})
	require.NoError(t, err)

	_, err = rd.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")
}

func createTestXLSX(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cell := range rowData {
			row.AddCell().Value = cell
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestXLSXReader_ReadsNamedSheet(t *testing.T) {
	path := createTestXLSX(t, "export", [][]string{
		{"id", "amount", "active", "joined"},
		{"a1", "3.5", "true", "2026-02-01"},
	})

	c := csvContract(path)
	c.Source.Type = "xlsx"
	c.Source.Sheet = "export"

	rd, err := New(c, Options{})
	require.NoError(t, err)

	batch, err := rd.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, 3.5, batch.Rows()[0]["amount"])
}

func TestXLSXReader_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, "export", [][]string{{"id"}})

	c := csvContract(path)
	c.Source.Type = "xlsx"
	c.Source.Sheet = "missing"

	rd, err := New(c, Options{})
	require.NoError(t, err)

	_, err = rd.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

type fakeQuerier struct {
	records []map[string]any
	err     error
	gotSOQL string
}

func (f *fakeQuerier) Query(_ context.Context, soql string, out any) error {
	f.gotSOQL = soql
	if f.err != nil {
		return f.err
	}
	*(out.(*[]map[string]any)) = f.records
	return nil
}

func TestSalesforceReader_MapsRecords(t *testing.T) {
	c := csvContract("")
	c.Source = contract.Source{Type: "salesforce", Query: "SELECT Id FROM Account"}

	fq := &fakeQuerier{records: []map[string]any{
		{"Id": "a1", "Amount": 9.5, "Active": true, "Joined": "2026-01-02"},
	}}
	// Salesforce field names differ in case from contract columns.
	c.Schema.Columns[0].Name = "id"

	rd, err := New(c, Options{Salesforce: fq})
	require.NoError(t, err)

	batch, err := rd.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SELECT Id FROM Account", fq.gotSOQL)
	require.Equal(t, 1, batch.Len())

	row := batch.Rows()[0]
	assert.Equal(t, "a1", row["id"])
	assert.Equal(t, 9.5, row["amount"])
	assert.Equal(t, true, row["active"])
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), row["joined"])
}

func TestSalesforceReader_RequiresQuery(t *testing.T) {
	c := csvContract("")
	c.Source = contract.Source{Type: "salesforce"}

	rd, err := New(c, Options{Salesforce: &fakeQuerier{}})
	require.NoError(t, err)

	_, err = rd.Read(context.Background())
	require.Error(t, err)
}

func TestNew_Dispatch(t *testing.T) {
	c := csvContract("x.csv")

	c.Source.Type = "nonsense"
	_, err := New(c, Options{})
	require.Error(t, err)

	c.Source.Type = "salesforce"
	_, err = New(c, Options{})
	require.Error(t, err, "salesforce source needs a client")

	c.Source.Type = "ftp"
	rd, err := New(c, Options{})
	require.NoError(t, err)
	assert.NotNil(t, rd)
}

func TestCoerceString(t *testing.T) {
	tests := []struct {
		cell    string
		colType string
		want    any
		wantErr bool
	}{
		{"hello", "string", "hello", false},
		{"", "string", "", false},
		{"42", "integer", int64(42), false},
		{" 42 ", "int", int64(42), false},
		{"", "integer", nil, false},
		{"4.5", "number", 4.5, false},
		{"true", "boolean", true, false},
		{"2026-03-01", "date", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"2026-03-01T10:00:00Z", "timestamp", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"abc", "integer", nil, true},
		{"x", "mystery", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.colType+"/"+tt.cell, func(t *testing.T) {
			got, err := coerceString(tt.cell, tt.colType)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://files.example.com/drop/data.csv")
	require.NoError(t, err)
	assert.Equal(t, "files.example.com:21", host)
	assert.Equal(t, "/drop/data.csv", path)

	host, _, err = parseFTPURL("ftp://files.example.com:2121/x.csv")
	require.NoError(t, err)
	assert.Equal(t, "files.example.com:2121", host)

	_, _, err = parseFTPURL("https://example.com/x.csv")
	require.Error(t, err)

	_, _, err = parseFTPURL("ftp://example.com")
	require.Error(t, err)
}
