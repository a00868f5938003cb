// Package reader loads a contract's declared source into a batch. Sources are
// declarative: the contract names the type (csv, xlsx, ftp, salesforce) and
// the reader coerces raw cells into typed values per the schema.
package reader

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

// Reader produces the incoming batch for one pipeline run.
type Reader interface {
	Read(ctx context.Context) (*model.Batch, error)
}

// Options carries environment-level reader settings; per-source details come
// from the contract.
type Options struct {
	FTPTimeout time.Duration
	Salesforce Querier
}

// New builds the reader for the contract's source type.
func New(c *contract.Contract, opts Options) (Reader, error) {
	switch c.Source.Type {
	case "csv":
		return newCSVReader(c), nil
	case "xlsx":
		return newXLSXReader(c), nil
	case "ftp":
		return newFTPReader(c, opts.FTPTimeout), nil
	case "salesforce":
		if opts.Salesforce == nil {
			return nil, eris.Errorf("reader: contract %s needs a salesforce client", c.Name)
		}
		return newSalesforceReader(c, opts.Salesforce), nil
	default:
		return nil, eris.Errorf("reader: unknown source type %q", c.Source.Type)
	}
}

// batchFromRecords turns a header row plus raw string records into a typed
// batch. Every schema column must be present in the header; extra source
// columns are ignored.
func batchFromRecords(c *contract.Contract, header []string, records [][]string) (*model.Batch, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	columns := c.ColumnNames()
	positions := make([]int, len(columns))
	for i, col := range columns {
		pos, ok := index[col]
		if !ok {
			return nil, eris.Errorf("reader: source is missing column %q", col)
		}
		positions[i] = pos
	}

	batch := model.NewBatch(columns)
	for n, record := range records {
		row := make(model.Row, len(columns))
		for i, col := range c.Schema.Columns {
			var cell string
			if positions[i] < len(record) {
				cell = record[positions[i]]
			}
			v, err := coerceString(cell, col.Type)
			if err != nil {
				return nil, eris.Wrapf(err, "reader: row %d column %q", n+1, col.Name)
			}
			row[col.Name] = v
		}
		batch.Append(row)
	}
	return batch, nil
}
