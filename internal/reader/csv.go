package reader

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

// csvReader reads a local delimited file. The contract may override the
// delimiter and skip leading rows before the header.
type csvReader struct {
	contract *contract.Contract
}

func newCSVReader(c *contract.Contract) *csvReader {
	return &csvReader{contract: c}
}

func (r *csvReader) Read(ctx context.Context) (*model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(r.contract.Source.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "reader: open %s", r.contract.Source.Path)
	}
	defer f.Close()

	batch, err := parseCSV(f, r.contract)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("reader: csv loaded",
		zap.String("path", r.contract.Source.Path),
		zap.Int("rows", batch.Len()),
	)
	return batch, nil
}

// parseCSV reads header plus records from a delimited stream and builds the
// typed batch. Shared by the csv and ftp sources.
func parseCSV(src io.Reader, c *contract.Contract) (*model.Batch, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	if c.Source.Delimiter != "" {
		cr.Comma = []rune(c.Source.Delimiter)[0]
	}

	for i := 0; i < c.Source.SkipRows; i++ {
		if _, err := cr.Read(); err != nil {
			return nil, eris.Wrap(err, "reader: skip leading rows")
		}
	}

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "reader: read csv header")
	}

	var records [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "reader: read csv row")
		}
		records = append(records, record)
	}

	return batchFromRecords(c, header, records)
}
