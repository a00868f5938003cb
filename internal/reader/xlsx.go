package reader

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

// xlsxReader reads a workbook sheet. The contract may name the sheet;
// otherwise the first sheet is used.
type xlsxReader struct {
	contract *contract.Contract
}

func newXLSXReader(c *contract.Contract) *xlsxReader {
	return &xlsxReader{contract: c}
}

func (r *xlsxReader) Read(ctx context.Context) (*model.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := parseXLSX(r.contract.Source.Path, r.contract)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("reader: xlsx loaded",
		zap.String("path", r.contract.Source.Path),
		zap.String("sheet", r.contract.Source.Sheet),
		zap.Int("rows", batch.Len()),
	)
	return batch, nil
}

// parseXLSX loads a sheet and builds the typed batch. Shared by the xlsx and
// ftp sources.
func parseXLSX(path string, c *contract.Contract) (*model.Batch, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reader: open %s", path)
	}

	sheet, err := getSheet(f, c.Source.Sheet)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for i, row := range sheet.Rows {
		if i < c.Source.SkipRows {
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("reader: sheet in %s has no header row", path)
	}

	return batchFromRecords(c, rows[0], rows[1:])
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("reader: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("reader: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
