package writer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/merge"
	"github.com/sells-group/lakeflow/internal/model"
	"github.com/sells-group/lakeflow/internal/store"
)

// fileExportWriter lands the batch as a flat file instead of a table. The
// export format is taken from the contract; csv when unset.
type fileExportWriter struct {
	path   string
	format string
	table  string
}

func newFileExport(c *contract.Contract, _ store.TableStore, _ time.Time) Writer {
	format := c.Write.ExportFormat
	if format == "" {
		format = "csv"
	}
	return &fileExportWriter{
		path:   c.Write.ExportPath,
		format: format,
		table:  c.TargetTable(),
	}
}

func (w *fileExportWriter) Write(ctx context.Context, batch *model.Batch) (*model.MergeStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "writer: create export directory for %s", w.path)
	}

	var err error
	switch w.format {
	case "csv":
		err = exportCSV(w.path, batch)
	case "xlsx":
		err = exportXLSX(w.path, batch)
	default:
		return nil, eris.Errorf("writer: unknown export format %q", w.format)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("writer: file export complete",
		zap.String("path", w.path),
		zap.String("format", w.format),
		zap.Int("rows", batch.Len()),
	)
	return &model.MergeStats{
		Strategy:        string(contract.StrategyFileExport),
		TargetTable:     w.table,
		RecordsInserted: batch.Len(),
		ProcessDate:     merge.Today(),
	}, nil
}

func exportCSV(path string, batch *model.Batch) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "writer: create %s", path)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	columns := batch.Columns()
	if err := cw.Write(columns); err != nil {
		return eris.Wrap(err, "writer: write csv header")
	}
	record := make([]string, len(columns))
	for _, row := range batch.Rows() {
		for i, col := range columns {
			record[i] = formatCell(row[col])
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "writer: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "writer: flush csv")
	}
	return f.Close()
}

func exportXLSX(path string, batch *model.Batch) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("data")
	if err != nil {
		return eris.Wrap(err, "writer: add xlsx sheet")
	}

	columns := batch.Columns()
	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().Value = col
	}
	for _, row := range batch.Rows() {
		out := sheet.AddRow()
		for _, col := range columns {
			out.AddCell().Value = formatCell(row[col])
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "writer: save %s", path)
	}
	return nil
}

// formatCell renders a cell value for flat-file output. NULLs become empty
// strings, dates use ISO format.
func formatCell(v model.Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format("2006-01-02")
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
