package model

// Value is a single cell in a batch. A nil Value is SQL NULL. Concrete types
// are limited to string, int64, float64, bool and time.Time so hashing and
// store serialization stay deterministic.
type Value = any

// Row is one record in a batch, keyed by column name. Absent columns are
// treated as NULL.
type Row map[string]Value

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is an in-memory tabular batch flowing through the pipeline. Column
// order is preserved so exports and table creation are stable.
type Batch struct {
	columns []string
	rows    []Row
}

// NewBatch creates an empty batch with the given column order.
func NewBatch(columns []string) *Batch {
	return &Batch{columns: append([]string(nil), columns...)}
}

// Columns returns the batch column names in order.
func (b *Batch) Columns() []string {
	return b.columns
}

// HasColumn reports whether the batch declares the named column.
func (b *Batch) HasColumn(name string) bool {
	for _, c := range b.columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column to the batch schema if not already present.
func (b *Batch) AddColumn(name string) {
	if !b.HasColumn(name) {
		b.columns = append(b.columns, name)
	}
}

// Append adds a row to the batch.
func (b *Batch) Append(row Row) {
	b.rows = append(b.rows, row)
}

// Rows returns the underlying row slice.
func (b *Batch) Rows() []Row {
	return b.rows
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	return len(b.rows)
}

// SetRows replaces the row slice, keeping the schema.
func (b *Batch) SetRows(rows []Row) {
	b.rows = rows
}
