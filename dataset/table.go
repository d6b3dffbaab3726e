// Package dataset holds the in-memory tables the pipeline works on: an
// Arrow schema plus an ordered list of record batches.
package dataset

import (
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Table is an immutable, named collection of Arrow record batches sharing
// one schema. Rows are addressed by a global ordinal across batches.
type Table struct {
	name    string
	schema  *arrow.Schema
	records []arrow.Record
	offsets []int64
	// dropped remembers columns removed by earlier projections.
	dropped map[string]struct{}
}

// NewTable takes ownership of records; Release frees them.
func NewTable(name string, schema *arrow.Schema, records []arrow.Record) *Table {
	t := &Table{
		name:    name,
		schema:  schema,
		records: records,
		offsets: make([]int64, len(records)+1),
		dropped: make(map[string]struct{}),
	}
	for i, rec := range records {
		t.offsets[i+1] = t.offsets[i] + rec.NumRows()
	}
	return t
}

func (t *Table) Name() string { return t.name }
func (t *Table) Schema() *arrow.Schema { return t.schema }
func (t *Table) Records() []arrow.Record { return t.records }
func (t *Table) NumCols() int { return len(t.schema.Fields()) }

// NumRows returns the total row count over all batches.
func (t *Table) NumRows() int64 {
	return t.offsets[len(t.offsets)-1]
}

// Offset returns the global ordinal of the first row of batch b.
func (t *Table) Offset(b int) int64 {
	return t.offsets[b]
}

// ColumnIndex resolves a column name to its position.
func (t *Table) ColumnIndex(name string) (int, error) {
	idx := t.schema.FieldIndices(name)
	if len(idx) == 0 {
		return -1, &SchemaError{Table: t.name, Column: name}
	}
	return idx[0], nil
}

// Field returns the schema field of the named column.
func (t *Table) Field(name string) (arrow.Field, error) {
	i, err := t.ColumnIndex(name)
	if err != nil {
		return arrow.Field{}, err
	}
	return t.schema.Field(i), nil
}

// Locate maps a global row ordinal to its batch and the row within it.
func (t *Table) Locate(row int64) (batch, offset int) {
	b := sort.Search(len(t.records), func(i int) bool {
		return t.offsets[i+1] > row
	})
	return b, int(row - t.offsets[b])
}

// Value returns the cell at the given global row and column position.
func (t *Table) Value(row int64, col int) Value {
	b, i := t.Locate(row)
	return ValueAt(t.records[b].Column(col), i)
}

// Drop returns a new table without the named columns, keeping the order of
// the rest. Naming a column removed by an earlier Drop is a no-op; naming a
// column the table never had is a SchemaError.
func (t *Table) Drop(cols ...string) (*Table, error) {
	remove := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, gone := t.dropped[c]; gone {
			continue
		}
		if !t.schema.HasField(c) {
			return nil, &SchemaError{Table: t.name, Column: c}
		}
		remove[c] = struct{}{}
	}

	keep := make([]int, 0, t.NumCols())
	for i, f := range t.schema.Fields() {
		if _, ok := remove[f.Name]; !ok {
			keep = append(keep, i)
		}
	}
	out := t.project(keep)
	for c := range t.dropped {
		out.dropped[c] = struct{}{}
	}
	for c := range remove {
		out.dropped[c] = struct{}{}
	}
	return out, nil
}

// Select returns a new table holding exactly the named columns, in the
// requested order.
func (t *Table) Select(cols ...string) (*Table, error) {
	keep := make([]int, 0, len(cols))
	for _, c := range cols {
		i, err := t.ColumnIndex(c)
		if err != nil {
			return nil, err
		}
		keep = append(keep, i)
	}
	return t.project(keep), nil
}

func (t *Table) project(keep []int) *Table {
	fields := make([]arrow.Field, len(keep))
	for j, i := range keep {
		fields[j] = t.schema.Field(i)
	}
	md := t.schema.Metadata()
	schema := arrow.NewSchema(fields, &md)

	records := make([]arrow.Record, len(t.records))
	for b, rec := range t.records {
		cols := make([]arrow.Array, len(keep))
		for j, i := range keep {
			cols[j] = rec.Column(i)
		}
		// NewRecord retains the shared columns.
		records[b] = array.NewRecord(schema, cols, rec.NumRows())
	}
	return NewTable(t.name, schema, records)
}

// Release frees every record batch held by the table.
func (t *Table) Release() {
	for _, rec := range t.records {
		rec.Release()
	}
	t.records = nil
}
