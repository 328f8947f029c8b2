// Package table provides the row-set type used for dataset-level named
// tables and per-record tabular artifacts.
//
// The canonical persisted form is Parquet; gzip-compressed CSV is supported
// as a legacy read-only fallback. Cell values are restricted to string,
// int64, float64, bool and nil; Append normalizes other numeric widths.
package table

import (
	"slices"
)

// Row is a single table row. Values are normalized to string, int64,
// float64, bool or nil.
type Row map[string]any

// Table is an ordered set of rows. Column order follows first appearance
// across appended rows.
type Table struct {
	cols []string
	rows []Row
}

// New creates an empty table. Columns named up front keep their position
// even if early rows omit them.
func New(cols ...string) *Table {
	return &Table{cols: slices.Clone(cols)}
}

// Append adds rows to the table, normalizing cell values and recording any
// new columns.
func (t *Table) Append(rows ...Row) {
	for _, r := range rows {
		nr := make(Row, len(r))
		for k, v := range r {
			if !slices.Contains(t.cols, k) {
				t.cols = append(t.cols, k)
			}
			nr[k] = normalize(v)
		}
		t.rows = append(t.rows, nr)
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Columns returns the column names in order of first appearance.
func (t *Table) Columns() []string {
	return slices.Clone(t.cols)
}

// HasColumn reports whether the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.cols, name)
}

// Rows returns the backing row slice. Callers must not grow it.
func (t *Table) Rows() []Row {
	if t == nil {
		return nil
	}
	return t.rows
}

// Row returns the i-th row.
func (t *Table) Row(i int) Row {
	return t.rows[i]
}

// Set assigns a value on every row, adding the column if needed. Used to
// stamp provenance columns onto freshly extracted rows.
func (t *Table) Set(col string, val any) {
	if !slices.Contains(t.cols, col) {
		t.cols = append(t.cols, col)
	}
	v := normalize(val)
	for _, r := range t.rows {
		r[col] = v
	}
}

// Where returns a new table holding the rows whose col equals val.
func (t *Table) Where(col string, val any) *Table {
	out := New(t.cols...)
	want := normalize(val)
	for _, r := range t.rows {
		if r[col] == want {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// Without returns a new table holding the rows whose col does not equal val.
func (t *Table) Without(col string, val any) *Table {
	out := New(t.cols...)
	want := normalize(val)
	for _, r := range t.rows {
		if r[col] != want {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// Concat appends all rows of other to t.
func (t *Table) Concat(other *Table) {
	if other == nil {
		return
	}
	for _, c := range other.cols {
		if !slices.Contains(t.cols, c) {
			t.cols = append(t.cols, c)
		}
	}
	t.rows = append(t.rows, other.rows...)
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return x
	}
}
