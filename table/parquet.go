package table

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// MarshalParquet serializes the table to Parquet bytes.
//
// The schema is inferred from cell values: every column is optional, typed by
// its first non-nil value. Columns that are entirely nil encode as optional
// strings.
func MarshalParquet(t *Table) ([]byte, error) {
	schema, err := inferSchema(t)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[map[string]any](&buf, schema)
	if t.Len() > 0 {
		rows := make([]map[string]any, t.Len())
		for i, r := range t.Rows() {
			rows[i] = map[string]any(r)
		}
		if _, err := w.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalParquet reads a Parquet blob back into a Table.
func UnmarshalParquet(data []byte) (*Table, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	var cols []string
	for _, field := range f.Schema().Fields() {
		cols = append(cols, field.Name())
	}
	out := New(cols...)

	// The reader cannot reflect a schema from map[string]any; reuse the
	// schema stored in the file itself.
	r := parquet.NewGenericReader[map[string]any](f, f.Schema())
	defer r.Close()

	buf := make([]map[string]any, 128)
	for {
		for i := range buf {
			buf[i] = make(map[string]any)
		}
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			row := make(Row, len(buf[i]))
			for k, v := range buf[i] {
				row[k] = normalize(v)
			}
			out.rows = append(out.rows, row)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

func inferSchema(t *Table) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, col := range t.Columns() {
		node, err := inferNode(t, col)
		if err != nil {
			return nil, err
		}
		group[col] = parquet.Optional(node)
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("cannot infer parquet schema for table with no columns")
	}
	return parquet.NewSchema("table", group), nil
}

func inferNode(t *Table, col string) (parquet.Node, error) {
	for _, r := range t.Rows() {
		switch r[col].(type) {
		case nil:
			continue
		case string:
			return parquet.String(), nil
		case int64:
			return parquet.Int(64), nil
		case float64:
			return parquet.Leaf(parquet.DoubleType), nil
		case bool:
			return parquet.Leaf(parquet.BooleanType), nil
		default:
			return nil, fmt.Errorf("column %q has unsupported value type %T", col, r[col])
		}
	}
	// all nil (or no rows)
	return parquet.String(), nil
}
