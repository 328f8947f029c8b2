package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/klauspost/compress/gzip"
)

// UnmarshalCSVGz reads a legacy gzip-compressed CSV blob into a Table.
// The first record is the header; cells parse as int64, then float64, then
// bool, falling back to string. Empty cells become nil.
//
// This path exists only for datasets written by older tooling; new tabular
// blobs are always Parquet.
func UnmarshalCSVGz(data []byte) (*Table, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip csv: %w", err)
	}
	defer zr.Close()

	records, err := csv.NewReader(zr).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv blob has no header row")
	}

	header := records[0]
	out := New(header...)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, col := range header {
			if i >= len(rec) {
				break
			}
			row[col] = parseCell(rec[i])
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	return s
}
