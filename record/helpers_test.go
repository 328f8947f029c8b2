package record

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func csvGz(t *testing.T, rows [][]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	cw := csv.NewWriter(zw)
	require.NoError(t, cw.WriteAll(rows))
	cw.Flush()
	require.NoError(t, cw.Error())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
