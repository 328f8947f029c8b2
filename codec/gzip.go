package codec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipJSON is gzip-compressed JSON. Legacy datasets store artifacts and the
// manifest this way (`.json.gz`); writes of plain artifacts no longer use it,
// only the manifest keeps the compressed form.
type GzipJSON struct{}

// Marshal encodes the value to gzip-compressed JSON.
func (GzipJSON) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return GzipBytes(raw)
}

// Unmarshal decodes gzip-compressed JSON data into v.
func (GzipJSON) Unmarshal(data []byte, v any) error {
	raw, err := GunzipBytes(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Name returns the unique name of the codec ("json.gz").
func (GzipJSON) Name() string { return "json.gz" }

// GzipBytes compresses data with gzip at the default level.
func GzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GunzipBytes decompresses gzip data.
func GunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
