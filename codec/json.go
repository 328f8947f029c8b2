package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec. It is the canonical encoding for
// all JSON artifacts going forward; the gzip variant exists for reading
// datasets written by older tooling.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for newly written JSON artifacts.
var Default Codec = JSON{}
