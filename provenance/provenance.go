// Package provenance computes deterministic hashes of indexer parameters.
//
// Two logically equal parameter sets must hash identically regardless of key
// order or how the caller built the value; any change to any parameter value
// changes the hash.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StableJSON returns the canonical JSON serialization of v: keys sorted at
// every nesting level, no extraneous whitespace.
func StableJSON(v any) ([]byte, error) {
	// Round-trip through an untyped value so struct field order and map
	// insertion order never leak into the bytes; encoding/json emits map
	// keys sorted.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize params: %w", err)
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, fmt.Errorf("canonicalize params: %w", err)
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("canonicalize params: %w", err)
	}
	return out, nil
}

// ParamsHash returns the SHA-256 hex digest of the canonical JSON
// serialization of params.
func ParamsHash(params map[string]any) (string, error) {
	b, err := StableJSON(params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
