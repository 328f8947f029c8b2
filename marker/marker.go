// Package marker defines the per-(record, indexer) run marker: a small
// versioned fact recording that an indexer produced N rows for a record with
// given parameters and version at a given time.
package marker

import (
	"fmt"
	"strings"
)

// Version is the current marker schema version. Markers with any other
// version fail validation; there is no silent upgrade.
const Version = "1"

// StatusOK is the status written after a successful indexer run.
const StatusOK = "ok"

// Marker records one indexer run for one record. Exactly one marker exists
// per (record, indexer) at any time; it is overwritten on each run.
type Marker struct {
	MarkerVersion   string `json:"marker_version"`
	IndexerName     string `json:"indexer_name"`
	ParamsHash      string `json:"params_hash"`
	AnalysisVersion string `json:"analysis_version"`
	NRows           int64  `json:"n_rows"`
	RanUTCEpochNS   int64  `json:"ran_utc_epoch_ns"`
	Status          string `json:"status"`
}

// Validate checks all marker invariants. A marker read back from storage is
// only trusted after validation.
func Validate(m *Marker) error {
	if m == nil {
		return fmt.Errorf("nil marker")
	}
	if m.MarkerVersion != Version {
		return fmt.Errorf("marker_version %q, want %q", m.MarkerVersion, Version)
	}
	if strings.TrimSpace(m.IndexerName) == "" {
		return fmt.Errorf("indexer_name is empty")
	}
	if m.ParamsHash == "" {
		return fmt.Errorf("params_hash is empty")
	}
	if m.AnalysisVersion == "" {
		return fmt.Errorf("analysis_version is empty")
	}
	if m.NRows < 0 {
		return fmt.Errorf("n_rows %d is negative", m.NRows)
	}
	if m.RanUTCEpochNS <= 0 {
		return fmt.Errorf("ran_utc_epoch_ns %d is not positive", m.RanUTCEpochNS)
	}
	if m.Status == "" {
		return fmt.Errorf("status is empty")
	}
	return nil
}

// Matches reports whether the marker is valid and records exactly the given
// params hash and analysis version. It never returns an error: an invalid
// marker simply does not match.
func Matches(m *Marker, paramsHash, analysisVersion string) bool {
	if Validate(m) != nil {
		return false
	}
	return m.ParamsHash == paramsHash && m.AnalysisVersion == analysisVersion
}
