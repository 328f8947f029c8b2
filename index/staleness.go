package index

import "github.com/mapmanager/kymflow-sub000/marker"

// Reason labels the outcome of a staleness evaluation for one record.
type Reason string

const (
	ReasonFreshRows                Reason = "FRESH_ROWS"
	ReasonFreshZeroRows            Reason = "FRESH_ZERO_ROWS"
	ReasonStaleMissingMarker       Reason = "STALE_MISSING_MARKER"
	ReasonStaleMarkerTableMismatch Reason = "STALE_MARKER_TABLE_MISMATCH"
	ReasonStaleVersionChanged      Reason = "STALE_VERSION_CHANGED"
	ReasonStaleParamsChanged       Reason = "STALE_PARAMS_CHANGED"
	ReasonStaleUnknown             Reason = "STALE_UNKNOWN"
)

// Result is one record's staleness decision plus the evidence it was based
// on, for logging and tests.
type Result struct {
	ImageID                string `json:"image_id"`
	TableName              string `json:"table_name"`
	HasRunMarker           bool   `json:"has_run_marker"`
	TableRowsPresent       bool   `json:"table_rows_present"`
	MarkerNRows            int64  `json:"marker_n_rows"`
	ParamsHashMatches      bool   `json:"params_hash_matches"`
	AnalysisVersionMatches bool   `json:"analysis_version_matches"`
	IsStale                bool   `json:"is_stale"`
	Reason                 Reason `json:"reason"`
}

// tableSlice summarizes the rows a named table currently holds for one
// image_id: whether any exist, and the provenance columns they carry.
type tableSlice struct {
	present         bool
	paramsHash      string
	analysisVersion string
}

// evaluate decides whether a record needs re-indexing. m is nil when no valid
// run marker exists. Branches are ordered; the first match wins.
func evaluate(imageID, tableName string, slice tableSlice, m *marker.Marker, paramsHash, version string) Result {
	if m != nil && marker.Validate(m) != nil {
		// An unreadable or invalid marker counts as no marker at all.
		m = nil
	}
	res := Result{
		ImageID:          imageID,
		TableName:        tableName,
		HasRunMarker:     m != nil,
		TableRowsPresent: slice.present,
	}
	markerMatches := marker.Matches(m, paramsHash, version)
	if m != nil {
		res.MarkerNRows = m.NRows
	}

	res.ParamsHashMatches = true
	res.AnalysisVersionMatches = true
	if slice.present {
		res.ParamsHashMatches = res.ParamsHashMatches && slice.paramsHash == paramsHash
		res.AnalysisVersionMatches = res.AnalysisVersionMatches && slice.analysisVersion == version
	}
	if m != nil {
		res.ParamsHashMatches = res.ParamsHashMatches && m.ParamsHash == paramsHash
		res.AnalysisVersionMatches = res.AnalysisVersionMatches && m.AnalysisVersion == version
	}

	stale := func(r Reason) Result {
		res.IsStale = true
		res.Reason = r
		return res
	}
	fresh := func(r Reason) Result {
		res.IsStale = false
		res.Reason = r
		return res
	}

	if slice.present {
		switch {
		case markerMatches && m.NRows == 0:
			// Marker promises zero rows but the table holds some.
			return stale(ReasonStaleMarkerTableMismatch)
		case slice.paramsHash == paramsHash && slice.analysisVersion == version:
			return fresh(ReasonFreshRows)
		case !res.AnalysisVersionMatches:
			return stale(ReasonStaleVersionChanged)
		case !res.ParamsHashMatches:
			return stale(ReasonStaleParamsChanged)
		default:
			return stale(ReasonStaleUnknown)
		}
	}

	switch {
	case markerMatches && m.NRows == 0:
		return fresh(ReasonFreshZeroRows)
	case m == nil:
		return stale(ReasonStaleMissingMarker)
	case m.NRows > 0:
		// Marker promises rows but the table holds none for this image.
		return stale(ReasonStaleMarkerTableMismatch)
	case !res.AnalysisVersionMatches:
		return stale(ReasonStaleVersionChanged)
	case !res.ParamsHashMatches:
		return stale(ReasonStaleParamsChanged)
	default:
		return stale(ReasonStaleUnknown)
	}
}
