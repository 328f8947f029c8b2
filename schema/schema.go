// Package schema pins the dataset format name and schema version and
// validates root metadata and per-record invariants.
//
// Validation is strict: version checks require an exact match, with no
// partial or forward compatibility, and violations are never auto-repaired.
package schema

import (
	"fmt"
	"slices"

	"github.com/mapmanager/kymflow-sub000/array"
)

const (
	// Format is the dataset format name stored in the root attributes.
	Format = "kymflow-dataset"

	// Version is the current schema version. Opening a dataset with any
	// other version fails.
	Version = 1
)

// Root holds the dataset root attributes.
type Root struct {
	Format        string `json:"format"`
	SchemaVersion int    `json:"schema_version"`
	CreatedUTC    string `json:"created_utc"`
	UpdatedUTC    string `json:"updated_utc"`
}

// ValidationError reports a schema violation. It always aborts the current
// operation; callers must not attempt repair.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "schema validation: " + e.Detail
}

func violationf(format string, args ...any) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// allowedDTypes is the dtype allow-list for stored pixel arrays.
var allowedDTypes = []array.DType{
	array.DTypeUint8,
	array.DTypeUint16,
	array.DTypeInt16,
	array.DTypeFloat32,
	array.DTypeFloat64,
}

// ValidateRoot checks the root attributes: format name and exact schema
// version match.
func ValidateRoot(root Root) error {
	if root.Format == "" {
		return violationf("format attribute is missing")
	}
	if root.Format != Format {
		return violationf("format %q, want %q", root.Format, Format)
	}
	if root.SchemaVersion == 0 {
		return violationf("schema_version attribute is missing")
	}
	if root.SchemaVersion != Version {
		return violationf("schema_version %d, want %d", root.SchemaVersion, Version)
	}
	return nil
}

// ValidateGroups checks that every required top-level group is present.
func ValidateGroups(present []string, required ...string) error {
	for _, group := range required {
		if !slices.Contains(present, group) {
			return violationf("required group %q is missing", group)
		}
	}
	return nil
}

// ValidateArray checks the per-record array invariants: dimensionality of at
// least 2, dtype within the allow-list, and axes labels matching the
// dimensionality.
func ValidateArray(a *array.NDArray) error {
	if a == nil {
		return violationf("record array is missing")
	}
	if a.NDim() < 2 {
		return violationf("array dimensionality %d, want >= 2", a.NDim())
	}
	if !slices.Contains(allowedDTypes, a.DType) {
		return violationf("dtype %s is not allowed", a.DType)
	}
	if len(a.Axes) != a.NDim() {
		return violationf("axes length %d does not match dimensionality %d", len(a.Axes), a.NDim())
	}
	return nil
}
