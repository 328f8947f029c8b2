package kymflow

import (
	"errors"
	"fmt"

	"github.com/mapmanager/kymflow-sub000/blobstore"
	"github.com/mapmanager/kymflow-sub000/dataset"
	"github.com/mapmanager/kymflow-sub000/record"
	"github.com/mapmanager/kymflow-sub000/schema"
)

// Sentinels re-exported from subpackages, so most callers only need errors.Is
// against this package.
var (
	// ErrNotFound is returned when a blob, image or table does not exist.
	// It matches os.ErrNotExist.
	ErrNotFound = blobstore.ErrNotFound

	// ErrReadOnly is returned by mutating operations on a read-only dataset.
	ErrReadOnly = blobstore.ErrReadOnly

	// ErrExists is returned by Create when the store already holds a dataset.
	ErrExists = dataset.ErrExists

	// ErrMetadataNotFound is returned when a record has no metadata payload.
	ErrMetadataNotFound = record.ErrMetadataNotFound

	// ErrArrayExists is returned when saving an array over an existing one
	// without the overwrite flag.
	ErrArrayExists = record.ErrArrayExists
)

// ErrValidation indicates a schema or marker validation failure.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrValidation struct {
	Detail string
	cause  error
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation: %s", e.Detail)
}

func (e *ErrValidation) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Validation unification.
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return &ErrValidation{Detail: ve.Detail, cause: err}
	}

	return err
}
