package store

import "codeberg.org/mutker/dsostream/internal/errors"

const (
	ErrUnavailable = errors.ErrStorageUnavailable
	ErrWrite       = errors.ErrStorageWrite

	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrQueryFailed            = errors.ErrorCode("store_query_failed")
	ErrUnknownChannel         = errors.ErrorCode("store_unknown_channel")
	ErrInvalidRecord          = errors.ErrorCode("store_invalid_record")
	ErrStoreClosed            = errors.ErrorCode("store_closed")
)

// phaseError is attached as data to store errors to name the step that
// failed.
type phaseError struct {
	Phase string
	Path  string
	Error string
}
