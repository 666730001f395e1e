package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrShutdownFailed  ErrorCode = "shutdown_failed"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Startup errors, reported before the polling loop is entered
	ErrConfiguration         ErrorCode = "configuration_error"
	ErrInvalidLogLevel       ErrorCode = "invalid_log_level"
	ErrReadConfig            ErrorCode = "read_config_failed"
	ErrInstrumentUnavailable ErrorCode = "instrument_unavailable"
	ErrStorageUnavailable    ErrorCode = "storage_unavailable"

	// Run errors
	ErrInstrumentCommand ErrorCode = "instrument_command_failed"
	ErrMalformedPayload  ErrorCode = "malformed_payload"
	ErrStorageWrite      ErrorCode = "storage_write_failed"

	// Tooling errors
	ErrExport ErrorCode = "export_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:              "Internal error occurred",
	ErrInvalidArgument:       "Invalid argument provided",
	ErrNotImplemented:        "Operation not implemented",
	ErrShutdownFailed:        "Shutdown failed",
	ErrAlreadyRunning:        "Another acquisition already owns this instrument",
	ErrConfiguration:         "Invalid configuration",
	ErrInvalidLogLevel:       "Invalid log level",
	ErrReadConfig:            "Failed to read configuration",
	ErrInstrumentUnavailable: "Instrument unavailable",
	ErrStorageUnavailable:    "Storage unavailable",
	ErrInstrumentCommand:     "Instrument command failed",
	ErrMalformedPayload:      "Malformed instrument payload",
	ErrStorageWrite:          "Failed to write record",
	ErrExport:                "Export failed",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case HasCode(err, ErrConfiguration), HasCode(err, ErrInvalidLogLevel), HasCode(err, ErrReadConfig):
		return 2
	case HasCode(err, ErrInstrumentUnavailable), HasCode(err, ErrStorageUnavailable), HasCode(err, ErrAlreadyRunning):
		return 3
	default:
		return 1
	}
}
