package errors

// ErrorCode identifies a class of failure. Codes decide recoverability in the
// acquisition loop and the process exit status.
type ErrorCode string

// Coded is implemented by every error that carries an ErrorCode
type Coded interface {
	error
	Code() ErrorCode
}

// Error represents a domain-specific error with context
type Error interface {
	Coded
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory defines methods for creating domain errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
