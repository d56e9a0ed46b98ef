// Package errors gives every failure in heartbeat a stable code, so log lines
// and sink failures can be matched without parsing messages.
package errors

// ErrorCode names a failure. Packages declare their own codes next to the
// code that raises them, e.g. source_refresh_failed or output_encode_failed.
type ErrorCode string

// Error is a coded failure, optionally wrapping a cause and carrying
// structured data for the log line.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors. Obtain one with New.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
