package output

import "codeberg.org/mutker/heartbeat/internal/errors"

const (
	ErrEncodeFailed errors.ErrorCode = "output_encode_failed"
	ErrWriteFailed  errors.ErrorCode = "output_write_failed"
)
