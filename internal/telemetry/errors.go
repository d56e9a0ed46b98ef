package telemetry

import "codeberg.org/mutker/heartbeat/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidListen = errors.ErrorCode("telemetry_invalid_listen_address")

	// Server Errors
	ErrListenFailed    = errors.ErrorCode("telemetry_listen_failed")
	ErrServiceShutdown = errors.ErrShutdownFailed

	// Collection Errors
	ErrInvalidMetrics   = errors.ErrorCode("telemetry_invalid_snapshot")
	ErrOperationTimeout = errors.ErrTimeout
)
