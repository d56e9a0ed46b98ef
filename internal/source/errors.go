package source

import "codeberg.org/mutker/heartbeat/internal/errors"

const (
	ErrRefreshFailed   = errors.ErrorCode("source_refresh_failed")
	ErrCPUReadFailed   = errors.ErrorCode("source_cpu_read_failed")
	ErrMemReadFailed   = errors.ErrorCode("source_memory_read_failed")
	ErrDiskReadFailed  = errors.ErrorCode("source_disk_read_failed")
	ErrNetReadFailed   = errors.ErrorCode("source_network_read_failed")
	ErrProcReadFailed  = errors.ErrorCode("source_process_read_failed")
	ErrLoadReadFailed  = errors.ErrorCode("source_load_read_failed")
	ErrHostReadFailed  = errors.ErrorCode("source_host_read_failed")
	ErrBlockReadFailed = errors.ErrorCode("source_block_read_failed")
)
