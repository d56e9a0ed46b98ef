// Package snapshot assembles one immutable record per tick from the metrics
// source and the anomaly detector.
package snapshot

import "context"

// Snapshot is everything reported for one tick. It is not modified after
// Collect returns it.
type Snapshot struct {
	Timestamp           uint64           `json:"timestamp"`
	OSInfo              OSInfo           `json:"os_info"`
	CPUInfo             CPUInfo          `json:"cpu_info"`
	CPUUsagePercent     float64          `json:"cpu_usage_percent"`
	CPUCores            []CoreMetrics    `json:"cpu_cores"`
	MemoryTotalMB       uint64           `json:"memory_total_mb"`
	MemoryUsedMB        uint64           `json:"memory_used_mb"`
	MemoryFreeMB        uint64           `json:"memory_free_mb"`
	MemoryAvailableMB   uint64           `json:"memory_available_mb"`
	MemoryUsagePercent  float64          `json:"memory_usage_percent"`
	SwapTotalMB         uint64           `json:"swap_total_mb"`
	SwapUsedMB          uint64           `json:"swap_used_mb"`
	Disks               []DiskMetrics    `json:"disks"`
	NetworkInterfaces   []NetworkMetrics `json:"network_interfaces"`
	ProcessCount        int              `json:"process_count"`
	TopProcesses        []ProcessMetrics `json:"top_processes"`
	LoadAverage         LoadAverage      `json:"load_average"`
	UptimeSeconds       uint64           `json:"uptime_seconds"`
	BootTime            uint64           `json:"boot_time"`
	GPUs                []GPUMetrics     `json:"gpus,omitempty"`
	CPUSpikeDetected    bool             `json:"cpu_spike_detected"`
	MemoryLeakSuspected bool             `json:"memory_leak_suspected"`
}

type OSInfo struct {
	Name           string `json:"name"`
	KernelVersion  string `json:"kernel_version"`
	OSVersion      string `json:"os_version"`
	LongOSVersion  string `json:"long_os_version"`
	Hostname       string `json:"hostname"`
	DistributionID string `json:"distribution_id"`
}

type CPUInfo struct {
	Brand             string `json:"brand"`
	VendorID          string `json:"vendor_id"`
	FrequencyMHz      uint64 `json:"frequency_mhz"`
	PhysicalCoreCount int    `json:"physical_core_count"`
}

type CoreMetrics struct {
	CoreID       int     `json:"core_id"`
	UsagePercent float64 `json:"usage_percent"`
}

type DiskMetrics struct {
	Name             string  `json:"name"`
	MountPoint       string  `json:"mount_point"`
	FileSystem       string  `json:"file_system"`
	Kind             string  `json:"kind"`
	IsRemovable      bool    `json:"is_removable"`
	TotalSpaceGB     float64 `json:"total_space_gb"`
	AvailableSpaceGB float64 `json:"available_space_gb"`
	UsedSpaceGB      float64 `json:"used_space_gb"`
	UsagePercent     float64 `json:"usage_percent"`
}

type NetworkMetrics struct {
	Interface          string `json:"interface"`
	BytesReceived      uint64 `json:"bytes_received"`
	BytesTransmitted   uint64 `json:"bytes_transmitted"`
	PacketsReceived    uint64 `json:"packets_received"`
	PacketsTransmitted uint64 `json:"packets_transmitted"`
	ErrorsReceived     uint64 `json:"errors_received"`
	ErrorsTransmitted  uint64 `json:"errors_transmitted"`
}

type ProcessMetrics struct {
	PID            int32   `json:"pid"`
	Name           string  `json:"name"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryMB       uint64  `json:"memory_mb"`
	DiskReadBytes  uint64  `json:"disk_read_bytes"`
	DiskWriteBytes uint64  `json:"disk_write_bytes"`
}

type LoadAverage struct {
	One     float64 `json:"one"`
	Five    float64 `json:"five"`
	Fifteen float64 `json:"fifteen"`
}

type GPUMetrics struct {
	Index                    int     `json:"index"`
	UUID                     string  `json:"uuid"`
	Name                     string  `json:"name"`
	TemperatureC             uint32  `json:"temperature_c"`
	FanSpeedPercent          uint32  `json:"fan_speed_percent"`
	PowerUsageWatts          float64 `json:"power_usage_watts"`
	PowerLimitWatts          float64 `json:"power_limit_watts"`
	UtilizationPercent       uint32  `json:"utilization_percent"`
	MemoryUtilizationPercent uint32  `json:"memory_utilization_percent"`
	MemoryTotalMB            uint64  `json:"memory_total_mb"`
	MemoryUsedMB             uint64  `json:"memory_used_mb"`
}

// Sink receives every snapshot the scheduler emits.
type Sink interface {
	Record(ctx context.Context, snap *Snapshot) error
	Close() error
}
