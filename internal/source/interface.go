// Package source reads raw host counters. It performs no derivation beyond
// converting OS structures into the raw values below.
package source

import "context"

// Source is the metrics collaborator the snapshot aggregator consumes.
// Refresh is idempotent; accessors return the values of the last refresh.
type Source interface {
	Refresh(ctx context.Context) error

	CPUUsage() float64
	CoreUsages() []float64
	Memory() Memory
	Disks() []Disk
	Networks() []Interface
	Processes() []Process
	LoadAverage() Load
	Uptime() uint64
	BootTime() uint64

	// Static identity, read once when the source is created.
	OSInfo() OSInfo
	CPUInfo() CPUInfo
}

// Memory values are in bytes.
type Memory struct {
	Total     uint64
	Used      uint64
	Free      uint64
	Available uint64
	SwapTotal uint64
	SwapUsed  uint64
}

type Disk struct {
	Name           string
	MountPoint     string
	FileSystem     string
	Kind           string
	Removable      bool
	TotalBytes     uint64
	AvailableBytes uint64
}

// Interface counters are cumulative since boot.
type Interface struct {
	Name        string
	BytesRecv   uint64
	BytesSent   uint64
	PacketsRecv uint64
	PacketsSent uint64
	ErrorsIn    uint64
	ErrorsOut   uint64
}

type Process struct {
	PID         int32
	Name        string
	CPUUsage    float64
	MemoryBytes uint64
	ReadBytes   uint64
	WriteBytes  uint64
}

type Load struct {
	One     float64
	Five    float64
	Fifteen float64
}

// Empty strings mean the value was unavailable.
type OSInfo struct {
	Name           string
	KernelVersion  string
	OSVersion      string
	LongOSVersion  string
	Hostname       string
	DistributionID string
}

// Zero values mean the value was unavailable.
type CPUInfo struct {
	Brand         string
	VendorID      string
	FrequencyMHz  uint64
	PhysicalCores int
}
