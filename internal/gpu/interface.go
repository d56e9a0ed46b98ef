package gpu

// Probe reads GPU state without changing it.
type Probe interface {
	Stats() []Stats
	Shutdown() error
}

// Stats is one device's readings. Readings the driver does not support
// are zero.
type Stats struct {
	Index                    int
	UUID                     string
	Name                     string
	TemperatureC             uint32
	FanSpeedPercent          uint32
	PowerUsageWatts          float64
	PowerLimitWatts          float64
	UtilizationPercent       uint32
	MemoryUtilizationPercent uint32
	MemoryTotalBytes         uint64
	MemoryUsedBytes          uint64
}
