package snapshot

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"codeberg.org/mutker/heartbeat/internal/detector"
	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/gpu"
	"codeberg.org/mutker/heartbeat/internal/history"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"codeberg.org/mutker/heartbeat/internal/source"
)

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024

	// Unknown replaces identity strings the source could not provide.
	Unknown = "Unknown"
)

type Config struct {
	Baseline       detector.BaselineConfig
	HistorySize    int
	TopProcesses   int
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Baseline:     detector.DefaultBaselineConfig(),
		HistorySize:  30,
		TopProcesses: 10,
	}
}

type Option func(*Aggregator)

// WithGPU adds the probe's readings to every snapshot.
func WithGPU(probe gpu.Probe) Option {
	return func(a *Aggregator) {
		a.gpu = probe
	}
}

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator owns the baseline windows and builds a Snapshot per tick. It is
// driven by a single goroutine and is not safe for concurrent use.
type Aggregator struct {
	src      source.Source
	gpu      gpu.Probe
	detector *detector.Detector

	cpuHistory    *history.Window
	memoryHistory *history.Window

	osInfo  OSInfo
	cpuInfo CPUInfo

	topProcesses   int
	refreshTimeout time.Duration
	now            func() time.Time
	log            logger.Logger
}

// NewAggregator captures the source's static identity once; later snapshots
// reuse it verbatim.
func NewAggregator(src source.Source, cfg Config, opts ...Option) *Aggregator {
	a := &Aggregator{
		src:            src,
		detector:       detector.New(cfg.Baseline),
		cpuHistory:     history.New(cfg.HistorySize),
		memoryHistory:  history.New(cfg.HistorySize),
		osInfo:         osInfoFrom(src.OSInfo()),
		cpuInfo:        cpuInfoFrom(src.CPUInfo()),
		topProcesses:   cfg.TopProcesses,
		refreshTimeout: cfg.RefreshTimeout,
		now:            time.Now,
		log:            logger.Component("aggregator"),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Collect refreshes the source, evaluates both anomaly rules against the
// history as it stood before this tick, builds the snapshot and only then
// records the new samples.
func (a *Aggregator) Collect(ctx context.Context) *Snapshot {
	a.refresh(ctx)

	cpuUsage := finite(a.src.CPUUsage())
	memory := a.src.Memory()
	usedMB := memory.Used / bytesPerMB

	spike := a.detector.CPUSpike(cpuUsage, a.cpuHistory)
	leak := a.detector.MemoryLeak(usedMB, a.memoryHistory)

	processes := a.src.Processes()

	snap := &Snapshot{
		Timestamp:           uint64(a.now().Unix()),
		OSInfo:              a.osInfo,
		CPUInfo:             a.cpuInfo,
		CPUUsagePercent:     cpuUsage,
		CPUCores:            coresFrom(a.src.CoreUsages()),
		MemoryTotalMB:       memory.Total / bytesPerMB,
		MemoryUsedMB:        usedMB,
		MemoryFreeMB:        memory.Free / bytesPerMB,
		MemoryAvailableMB:   memory.Available / bytesPerMB,
		MemoryUsagePercent:  percent(memory.Used, memory.Total),
		SwapTotalMB:         memory.SwapTotal / bytesPerMB,
		SwapUsedMB:          memory.SwapUsed / bytesPerMB,
		Disks:               disksFrom(a.src.Disks()),
		NetworkInterfaces:   networksFrom(a.src.Networks()),
		ProcessCount:        len(processes),
		TopProcesses:        TopProcesses(processes, a.topProcesses),
		LoadAverage:         loadFrom(a.src.LoadAverage()),
		UptimeSeconds:       a.src.Uptime(),
		BootTime:            a.src.BootTime(),
		CPUSpikeDetected:    spike.Triggered,
		MemoryLeakSuspected: leak.Triggered,
	}

	if a.gpu != nil {
		snap.GPUs = gpusFrom(a.gpu.Stats())
	}

	a.cpuHistory.Push(cpuUsage)
	a.memoryHistory.Push(float64(usedMB))

	a.report(spike, cpuUsage)
	a.report(leak, float64(usedMB))

	return snap
}

func (a *Aggregator) refresh(ctx context.Context) {
	if a.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.refreshTimeout)
		defer cancel()
	}

	if err := a.src.Refresh(ctx); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			a.log.ErrorWithCode(coded).Msg("Metrics refresh incomplete, using last known values")
			return
		}
		a.log.Error().Err(err).Msg("Metrics refresh incomplete, using last known values")
	}
}

func (a *Aggregator) report(v detector.Verdict, current float64) {
	if !v.Triggered {
		return
	}

	a.log.Warn().
		Str("rule", v.Rule).
		Float64("current", current).
		Float64("baseline", v.Baseline).
		Float64("threshold", v.Threshold).
		Msg("Anomaly detected")
}

// History returns copies of the CPU and memory baseline windows.
func (a *Aggregator) History() (cpu, memory []float64) {
	return a.cpuHistory.Values(), a.memoryHistory.Values()
}

// TopProcesses returns at most n processes ordered by CPU usage, highest
// first. Equal usages keep their source order.
func TopProcesses(procs []source.Process, n int) []ProcessMetrics {
	sorted := slices.Clone(procs)
	slices.SortStableFunc(sorted, func(x, y source.Process) int {
		return cmp.Compare(finite(y.CPUUsage), finite(x.CPUUsage))
	})

	if n < len(sorted) {
		sorted = sorted[:n]
	}

	out := make([]ProcessMetrics, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, ProcessMetrics{
			PID:            p.PID,
			Name:           p.Name,
			CPUUsage:       finite(p.CPUUsage),
			MemoryMB:       p.MemoryBytes / bytesPerMB,
			DiskReadBytes:  p.ReadBytes,
			DiskWriteBytes: p.WriteBytes,
		})
	}

	return out
}

// DiskUsagePercent is (total-available)/total*100, or 0 for a zero-sized
// disk.
func DiskUsagePercent(total, available uint64) float64 {
	return percent(usedBytes(total, available), total)
}

func usedBytes(total, available uint64) uint64 {
	if available > total {
		return 0
	}

	return total - available
}

func percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}

	return float64(part) / float64(whole) * 100
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}

	return v
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}

	return s
}

func osInfoFrom(info source.OSInfo) OSInfo {
	return OSInfo{
		Name:           orUnknown(info.Name),
		KernelVersion:  orUnknown(info.KernelVersion),
		OSVersion:      orUnknown(info.OSVersion),
		LongOSVersion:  orUnknown(info.LongOSVersion),
		Hostname:       orUnknown(info.Hostname),
		DistributionID: orUnknown(info.DistributionID),
	}
}

func cpuInfoFrom(info source.CPUInfo) CPUInfo {
	return CPUInfo{
		Brand:             orUnknown(info.Brand),
		VendorID:          orUnknown(info.VendorID),
		FrequencyMHz:      info.FrequencyMHz,
		PhysicalCoreCount: info.PhysicalCores,
	}
}

func coresFrom(usages []float64) []CoreMetrics {
	cores := make([]CoreMetrics, 0, len(usages))
	for i, u := range usages {
		cores = append(cores, CoreMetrics{CoreID: i, UsagePercent: finite(u)})
	}

	return cores
}

func disksFrom(disks []source.Disk) []DiskMetrics {
	out := make([]DiskMetrics, 0, len(disks))
	for _, d := range disks {
		used := usedBytes(d.TotalBytes, d.AvailableBytes)
		out = append(out, DiskMetrics{
			Name:             d.Name,
			MountPoint:       d.MountPoint,
			FileSystem:       d.FileSystem,
			Kind:             d.Kind,
			IsRemovable:      d.Removable,
			TotalSpaceGB:     float64(d.TotalBytes) / bytesPerGB,
			AvailableSpaceGB: float64(d.AvailableBytes) / bytesPerGB,
			UsedSpaceGB:      float64(used) / bytesPerGB,
			UsagePercent:     DiskUsagePercent(d.TotalBytes, d.AvailableBytes),
		})
	}

	return out
}

func networksFrom(ifaces []source.Interface) []NetworkMetrics {
	out := make([]NetworkMetrics, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, NetworkMetrics{
			Interface:          i.Name,
			BytesReceived:      i.BytesRecv,
			BytesTransmitted:   i.BytesSent,
			PacketsReceived:    i.PacketsRecv,
			PacketsTransmitted: i.PacketsSent,
			ErrorsReceived:     i.ErrorsIn,
			ErrorsTransmitted:  i.ErrorsOut,
		})
	}

	return out
}

func loadFrom(l source.Load) LoadAverage {
	return LoadAverage{One: finite(l.One), Five: finite(l.Five), Fifteen: finite(l.Fifteen)}
}

func gpusFrom(stats []gpu.Stats) []GPUMetrics {
	out := make([]GPUMetrics, 0, len(stats))
	for _, s := range stats {
		out = append(out, GPUMetrics{
			Index:                    s.Index,
			UUID:                     s.UUID,
			Name:                     s.Name,
			TemperatureC:             s.TemperatureC,
			FanSpeedPercent:          s.FanSpeedPercent,
			PowerUsageWatts:          s.PowerUsageWatts,
			PowerLimitWatts:          s.PowerLimitWatts,
			UtilizationPercent:       s.UtilizationPercent,
			MemoryUtilizationPercent: s.MemoryUtilizationPercent,
			MemoryTotalMB:            s.MemoryTotalBytes / bytesPerMB,
			MemoryUsedMB:             s.MemoryUsedBytes / bytesPerMB,
		})
	}

	return out
}
