package snapshot_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/gpu"
	"codeberg.org/mutker/heartbeat/internal/snapshot"
	"codeberg.org/mutker/heartbeat/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

type fakeSource struct {
	refreshes  int
	refreshErr error

	cpu       float64
	cores     []float64
	memory    source.Memory
	disks     []source.Disk
	networks  []source.Interface
	processes []source.Process
	load      source.Load
	uptime    uint64
	bootTime  uint64
	osInfo    source.OSInfo
	cpuInfo   source.CPUInfo
}

func (f *fakeSource) Refresh(context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSource) CPUUsage() float64            { return f.cpu }
func (f *fakeSource) CoreUsages() []float64        { return f.cores }
func (f *fakeSource) Memory() source.Memory        { return f.memory }
func (f *fakeSource) Disks() []source.Disk         { return f.disks }
func (f *fakeSource) Networks() []source.Interface { return f.networks }
func (f *fakeSource) Processes() []source.Process  { return f.processes }
func (f *fakeSource) LoadAverage() source.Load     { return f.load }
func (f *fakeSource) Uptime() uint64               { return f.uptime }
func (f *fakeSource) BootTime() uint64             { return f.bootTime }
func (f *fakeSource) OSInfo() source.OSInfo        { return f.osInfo }
func (f *fakeSource) CPUInfo() source.CPUInfo      { return f.cpuInfo }

type fakeProbe struct {
	stats []gpu.Stats
}

func (p *fakeProbe) Stats() []gpu.Stats { return p.stats }
func (p *fakeProbe) Shutdown() error    { return nil }

func newFakeSource() *fakeSource {
	return &fakeSource{
		cpu:   12.5,
		cores: []float64{10, 15},
		memory: source.Memory{
			Total:     16384 * mb,
			Used:      4096 * mb,
			Free:      8192 * mb,
			Available: 12288 * mb,
			SwapTotal: 2048 * mb,
			SwapUsed:  512*mb + 1,
		},
		disks: []source.Disk{{
			Name:           "nvme0n1p2",
			MountPoint:     "/",
			FileSystem:     "ext4",
			Kind:           "SSD",
			TotalBytes:     100 << 30,
			AvailableBytes: 25 << 30,
		}},
		networks: []source.Interface{{
			Name:        "eth0",
			BytesRecv:   1000,
			BytesSent:   2000,
			PacketsRecv: 10,
			PacketsSent: 20,
			ErrorsIn:    1,
			ErrorsOut:   2,
		}},
		processes: []source.Process{
			{PID: 1, Name: "init", CPUUsage: 0.1, MemoryBytes: 8 * mb},
			{PID: 42, Name: "worker", CPUUsage: 55, MemoryBytes: 300*mb + 5, ReadBytes: 7, WriteBytes: 9},
		},
		load:     source.Load{One: 0.5, Five: 0.4, Fifteen: 0.3},
		uptime:   3600,
		bootTime: 1700000000,
		osInfo: source.OSInfo{
			Name:           "Arch Linux",
			KernelVersion:  "6.6.1",
			OSVersion:      "rolling",
			LongOSVersion:  "Linux rolling Arch Linux",
			Hostname:       "box",
			DistributionID: "arch",
		},
		cpuInfo: source.CPUInfo{Brand: "AMD Ryzen 7", VendorID: "AuthenticAMD", FrequencyMHz: 3800, PhysicalCores: 8},
	}
}

func fixedClock() time.Time {
	return time.Unix(1700003600, 0)
}

func newAggregator(src source.Source, opts ...snapshot.Option) *snapshot.Aggregator {
	opts = append([]snapshot.Option{snapshot.WithClock(fixedClock)}, opts...)
	return snapshot.NewAggregator(src, snapshot.DefaultConfig(), opts...)
}

func TestCollectDerivedFields(t *testing.T) {
	src := newFakeSource()
	agg := newAggregator(src)

	snap := agg.Collect(context.Background())
	require.NotNil(t, snap)

	assert.Equal(t, 1, src.refreshes)
	assert.Equal(t, uint64(1700003600), snap.Timestamp)
	assert.InDelta(t, 12.5, snap.CPUUsagePercent, 1e-9)
	assert.Equal(t, []snapshot.CoreMetrics{{CoreID: 0, UsagePercent: 10}, {CoreID: 1, UsagePercent: 15}}, snap.CPUCores)

	assert.Equal(t, uint64(16384), snap.MemoryTotalMB)
	assert.Equal(t, uint64(4096), snap.MemoryUsedMB)
	assert.Equal(t, uint64(8192), snap.MemoryFreeMB)
	assert.Equal(t, uint64(12288), snap.MemoryAvailableMB)
	assert.InDelta(t, 25.0, snap.MemoryUsagePercent, 1e-9)
	assert.Equal(t, uint64(2048), snap.SwapTotalMB)
	assert.Equal(t, uint64(512), snap.SwapUsedMB)

	require.Len(t, snap.Disks, 1)
	disk := snap.Disks[0]
	assert.Equal(t, "nvme0n1p2", disk.Name)
	assert.Equal(t, "SSD", disk.Kind)
	assert.InDelta(t, 100.0, disk.TotalSpaceGB, 1e-9)
	assert.InDelta(t, 25.0, disk.AvailableSpaceGB, 1e-9)
	assert.InDelta(t, 75.0, disk.UsedSpaceGB, 1e-9)
	assert.InDelta(t, 75.0, disk.UsagePercent, 1e-9)

	require.Len(t, snap.NetworkInterfaces, 1)
	assert.Equal(t, snapshot.NetworkMetrics{
		Interface:          "eth0",
		BytesReceived:      1000,
		BytesTransmitted:   2000,
		PacketsReceived:    10,
		PacketsTransmitted: 20,
		ErrorsReceived:     1,
		ErrorsTransmitted:  2,
	}, snap.NetworkInterfaces[0])

	assert.Equal(t, 2, snap.ProcessCount)
	require.Len(t, snap.TopProcesses, 2)
	assert.Equal(t, int32(42), snap.TopProcesses[0].PID)
	assert.Equal(t, uint64(300), snap.TopProcesses[0].MemoryMB)
	assert.Equal(t, uint64(7), snap.TopProcesses[0].DiskReadBytes)
	assert.Equal(t, uint64(9), snap.TopProcesses[0].DiskWriteBytes)

	assert.Equal(t, snapshot.LoadAverage{One: 0.5, Five: 0.4, Fifteen: 0.3}, snap.LoadAverage)
	assert.Equal(t, uint64(3600), snap.UptimeSeconds)
	assert.Equal(t, uint64(1700000000), snap.BootTime)
	assert.Equal(t, "Arch Linux", snap.OSInfo.Name)
	assert.Equal(t, 8, snap.CPUInfo.PhysicalCoreCount)
	assert.Nil(t, snap.GPUs)
	assert.False(t, snap.CPUSpikeDetected)
	assert.False(t, snap.MemoryLeakSuspected)
}

func TestCollectZeroSizedDisk(t *testing.T) {
	src := newFakeSource()
	src.disks = []source.Disk{{Name: "loop0", MountPoint: "/snap/core", Kind: "Unknown"}}
	src.memory = source.Memory{}

	snap := newAggregator(src).Collect(context.Background())

	require.Len(t, snap.Disks, 1)
	assert.Equal(t, 0.0, snap.Disks[0].UsagePercent)
	assert.Equal(t, 0.0, snap.Disks[0].UsedSpaceGB)
	assert.Equal(t, 0.0, snap.MemoryUsagePercent)
}

func TestDiskUsagePercent(t *testing.T) {
	assert.Equal(t, 0.0, snapshot.DiskUsagePercent(0, 0))
	assert.Equal(t, 0.0, snapshot.DiskUsagePercent(100, 100))
	assert.Equal(t, 100.0, snapshot.DiskUsagePercent(100, 0))
	assert.InDelta(t, 40.0, snapshot.DiskUsagePercent(50, 30), 1e-9)
}

func TestTopProcesses(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 25} {
		procs := make([]source.Process, n)
		for i := range procs {
			procs[i] = source.Process{PID: int32(i), CPUUsage: float64((i * 7) % 13)}
		}

		top := snapshot.TopProcesses(procs, 10)
		assert.Len(t, top, min(10, n), "n=%d", n)

		for i := 1; i < len(top); i++ {
			assert.GreaterOrEqual(t, top[i-1].CPUUsage, top[i].CPUUsage, "n=%d i=%d", n, i)
		}
	}
}

func TestTopProcessesStable(t *testing.T) {
	procs := []source.Process{
		{PID: 3, CPUUsage: 1},
		{PID: 1, CPUUsage: 5},
		{PID: 2, CPUUsage: 1},
		{PID: 4, CPUUsage: 5},
	}

	top := snapshot.TopProcesses(procs, 10)
	pids := make([]int32, 0, len(top))
	for _, p := range top {
		pids = append(pids, p.PID)
	}

	assert.Equal(t, []int32{1, 4, 3, 2}, pids)
	assert.Equal(t, int32(3), procs[0].PID, "input must not be reordered")
}

func TestCollectTopProcessesCount(t *testing.T) {
	src := newFakeSource()
	src.processes = nil
	for i := 0; i < 15; i++ {
		src.processes = append(src.processes, source.Process{PID: int32(i), CPUUsage: float64(i)})
	}

	snap := newAggregator(src).Collect(context.Background())

	assert.Equal(t, 15, snap.ProcessCount)
	require.Len(t, snap.TopProcesses, 10)
	assert.Equal(t, int32(14), snap.TopProcesses[0].PID)
	assert.Equal(t, int32(5), snap.TopProcesses[9].PID)
}

func TestUnknownIdentity(t *testing.T) {
	src := newFakeSource()
	src.osInfo = source.OSInfo{Name: "Linux"}
	src.cpuInfo = source.CPUInfo{}

	snap := newAggregator(src).Collect(context.Background())

	assert.Equal(t, "Linux", snap.OSInfo.Name)
	assert.Equal(t, snapshot.Unknown, snap.OSInfo.KernelVersion)
	assert.Equal(t, snapshot.Unknown, snap.OSInfo.OSVersion)
	assert.Equal(t, snapshot.Unknown, snap.OSInfo.LongOSVersion)
	assert.Equal(t, snapshot.Unknown, snap.OSInfo.Hostname)
	assert.Equal(t, snapshot.Unknown, snap.OSInfo.DistributionID)
	assert.Equal(t, snapshot.Unknown, snap.CPUInfo.Brand)
	assert.Equal(t, snapshot.Unknown, snap.CPUInfo.VendorID)
	assert.Zero(t, snap.CPUInfo.FrequencyMHz)
	assert.Zero(t, snap.CPUInfo.PhysicalCoreCount)
}

func TestStaticIdentityCapturedOnce(t *testing.T) {
	src := newFakeSource()
	agg := newAggregator(src)

	src.osInfo.Hostname = "renamed"
	snap := agg.Collect(context.Background())

	assert.Equal(t, "box", snap.OSInfo.Hostname)
}

func TestCollectRefreshFailure(t *testing.T) {
	src := newFakeSource()
	src.refreshErr = errors.New().New(errors.ErrUnavailable)

	snap := newAggregator(src).Collect(context.Background())

	require.NotNil(t, snap)
	assert.Equal(t, uint64(4096), snap.MemoryUsedMB)
}

func TestCollectRefreshTimeout(t *testing.T) {
	src := &blockingSource{fakeSource: newFakeSource()}
	cfg := snapshot.DefaultConfig()
	cfg.RefreshTimeout = 10 * time.Millisecond

	agg := snapshot.NewAggregator(src, cfg)

	done := make(chan *snapshot.Snapshot, 1)
	go func() { done <- agg.Collect(context.Background()) }()

	select {
	case snap := <-done:
		assert.InDelta(t, 12.5, snap.CPUUsagePercent, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("collect did not honour the refresh timeout")
	}
}

type blockingSource struct {
	*fakeSource
}

func (b *blockingSource) Refresh(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCollectWithGPU(t *testing.T) {
	probe := &fakeProbe{stats: []gpu.Stats{{
		Index:            0,
		UUID:             "GPU-1234",
		Name:             "NVIDIA GeForce RTX 3080",
		TemperatureC:     61,
		PowerUsageWatts:  220.5,
		MemoryTotalBytes: 10240 * mb,
		MemoryUsedBytes:  1024 * mb,
	}}}

	snap := newAggregator(newFakeSource(), snapshot.WithGPU(probe)).Collect(context.Background())

	require.Len(t, snap.GPUs, 1)
	assert.Equal(t, "GPU-1234", snap.GPUs[0].UUID)
	assert.Equal(t, uint32(61), snap.GPUs[0].TemperatureC)
	assert.Equal(t, uint64(10240), snap.GPUs[0].MemoryTotalMB)
	assert.Equal(t, uint64(1024), snap.GPUs[0].MemoryUsedMB)
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	src := newFakeSource()
	snap := newAggregator(src).Collect(context.Background())

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded snapshot.Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *snap, decoded)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "gpus")
	assert.Contains(t, fields, "cpu_spike_detected")
	assert.Contains(t, fields, "memory_leak_suspected")
}

func TestSpikeEndToEnd(t *testing.T) {
	src := newFakeSource()
	src.cpu = 10.0
	agg := newAggregator(src)

	for i := 0; i < 10; i++ {
		snap := agg.Collect(context.Background())
		assert.False(t, snap.CPUSpikeDetected, "tick %d", i)
	}

	src.cpu = 25.0
	snap := agg.Collect(context.Background())
	assert.True(t, snap.CPUSpikeDetected)

	cpu, memory := agg.History()
	require.Len(t, cpu, 11)
	assert.Equal(t, 25.0, cpu[10])
	assert.Len(t, memory, 11)
}

func TestLeakEndToEnd(t *testing.T) {
	src := newFakeSource()
	src.memory.Used = 1000 * mb
	agg := newAggregator(src)

	for i := 0; i < 10; i++ {
		assert.False(t, agg.Collect(context.Background()).MemoryLeakSuspected)
	}

	src.memory.Used = 1199 * mb
	assert.False(t, agg.Collect(context.Background()).MemoryLeakSuspected)
}

func TestHistoryBounded(t *testing.T) {
	src := newFakeSource()
	agg := newAggregator(src)

	for i := 0; i < 45; i++ {
		src.cpu = float64(i)
		agg.Collect(context.Background())
	}

	cpu, memory := agg.History()
	assert.Len(t, cpu, 30)
	assert.Len(t, memory, 30)
	assert.Equal(t, 15.0, cpu[0])
	assert.Equal(t, 44.0, cpu[29])
}
