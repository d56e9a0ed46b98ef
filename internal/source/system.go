package source

import (
	"context"
	"strings"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// System is the gopsutil-backed Source. It is not safe for concurrent use.
type System struct {
	log logger.Logger

	cpuUsage  float64
	cores     []float64
	memory    Memory
	disks     []Disk
	networks  []Interface
	processes []Process
	load      Load
	uptime    uint64
	bootTime  uint64

	osInfo  OSInfo
	cpuInfo CPUInfo

	// Process handles are kept across refreshes so CPU usage is measured
	// since the previous refresh rather than over the process lifetime.
	tracked map[int32]*process.Process
	blocks  *blockIndex
}

// NewSystem reads the static host identity and returns a source ready for
// its first Refresh. Identity fields that cannot be read are left empty.
func NewSystem(ctx context.Context) *System {
	s := &System{
		log:     logger.Component("source"),
		tracked: make(map[int32]*process.Process),
		blocks:  newBlockIndex(),
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to read host identity")
	} else {
		s.osInfo = osInfoFrom(info)
	}

	if infos, err := cpu.InfoWithContext(ctx); err != nil || len(infos) == 0 {
		s.log.Warn().Err(err).Msg("Failed to read CPU identity")
	} else {
		s.cpuInfo.Brand = strings.TrimSpace(infos[0].ModelName)
		s.cpuInfo.VendorID = infos[0].VendorID
		s.cpuInfo.FrequencyMHz = uint64(infos[0].Mhz)
	}

	if physical, err := cpu.CountsWithContext(ctx, false); err != nil {
		s.log.Warn().Err(err).Msg("Failed to read physical core count")
	} else {
		s.cpuInfo.PhysicalCores = physical
	}

	return s
}

func osInfoFrom(info *host.InfoStat) OSInfo {
	title := cases.Title(language.English)

	name := title.String(info.Platform)
	if name == "" {
		name = title.String(info.OS)
	}

	var long []string
	for _, part := range []string{title.String(info.OS), info.PlatformVersion, title.String(info.Platform)} {
		if part != "" {
			long = append(long, part)
		}
	}

	return OSInfo{
		Name:           name,
		KernelVersion:  info.KernelVersion,
		OSVersion:      info.PlatformVersion,
		LongOSVersion:  strings.Join(long, " "),
		Hostname:       info.Hostname,
		DistributionID: info.Platform,
	}
}

// Refresh re-reads every counter. A failing subsystem keeps its previous
// values; all failures are reported together.
func (s *System) Refresh(ctx context.Context) error {
	errFactory := errors.New()

	steps := []struct {
		code errors.ErrorCode
		fn   func(context.Context) error
	}{
		{ErrCPUReadFailed, s.refreshCPU},
		{ErrMemReadFailed, s.refreshMemory},
		{ErrDiskReadFailed, s.refreshDisks},
		{ErrNetReadFailed, s.refreshNetworks},
		{ErrProcReadFailed, s.refreshProcesses},
		{ErrLoadReadFailed, s.refreshLoad},
		{ErrHostReadFailed, s.refreshHost},
	}

	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, errFactory.Wrap(errors.ErrTimeout, err))
			break
		}
		if err := step.fn(ctx); err != nil {
			errs = append(errs, errFactory.Wrap(step.code, err))
		}
	}

	if len(errs) > 0 {
		return errFactory.Wrap(ErrRefreshFailed, errors.Join(errs...))
	}

	return nil
}

func (s *System) refreshCPU(ctx context.Context) error {
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	if len(total) > 0 {
		s.cpuUsage = total[0]
	}

	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		return err
	}
	s.cores = perCore

	return nil
}

func (s *System) refreshMemory(ctx context.Context) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}

	s.memory.Total = vm.Total
	s.memory.Used = vm.Used
	s.memory.Free = vm.Free
	s.memory.Available = vm.Available

	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return err
	}

	s.memory.SwapTotal = swap.Total
	s.memory.SwapUsed = swap.Used

	return nil
}

func (s *System) refreshDisks(ctx context.Context) error {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}

	disks := make([]Disk, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			s.log.Debug().Err(err).Str("mount_point", p.Mountpoint).Msg("Skipping unreadable mount")
			continue
		}

		dev := s.blocks.lookup(p.Device)
		disks = append(disks, Disk{
			Name:           p.Device,
			MountPoint:     p.Mountpoint,
			FileSystem:     p.Fstype,
			Kind:           dev.kind,
			Removable:      dev.removable,
			TotalBytes:     usage.Total,
			AvailableBytes: usage.Free,
		})
	}
	s.disks = disks

	return nil
}

func (s *System) refreshNetworks(ctx context.Context) error {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return err
	}

	networks := make([]Interface, 0, len(counters))
	for _, c := range counters {
		networks = append(networks, Interface{
			Name:        c.Name,
			BytesRecv:   c.BytesRecv,
			BytesSent:   c.BytesSent,
			PacketsRecv: c.PacketsRecv,
			PacketsSent: c.PacketsSent,
			ErrorsIn:    c.Errin,
			ErrorsOut:   c.Errout,
		})
	}
	s.networks = networks

	return nil
}

func (s *System) refreshProcesses(ctx context.Context) error {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int32]struct{}, len(pids))
	procs := make([]Process, 0, len(pids))
	for _, pid := range pids {
		p, ok := s.tracked[pid]
		if !ok {
			if p, err = process.NewProcessWithContext(ctx, pid); err != nil {
				continue
			}
			s.tracked[pid] = p
		}

		info, err := readProcess(ctx, p)
		if err != nil {
			// Exited between listing and reading.
			delete(s.tracked, pid)
			continue
		}

		seen[pid] = struct{}{}
		procs = append(procs, info)
	}

	for pid := range s.tracked {
		if _, ok := seen[pid]; !ok {
			delete(s.tracked, pid)
		}
	}
	s.processes = procs

	return nil
}

func readProcess(ctx context.Context, p *process.Process) (Process, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return Process{}, err
	}

	// Zero on the first sighting of a process.
	usage, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return Process{}, err
	}

	info := Process{
		PID:      p.Pid,
		Name:     name,
		CPUUsage: usage,
	}

	if m, err := p.MemoryInfoWithContext(ctx); err == nil {
		info.MemoryBytes = m.RSS
	}

	// Requires permissions for other users' processes.
	if io, err := p.IOCountersWithContext(ctx); err == nil {
		info.ReadBytes = io.ReadBytes
		info.WriteBytes = io.WriteBytes
	}

	return info, nil
}

func (s *System) refreshLoad(ctx context.Context) error {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return err
	}

	s.load = Load{One: avg.Load1, Five: avg.Load5, Fifteen: avg.Load15}

	return nil
}

func (s *System) refreshHost(ctx context.Context) error {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return err
	}

	bootTime, err := host.BootTimeWithContext(ctx)
	if err != nil {
		return err
	}

	s.uptime = uptime
	s.bootTime = bootTime

	return nil
}

func (s *System) CPUUsage() float64     { return s.cpuUsage }
func (s *System) CoreUsages() []float64 { return s.cores }
func (s *System) Memory() Memory        { return s.memory }
func (s *System) Disks() []Disk         { return s.disks }
func (s *System) Networks() []Interface { return s.networks }
func (s *System) Processes() []Process  { return s.processes }
func (s *System) LoadAverage() Load     { return s.load }
func (s *System) Uptime() uint64        { return s.uptime }
func (s *System) BootTime() uint64      { return s.bootTime }
func (s *System) OSInfo() OSInfo        { return s.osInfo }
func (s *System) CPUInfo() CPUInfo      { return s.cpuInfo }
func (s *System) TrackedProcesses() int { return len(s.tracked) }
