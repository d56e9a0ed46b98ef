package gpu

import (
	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsToWatts = 1000

type device struct {
	index  int
	handle nvml.Device
	uuid   string
	name   string
}

// Monitor reads every NVML device found at startup.
type Monitor struct {
	nvml    nvmlController
	devices []device
	log     logger.Logger
}

// New initializes NVML. It fails when the driver is missing or no device is
// present; callers treat that as "no GPU section".
func New() (*Monitor, error) {
	return newMonitor(&nvmlWrapper{})
}

func newMonitor(ctl nvmlController) (*Monitor, error) {
	errFactory := errors.New()
	m := &Monitor{nvml: ctl, log: logger.Component("gpu")}

	if err := ctl.Initialize(); err != nil {
		return nil, err
	}

	count, err := ctl.GetDeviceCount()
	if err != nil {
		m.shutdownQuietly()
		return nil, err
	}
	if count == 0 {
		m.shutdownQuietly()
		return nil, errFactory.New(ErrDeviceNotFound)
	}

	for i := 0; i < count; i++ {
		handle, err := ctl.GetDevice(i)
		if err != nil {
			m.log.Warn().Err(err).Int("index", i).Msg("Skipping GPU")
			continue
		}

		d := device{index: i, handle: handle}
		if name, ret := handle.GetName(); IsNVMLSuccess(ret) {
			d.name = name
		}
		if uuid, ret := handle.GetUUID(); IsNVMLSuccess(ret) {
			d.uuid = uuid
		}

		m.log.Info().Str("name", d.name).Str("uuid", d.uuid).Msg("Detected GPU")
		m.devices = append(m.devices, d)
	}

	if len(m.devices) == 0 {
		m.shutdownQuietly()
		return nil, errFactory.WithMessage(ErrDeviceInfoFailed, "no readable GPU")
	}

	return m, nil
}

func (m *Monitor) shutdownQuietly() {
	if err := m.nvml.Shutdown(); err != nil {
		m.log.Debug().Err(err).Msg("NVML shutdown failed")
	}
}

// Stats reads all devices. Unsupported readings are left at zero.
func (m *Monitor) Stats() []Stats {
	out := make([]Stats, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, m.read(d))
	}

	return out
}

func (m *Monitor) read(d device) Stats {
	s := Stats{Index: d.index, UUID: d.uuid, Name: d.name}

	if temp, ret := d.handle.GetTemperature(nvml.TEMPERATURE_GPU); IsNVMLSuccess(ret) {
		s.TemperatureC = temp
	}
	if fan, ret := d.handle.GetFanSpeed(); IsNVMLSuccess(ret) {
		s.FanSpeedPercent = fan
	}
	if power, ret := d.handle.GetPowerUsage(); IsNVMLSuccess(ret) {
		s.PowerUsageWatts = milliWatts(power)
	}
	if limit, ret := d.handle.GetPowerManagementLimit(); IsNVMLSuccess(ret) {
		s.PowerLimitWatts = milliWatts(limit)
	}
	if util, ret := d.handle.GetUtilizationRates(); IsNVMLSuccess(ret) {
		s.UtilizationPercent = util.Gpu
		s.MemoryUtilizationPercent = util.Memory
	}
	if mem, ret := d.handle.GetMemoryInfo(); IsNVMLSuccess(ret) {
		s.MemoryTotalBytes = mem.Total
		s.MemoryUsedBytes = mem.Used
	} else {
		m.log.Debug().Int("index", d.index).Str("error", nvml.ErrorString(ret)).Msg("GPU memory info unavailable")
	}

	return s
}

func milliWatts(mw uint32) float64 {
	return float64(mw) / milliWattsToWatts
}

func (m *Monitor) Shutdown() error {
	if err := m.nvml.Shutdown(); err != nil {
		return errors.New().Wrap(errors.ErrShutdownGPU, err)
	}

	return nil
}
