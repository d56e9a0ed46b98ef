package telemetry

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/heartbeat/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ruleCPUSpike   = "cpu_spike"
	ruleMemoryLeak = "memory_leak"
)

type metricSet struct {
	snapshots     prometheus.Counter
	lastTimestamp prometheus.Gauge
	anomalies     *prometheus.CounterVec

	cpuUsage     prometheus.Gauge
	coreUsage    *seriesGauge
	memoryMB     *prometheus.GaugeVec
	memoryUsage  prometheus.Gauge
	diskUsage    *seriesGauge
	diskFreeGB   *seriesGauge
	netBytes     *seriesGauge
	netErrors    *seriesGauge
	processCount prometheus.Gauge
	loadAverage  *prometheus.GaugeVec
	uptime       prometheus.Gauge

	gpuTemperature *seriesGauge
	gpuUtilization *seriesGauge
	gpuPower       *seriesGauge
	gpuMemoryMB    *seriesGauge
}

func newMetricSet(reg prometheus.Registerer) *metricSet {
	factory := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	gaugeVec := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	series := func(subsystem, name, help string, labels ...string) *seriesGauge {
		return newSeriesGauge(gaugeVec(subsystem, name, help, labels...))
	}

	return &metricSet{
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Total number of snapshots recorded.",
		}),
		lastTimestamp: gauge("last_snapshot_timestamp_seconds", "Unix time of the latest snapshot."),
		anomalies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Snapshots that raised an anomaly flag, by rule.",
		}, []string{"rule"}),

		cpuUsage:     gauge("cpu_usage_percent", "Global CPU usage."),
		coreUsage:    series("cpu", "core_usage_percent", "Per-core CPU usage.", "core"),
		memoryMB:     gaugeVec("memory", "megabytes", "Memory and swap by kind.", "kind"),
		memoryUsage:  gauge("memory_usage_percent", "Used memory as a share of total."),
		diskUsage:    series("disk", "usage_percent", "Disk usage by mount point.", "name", "mount_point", "kind"),
		diskFreeGB:   series("disk", "available_gigabytes", "Available disk space by mount point.", "name", "mount_point", "kind"),
		netBytes:     series("network", "bytes", "Bytes since boot by interface and direction.", "interface", "direction"),
		netErrors:    series("network", "errors", "Errors since boot by interface and direction.", "interface", "direction"),
		processCount: gauge("process_count", "Number of processes."),
		loadAverage:  gaugeVec("", "load_average", "System load average.", "period"),
		uptime:       gauge("uptime_seconds", "Seconds since boot."),

		gpuTemperature: series("gpu", "temperature_celsius", "GPU temperature.", "index", "name"),
		gpuUtilization: series("gpu", "utilization_percent", "GPU utilization.", "index", "name"),
		gpuPower:       series("gpu", "power_usage_watts", "GPU power draw.", "index", "name"),
		gpuMemoryMB:    series("gpu", "memory_used_megabytes", "GPU memory in use.", "index", "name"),
	}
}

func (c *metricSet) update(snap *snapshot.Snapshot) {
	c.snapshots.Inc()
	c.lastTimestamp.Set(float64(snap.Timestamp))

	if snap.CPUSpikeDetected {
		c.anomalies.WithLabelValues(ruleCPUSpike).Inc()
	}
	if snap.MemoryLeakSuspected {
		c.anomalies.WithLabelValues(ruleMemoryLeak).Inc()
	}

	c.cpuUsage.Set(snap.CPUUsagePercent)
	for _, core := range snap.CPUCores {
		c.coreUsage.set(core.UsagePercent, strconv.Itoa(core.CoreID))
	}
	c.coreUsage.sweep()

	c.memoryMB.WithLabelValues("total").Set(float64(snap.MemoryTotalMB))
	c.memoryMB.WithLabelValues("used").Set(float64(snap.MemoryUsedMB))
	c.memoryMB.WithLabelValues("free").Set(float64(snap.MemoryFreeMB))
	c.memoryMB.WithLabelValues("available").Set(float64(snap.MemoryAvailableMB))
	c.memoryMB.WithLabelValues("swap_total").Set(float64(snap.SwapTotalMB))
	c.memoryMB.WithLabelValues("swap_used").Set(float64(snap.SwapUsedMB))
	c.memoryUsage.Set(snap.MemoryUsagePercent)

	// Unmounted disks and removed interfaces must not linger.
	for _, d := range snap.Disks {
		c.diskUsage.set(d.UsagePercent, d.Name, d.MountPoint, d.Kind)
		c.diskFreeGB.set(d.AvailableSpaceGB, d.Name, d.MountPoint, d.Kind)
	}
	c.diskUsage.sweep()
	c.diskFreeGB.sweep()

	for _, n := range snap.NetworkInterfaces {
		c.netBytes.set(float64(n.BytesReceived), n.Interface, "received")
		c.netBytes.set(float64(n.BytesTransmitted), n.Interface, "transmitted")
		c.netErrors.set(float64(n.ErrorsReceived), n.Interface, "received")
		c.netErrors.set(float64(n.ErrorsTransmitted), n.Interface, "transmitted")
	}
	c.netBytes.sweep()
	c.netErrors.sweep()

	c.processCount.Set(float64(snap.ProcessCount))
	c.loadAverage.WithLabelValues("1m").Set(snap.LoadAverage.One)
	c.loadAverage.WithLabelValues("5m").Set(snap.LoadAverage.Five)
	c.loadAverage.WithLabelValues("15m").Set(snap.LoadAverage.Fifteen)
	c.uptime.Set(float64(snap.UptimeSeconds))

	for _, g := range snap.GPUs {
		idx := strconv.Itoa(g.Index)
		c.gpuTemperature.set(float64(g.TemperatureC), idx, g.Name)
		c.gpuUtilization.set(float64(g.UtilizationPercent), idx, g.Name)
		c.gpuPower.set(g.PowerUsageWatts, idx, g.Name)
		c.gpuMemoryMB.set(float64(g.MemoryUsedMB), idx, g.Name)
	}
	c.gpuTemperature.sweep()
	c.gpuUtilization.sweep()
	c.gpuPower.sweep()
	c.gpuMemoryMB.sweep()
}

// seriesGauge is a GaugeVec whose label sets follow the latest snapshot.
// sweep deletes only the series not set since the previous sweep; the vector
// is never reset.
type seriesGauge struct {
	*prometheus.GaugeVec
	live    map[string][]string
	current map[string][]string
}

func newSeriesGauge(vec *prometheus.GaugeVec) *seriesGauge {
	return &seriesGauge{
		GaugeVec: vec,
		live:     make(map[string][]string),
		current:  make(map[string][]string),
	}
}

func (g *seriesGauge) set(value float64, labels ...string) {
	g.WithLabelValues(labels...).Set(value)
	g.current[strings.Join(labels, "\xff")] = labels
}

func (g *seriesGauge) sweep() {
	for key, labels := range g.live {
		if _, ok := g.current[key]; !ok {
			g.DeleteLabelValues(labels...)
		}
	}

	g.live, g.current = g.current, g.live
	clear(g.current)
}
