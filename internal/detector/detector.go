// Package detector evaluates rolling-baseline anomaly rules against a
// history window.
package detector

import (
	"math"

	"codeberg.org/mutker/heartbeat/internal/history"
)

// BaselineConfig holds the detection parameters. It is set once at startup.
type BaselineConfig struct {
	// BaselineSamples is the window length required before a rule can fire.
	BaselineSamples int
	// SpikeMultiplier scales the CPU baseline into the spike threshold.
	SpikeMultiplier float64
	// LeakGrowthFactor scales the memory baseline into the leak threshold.
	LeakGrowthFactor float64
	// SpikeFloor is the CPU baseline, in percent, at or below which spikes
	// are never reported.
	SpikeFloor float64
}

func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfig{
		BaselineSamples:  10,
		SpikeMultiplier:  2.0,
		LeakGrowthFactor: 1.2,
		SpikeFloor:       5.0,
	}
}

// Compare reports whether a sample breaches a threshold.
type Compare func(current, threshold float64) bool

// GreaterThan is the comparison both built-in rules use.
func GreaterThan(current, threshold float64) bool {
	return current > threshold
}

// Rule is a rolling-baseline rule: once the window holds MinSamples, the
// sample is compared against mean*Multiplier. Guard, when set, must also hold
// for the rule to fire.
type Rule struct {
	Name       string
	MinSamples int
	Multiplier float64
	Compare    Compare
	// FloorThreshold rounds the threshold down to a whole unit.
	FloorThreshold bool
	Guard          func(current, baseline float64) bool
}

// Verdict is the outcome of one rule evaluation.
type Verdict struct {
	Rule      string
	Active    bool
	Triggered bool
	Baseline  float64
	Threshold float64
}

// Evaluate checks current against the window. The window must not already
// contain current.
func (r Rule) Evaluate(current float64, window history.Reader) Verdict {
	v := Verdict{Rule: r.Name}
	if window.Len() < r.MinSamples || window.Len() == 0 {
		return v
	}

	v.Active = true
	v.Baseline = window.Mean()
	v.Threshold = v.Baseline * r.Multiplier
	if r.FloorThreshold {
		v.Threshold = math.Floor(v.Threshold)
	}

	compare := r.Compare
	if compare == nil {
		compare = GreaterThan
	}

	v.Triggered = compare(current, v.Threshold)
	if v.Triggered && r.Guard != nil {
		v.Triggered = r.Guard(current, v.Baseline)
	}

	return v
}

// Detector holds the CPU spike and memory leak rules built from one
// BaselineConfig.
type Detector struct {
	cfg   BaselineConfig
	spike Rule
	leak  Rule
}

func New(cfg BaselineConfig) *Detector {
	return &Detector{
		cfg: cfg,
		spike: Rule{
			Name:       "cpu_spike",
			MinSamples: cfg.BaselineSamples,
			Multiplier: cfg.SpikeMultiplier,
			Compare:    GreaterThan,
			Guard: func(_, baseline float64) bool {
				return baseline > cfg.SpikeFloor
			},
		},
		leak: Rule{
			Name:           "memory_leak",
			MinSamples:     cfg.BaselineSamples,
			Multiplier:     cfg.LeakGrowthFactor,
			Compare:        GreaterThan,
			FloorThreshold: true,
			Guard: func(current, baseline float64) bool {
				return current > baseline
			},
		},
	}
}

func (d *Detector) Config() BaselineConfig {
	return d.cfg
}

// CPUSpike evaluates a CPU usage percent against its window.
func (d *Detector) CPUSpike(current float64, window history.Reader) Verdict {
	return d.spike.Evaluate(current, window)
}

// MemoryLeak evaluates a used-memory sample in whole megabytes against its
// window.
func (d *Detector) MemoryLeak(currentMB uint64, window history.Reader) Verdict {
	return d.leak.Evaluate(float64(currentMB), window)
}
