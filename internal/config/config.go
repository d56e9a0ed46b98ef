package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval         = time.Second
	DefaultWarmup           = 500 * time.Millisecond
	DefaultHistorySize      = 30
	DefaultBaselineSamples  = 10
	DefaultSpikeMultiplier  = 2.0
	DefaultLeakGrowthFactor = 1.2
	DefaultSpikeFloor       = 5.0
	DefaultTopProcesses     = 10
	DefaultLogLevel         = string(LogLevelWarning)
	DefaultMetricsDB        = "/var/lib/heartbeat/metrics.db"
	DefaultBatchSize        = 30
	DefaultBatchTimeout     = 10 * time.Second
	DefaultTelemetryListen  = ":9464"

	defaultEnvPrefix = "HEARTBEAT"
	configName       = "heartbeat"
)

type Config struct {
	Interval         time.Duration   `mapstructure:"interval"`
	Warmup           time.Duration   `mapstructure:"warmup"`
	RefreshTimeout   time.Duration   `mapstructure:"refresh_timeout"`
	HistorySize      int             `mapstructure:"history_size"`
	BaselineSamples  int             `mapstructure:"baseline_samples"`
	SpikeMultiplier  float64         `mapstructure:"spike_multiplier"`
	LeakGrowthFactor float64         `mapstructure:"leak_growth_factor"`
	SpikeFloor       float64         `mapstructure:"spike_floor"`
	TopProcesses     int             `mapstructure:"top_processes"`
	GPU              bool            `mapstructure:"gpu"`
	LogLevel         string          `mapstructure:"log_level"`
	PIDFile          string          `mapstructure:"pid_file"`
	Metrics          MetricsConfig   `mapstructure:"metrics"`
	Telemetry        TelemetryConfig `mapstructure:"telemetry"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// flag name -> viper key
var flagKeys = map[string]string{
	"interval":           "interval",
	"warmup":             "warmup",
	"refresh-timeout":    "refresh_timeout",
	"history-size":       "history_size",
	"baseline-samples":   "baseline_samples",
	"spike-multiplier":   "spike_multiplier",
	"leak-growth-factor": "leak_growth_factor",
	"spike-floor":        "spike_floor",
	"top-processes":      "top_processes",
	"gpu":                "gpu",
	"log-level":          "log_level",
	"pid-file":           "pid_file",
	"metrics":            "metrics.enabled",
	"metrics-db":         "metrics.db",
	"telemetry":          "telemetry.enabled",
	"telemetry-listen":   "telemetry.listen",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("warmup", DefaultWarmup)
	v.SetDefault("refresh_timeout", time.Duration(0))
	v.SetDefault("history_size", DefaultHistorySize)
	v.SetDefault("baseline_samples", DefaultBaselineSamples)
	v.SetDefault("spike_multiplier", DefaultSpikeMultiplier)
	v.SetDefault("leak_growth_factor", DefaultLeakGrowthFactor)
	v.SetDefault("spike_floor", DefaultSpikeFloor)
	v.SetDefault("top_processes", DefaultTopProcesses)
	v.SetDefault("gpu", true)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("pid_file", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db", DefaultMetricsDB)
	v.SetDefault("metrics.batch_size", DefaultBatchSize)
	v.SetDefault("metrics.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", DefaultTelemetryListen)
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to a TOML configuration file")
	fs.Duration("interval", DefaultInterval, "Interval between snapshots")
	fs.Duration("warmup", DefaultWarmup, "Delay between the first refresh and the first snapshot")
	fs.Duration("refresh-timeout", 0, "Upper bound on a single metrics refresh (0 disables)")
	fs.Int("history-size", DefaultHistorySize, "Samples kept per baseline window")
	fs.Int("baseline-samples", DefaultBaselineSamples, "Samples required before anomaly detection starts")
	fs.Float64("spike-multiplier", DefaultSpikeMultiplier, "CPU spike threshold as a multiple of the baseline")
	fs.Float64("leak-growth-factor", DefaultLeakGrowthFactor, "Memory growth factor over the baseline flagged as a leak")
	fs.Float64("spike-floor", DefaultSpikeFloor, "Minimum CPU baseline percent for spike detection")
	fs.Int("top-processes", DefaultTopProcesses, "Number of processes reported, by CPU usage")
	fs.Bool("gpu", true, "Report NVIDIA GPU readings when available")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.String("pid-file", "", "Write a PID file and refuse to start if one is live")
	fs.Bool("metrics", false, "Record snapshots to a sqlite database")
	fs.String("metrics-db", DefaultMetricsDB, "Path to the sqlite database")
	fs.Bool("telemetry", false, "Serve Prometheus metrics")
	fs.String("telemetry-listen", DefaultTelemetryListen, "Prometheus listen address")

	return fs
}

// Load resolves configuration from flags, environment, an optional TOML
// file and defaults, in that order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o *options) error {
	errFactory := errors.New()

	path := o.configPath
	if flagPath, _ := fs.GetString("config"); flagPath != "" {
		path = flagPath
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}

		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	dirs := o.searchDirs
	if dirs == nil {
		dirs = defaultSearchDirs()
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func defaultSearchDirs() []string {
	dirs := []string{"/etc/heartbeat"}
	if xdg, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(xdg, configName))
	}

	return dirs
}

// Validate checks the values Load produced.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if c.Warmup < 0 || c.RefreshTimeout < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "warmup and refresh_timeout must not be negative")
	}
	if c.HistorySize < 1 {
		return errFactory.WithData(errors.ErrInvalidBaseline, "history_size must be at least 1")
	}
	if c.BaselineSamples < 1 || c.BaselineSamples > c.HistorySize {
		return errFactory.WithData(errors.ErrInvalidBaseline, "baseline_samples must be between 1 and history_size")
	}
	if c.SpikeMultiplier <= 0 {
		return errFactory.WithData(errors.ErrInvalidBaseline, "spike_multiplier must be positive")
	}
	if c.LeakGrowthFactor <= 1 {
		return errFactory.WithData(errors.ErrInvalidBaseline, "leak_growth_factor must be greater than 1")
	}
	if c.SpikeFloor < 0 {
		return errFactory.WithData(errors.ErrInvalidBaseline, "spike_floor must not be negative")
	}
	if c.TopProcesses < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "top_processes must not be negative")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Metrics.Enabled && c.Metrics.DBPath == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "metrics.db must be set when metrics are enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Listen == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "telemetry.listen must be set when telemetry is enabled")
	}

	return nil
}
