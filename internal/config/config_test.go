package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/heartbeat/internal/config"
	"codeberg.org/mutker/heartbeat/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "heartbeat.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
interval = "2s"
warmup = "250ms"
baseline_samples = 5
spike_multiplier = 3.0
top_processes = 4
gpu = false
log_level = "debug"

[metrics]
enabled = true
db = "/path/to/metrics.db"
batch_size = 5

[telemetry]
enabled = true
listen = "127.0.0.1:9000"
`)
	t.Setenv("HEARTBEAT_CONFIG", configPath)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Interval, "Expected Interval 2s")
	assert.Equal(t, 250*time.Millisecond, cfg.Warmup, "Expected Warmup 250ms")
	assert.Equal(t, 5, cfg.BaselineSamples)
	assert.InDelta(t, 3.0, cfg.SpikeMultiplier, 1e-9)
	assert.Equal(t, 4, cfg.TopProcesses)
	assert.False(t, cfg.GPU)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/path/to/metrics.db", cfg.Metrics.DBPath)
	assert.Equal(t, 5, cfg.Metrics.BatchSize)
	assert.Equal(t, config.DefaultBatchTimeout, cfg.Metrics.BatchTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.Telemetry.Listen)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", "")

	cfg, err := config.Load(nil, config.WithSearchDirs(t.TempDir()))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, time.Second, cfg.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Warmup)
	assert.Equal(t, time.Duration(0), cfg.RefreshTimeout)
	assert.Equal(t, 30, cfg.HistorySize)
	assert.Equal(t, 10, cfg.BaselineSamples)
	assert.InDelta(t, 2.0, cfg.SpikeMultiplier, 1e-9)
	assert.InDelta(t, 1.2, cfg.LeakGrowthFactor, 1e-9)
	assert.InDelta(t, 5.0, cfg.SpikeFloor, 1e-9)
	assert.Equal(t, 10, cfg.TopProcesses)
	assert.True(t, cfg.GPU)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Empty(t, cfg.PIDFile)
	assert.False(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadSearchDir(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "heartbeat.toml"), []byte(`top_processes = 3`), 0o600))

	cfg, err := config.Load(nil, config.WithSearchDirs(dir))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.TopProcesses)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("HEARTBEAT_CONFIG", configPath)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "Failed to read configuration")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(nil, config.WithConfigFile(filepath.Join(t.TempDir(), "missing.toml")))
	require.Error(t, err)
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", writeConfig(t, `log_level = "invalid"`))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidLogLevel, errors.CodeOf(err))
}

func TestInvalidBaseline(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", "")

	_, err := config.Load([]string{"--baseline-samples", "40"}, config.WithSearchDirs(t.TempDir()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidBaseline, errors.CodeOf(err))

	_, err = config.Load([]string{"--leak-growth-factor", "0.9"}, config.WithSearchDirs(t.TempDir()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidBaseline, errors.CodeOf(err))
}

func TestInvalidInterval(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", "")

	_, err := config.Load([]string{"--interval", "0s"}, config.WithSearchDirs(t.TempDir()))
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidInterval, errors.CodeOf(err))
}

func TestFlagsOverrideEnvAndFile(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", writeConfig(t, `
log_level = "error"
top_processes = 7
`))
	t.Setenv("HEARTBEAT_TOP_PROCESSES", "8")

	cfg, err := config.Load([]string{"--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, 8, cfg.TopProcesses, "Expected env to override the file")
}

func TestEnvNestedKey(t *testing.T) {
	t.Setenv("HEARTBEAT_CONFIG", "")
	t.Setenv("HEARTBEAT_METRICS_ENABLED", "true")
	t.Setenv("HEARTBEAT_METRICS_DB", "/tmp/hb.db")

	cfg, err := config.Load(nil, config.WithSearchDirs(t.TempDir()))
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/tmp/hb.db", cfg.Metrics.DBPath)
}

func TestUnknownFlag(t *testing.T) {
	_, err := config.Load([]string{"--no-such-flag"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrBindFlags, errors.CodeOf(err))
}
