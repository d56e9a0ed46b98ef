package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/heartbeat/internal/config"
	"codeberg.org/mutker/heartbeat/internal/detector"
	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/gpu"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"codeberg.org/mutker/heartbeat/internal/metrics"
	"codeberg.org/mutker/heartbeat/internal/output"
	"codeberg.org/mutker/heartbeat/internal/pid"
	"codeberg.org/mutker/heartbeat/internal/scheduler"
	"codeberg.org/mutker/heartbeat/internal/snapshot"
	"codeberg.org/mutker/heartbeat/internal/source"
	"codeberg.org/mutker/heartbeat/internal/telemetry"
	"github.com/spf13/pflag"
)

type app struct {
	cfg   *config.Config
	src   *source.System
	probe *gpu.Monitor
	sinks []namedSink
}

type namedSink struct {
	name string
	sink snapshot.Sink
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		fatal(err, "Failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	a, err := newApp(ctx, cfg)
	if err != nil {
		removePID(cfg.PIDFile)
		fatal(err, "Failed to initialize")
	}

	if err := a.run(ctx); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("Error in main loop")
		} else {
			logger.Error().Err(err).Msg("Error in main loop")
		}
	}

	a.cleanup()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	errFactory := errors.New()
	a := &app{cfg: cfg, src: source.NewSystem(ctx)}

	if cfg.GPU {
		probe, err := gpu.New()
		if err != nil {
			logger.Debug().Err(err).Msg("No GPU readings available")
		} else {
			a.probe = probe
		}
	}

	a.sinks = append(a.sinks, namedSink{name: "stdout", sink: output.NewWriter(os.Stdout)})

	recorder, err := metrics.NewService(metrics.Config{
		Enabled:      cfg.Metrics.Enabled,
		DBPath:       cfg.Metrics.DBPath,
		BatchSize:    cfg.Metrics.BatchSize,
		BatchTimeout: cfg.Metrics.BatchTimeout,
	})
	if err != nil {
		a.release()
		return nil, errFactory.Wrap(errors.ErrInitMetrics, err)
	}
	a.sinks = append(a.sinks, namedSink{name: "metrics", sink: recorder})

	exporter, err := telemetry.NewService(telemetry.Config{
		Enabled: cfg.Telemetry.Enabled,
		Listen:  cfg.Telemetry.Listen,
	})
	if err != nil {
		a.release()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}
	a.sinks = append(a.sinks, namedSink{name: "telemetry", sink: exporter})

	return a, nil
}

func (a *app) run(ctx context.Context) error {
	opts := []snapshot.Option{}
	if a.probe != nil {
		opts = append(opts, snapshot.WithGPU(a.probe))
	}

	agg := snapshot.NewAggregator(a.src, snapshot.Config{
		Baseline: detector.BaselineConfig{
			BaselineSamples:  a.cfg.BaselineSamples,
			SpikeMultiplier:  a.cfg.SpikeMultiplier,
			LeakGrowthFactor: a.cfg.LeakGrowthFactor,
			SpikeFloor:       a.cfg.SpikeFloor,
		},
		HistorySize:    a.cfg.HistorySize,
		TopProcesses:   a.cfg.TopProcesses,
		RefreshTimeout: a.cfg.RefreshTimeout,
	}, opts...)

	sched, err := scheduler.New(a.cfg.Interval, func(ctx context.Context) error {
		return a.emit(ctx, agg.Collect(ctx))
	},
		scheduler.WithWarmup(a.cfg.Warmup),
		scheduler.WithPrime(a.src.Refresh),
	)
	if err != nil {
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}

	logger.Info().
		Dur("interval", a.cfg.Interval).
		Bool("gpu", a.probe != nil).
		Bool("metrics", a.cfg.Metrics.Enabled).
		Bool("telemetry", a.cfg.Telemetry.Enabled).
		Msg("Collecting snapshots")

	return sched.Run(ctx)
}

// emit hands the snapshot to every sink. One failing sink does not keep the
// snapshot from the others.
func (a *app) emit(ctx context.Context, snap *snapshot.Snapshot) error {
	var errs []error
	for _, s := range a.sinks {
		if err := s.sink.Record(ctx, snap); err != nil {
			errs = append(errs, errors.New().WithData(errors.ErrEmitFailed, struct {
				Sink  string
				Error string
			}{
				Sink:  s.name,
				Error: err.Error(),
			}))
		}
	}

	return errors.Join(errs...)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func (a *app) cleanup() {
	a.release()
	removePID(a.cfg.PIDFile)
	logger.Info().Msg("Exiting...")
}

// release closes the sinks and the GPU probe. The pid file is left to the
// caller.
func (a *app) release() {
	for _, s := range a.sinks {
		if err := s.sink.Close(); err != nil {
			logger.Error().Err(err).Str("sink", s.name).Msg("Failed to close sink")
		}
	}

	if a.probe != nil {
		if err := a.probe.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down GPU probe")
		}
	}
}

func removePID(path string) {
	if err := pid.Remove(path); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
}

func fatal(err error, msg string) {
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.FatalWithCode(coded).Msg(msg)
	}
	logger.Fatal().Err(err).Msg(msg)
}
