package telemetry

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/heartbeat/internal/errors"
	"codeberg.org/mutker/heartbeat/internal/logger"
	"codeberg.org/mutker/heartbeat/internal/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type service struct {
	cfg      Config
	registry *prometheus.Registry
	metrics  *metricSet
	server   *http.Server
	listener net.Listener
	log      logger.Logger
	mu       sync.Mutex
	done     chan struct{}
}

// No-op implementation
type noopExporter struct{}

// NewService starts serving /metrics on cfg.Listen. When telemetry is
// disabled a no-op exporter is returned and nothing listens.
func NewService(cfg Config) (Exporter, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry disabled, using no-op exporter")
		return &noopExporter{}, nil
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errFactory.WithData(ErrListenFailed, struct {
			Listen string
			Error  string
		}{
			Listen: cfg.Listen,
			Error:  err.Error(),
		})
	}

	s := newService(cfg, ln)
	go s.serve()

	s.log.Info().Str("listen", ln.Addr().String()).Msg("Telemetry endpoint started")

	return s, nil
}

func newService(cfg Config, ln net.Listener) *service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &service{
		cfg:      cfg,
		registry: reg,
		metrics:  newMetricSet(reg),
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		listener: ln,
		log:      logger.Component("telemetry"),
		done:     make(chan struct{}),
	}
}

func (s *service) serve() {
	defer close(s.done)

	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error().Err(err).Msg("Telemetry endpoint stopped")
	}
}

// Addr is the address the endpoint is bound to.
func (s *service) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *service) Record(ctx context.Context, snap *snapshot.Snapshot) error {
	errFactory := errors.New()

	if snap == nil {
		return errFactory.New(ErrInvalidMetrics)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.update(snap)

	return nil
}

func (s *service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	<-s.done

	return nil
}

// No-op implementation
func (*noopExporter) Record(_ context.Context, _ *snapshot.Snapshot) error {
	return nil
}

func (*noopExporter) Close() error {
	return nil
}
