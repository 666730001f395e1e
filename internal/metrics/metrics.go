package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "codeberg.org/mutker/dsostream/internal/errors"
	"codeberg.org/mutker/dsostream/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type service struct {
	cfg      Config
	logger   logger.Logger
	registry *prometheus.Registry
	server   *http.Server

	cycles  *prometheus.CounterVec
	records *prometheus.CounterVec
	stages  *prometheus.HistogramVec
	channel *prometheus.HistogramVec
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := apperrors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op collector
	if !cfg.Enabled {
		log.Debug().Msg("Metrics collection disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	s := newService(cfg, log)
	if cfg.Addr != "" {
		s.serve()
	}

	log.Debug().
		Str("addr", cfg.Addr).
		Bool("enabled", cfg.Enabled).
		Msg("Metrics service initialized successfully")

	return s, nil
}

func newService(cfg Config, log logger.Logger) *service {
	buckets := prometheus.ExponentialBuckets(0.0001, 2, 16)

	s := &service{
		cfg:      cfg,
		logger:   log,
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dsostream_cycles_total",
			Help: "Acquisition cycles by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dsostream_records_total",
			Help: "Records durably stored per channel.",
		}, []string{"channel"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsostream_stage_duration_seconds",
			Help:    "Duration of the cycle-level acquisition stages.",
			Buckets: buckets,
		}, []string{"stage"}),
		channel: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsostream_channel_duration_seconds",
			Help:    "Per-channel read and store duration.",
			Buckets: buckets,
		}, []string{"stage", "channel"}),
	}

	s.registry.MustRegister(s.cycles, s.records, s.stages, s.channel)

	return s
}

func (s *service) serve() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.cfg.Addr).Msg("Metrics server exited")
		}
	}()
}

func (s *service) Record(ctx context.Context, snapshot *CycleSnapshot) error {
	errFactory := apperrors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidMetrics)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(apperrors.ErrInternal, err)
	}

	s.cycles.WithLabelValues(string(snapshot.Outcome)).Inc()

	s.stages.WithLabelValues("wait").Observe(snapshot.Wait.Seconds())
	s.stages.WithLabelValues("window").Observe(snapshot.Window.Seconds())
	for _, ch := range snapshot.Channels {
		label := strconv.Itoa(ch.Channel)
		s.channel.WithLabelValues("read", label).Observe(ch.Read.Seconds())
		if snapshot.Outcome == OutcomeStored {
			s.channel.WithLabelValues("store", label).Observe(ch.Store.Seconds())
			s.records.WithLabelValues(label).Inc()
		}
	}
	if snapshot.Outcome == OutcomeStored {
		s.stages.WithLabelValues("rearm").Observe(snapshot.Rearm.Seconds())
		s.stages.WithLabelValues("total").Observe(snapshot.Total.Seconds())
		s.stages.WithLabelValues("overhead").Observe(snapshot.Overhead.Seconds())
	}

	return nil
}

func (s *service) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return apperrors.New().Wrap(ErrServiceShutdown, err)
	}

	return nil
}

// No-op implementation
func (*noopCollector) Record(_ context.Context, _ *CycleSnapshot) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
