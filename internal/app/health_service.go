package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/metrics"
)

// HealthService provides HTTP health check endpoints and, when enabled, the
// Prometheus scrape endpoint.
type HealthService struct {
	cfg      *config.Config
	registry *prometheus.Registry
	ready    atomic.Bool
	server   *http.Server
}

// NewHealthService creates a new HealthService. registry may be nil.
func NewHealthService(cfg *config.Config, registry *prometheus.Registry) *HealthService {
	return &HealthService{
		cfg:      cfg,
		registry: registry,
	}
}

// SetReady flips /ready to 200.
func (s *HealthService) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// Handler builds the health mux.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"starting"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	if s.cfg.Metrics.Enabled && s.registry != nil {
		mux.Handle(s.cfg.Metrics.Path, metrics.Handler(s.registry))
	}
	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Bool("metrics", s.cfg.Metrics.Enabled).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Health check server error")
	}
}
