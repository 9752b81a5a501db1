// Package app wires speakers, adapters and sinks from the configuration and
// runs them until shutdown.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/config"
)

// App owns the services of one daemon run.
type App struct {
	services *Services

	mu    sync.Mutex
	fatal error
}

// New builds every service. Nothing is started and no speaker is contacted.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{services: services}, nil
}

// Run starts all services and blocks until ctx is cancelled or a background
// service fails for good. Services are stopped before Run returns; the
// returned error is the startup error or the fatal one, if any.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.mu.Lock()
		if a.fatal == nil {
			a.fatal = err
		}
		a.mu.Unlock()
		cancel()
	}

	if err := a.services.Start(ctx, onFatalError); err != nil {
		cancel()
		a.services.Stop()
		return err
	}
	log.Info().Int("speakers", len(a.services.Units)).Msg("fideliod started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	if err := a.services.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
