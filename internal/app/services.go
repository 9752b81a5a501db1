package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/api"
	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/db"
	"github.com/dokzlo13/fideliod/internal/eventbus"
	"github.com/dokzlo13/fideliod/internal/feed"
	"github.com/dokzlo13/fideliod/internal/history"
	"github.com/dokzlo13/fideliod/internal/homekit"
	"github.com/dokzlo13/fideliod/internal/ledger"
	"github.com/dokzlo13/fideliod/internal/luaexec"
	"github.com/dokzlo13/fideliod/internal/metrics"
	"github.com/dokzlo13/fideliod/internal/mqtt"
	"github.com/dokzlo13/fideliod/internal/speaker"
	"github.com/dokzlo13/fideliod/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger // nil when the ledger is disabled
	Store  *storage.Store
	Bus    *eventbus.Bus

	// Speakers in configuration order
	Units      []*Unit
	Dispatcher *Dispatcher
	Feeds      []*feed.Watcher
	scripts    []*luaexec.Executor

	// Metrics (nil when disabled)
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	// Adapters
	HomeKit *homekit.Bridge
	MQTT    *mqtt.Client
	Bridge  *mqtt.Bridge
	History *history.Sink
	API     *api.Server
	Health  *HealthService
}

// NewServices creates all services with proper dependency injection.
// Nothing talks to the network until Start.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Store = storage.NewStore(database.DB)
	if cfg.Ledger.Enabled {
		s.Ledger = ledger.New(database.DB)
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)

	if cfg.Metrics.Enabled {
		s.Metrics = metrics.NewCollector()
		s.Registry = metrics.Registry(s.Metrics)
	}

	if cfg.HomeKit.Enabled {
		s.HomeKit = homekit.NewBridge(cfg.HomeKit)
	}

	s.Dispatcher = NewDispatcher()
	apiSpeakers := make([]api.Speaker, 0, len(cfg.Speakers))
	for _, sc := range cfg.Speakers {
		unit := NewUnit(sc, s.Store, s.Metrics)
		s.Units = append(s.Units, unit)
		s.Dispatcher.Add(sc.Name, unit.Speaker)
		apiSpeakers = append(apiSpeakers, unit.Speaker)

		// Cheap observers run inside Apply, the rest on the bus.
		if s.Metrics != nil {
			unit.Speaker.AddObserver(s.Metrics)
		}
		if s.HomeKit != nil {
			s.HomeKit.Add(unit.Speaker, sc.Info, sc.PollInterval.Duration())
			unit.Speaker.AddObserver(s.HomeKit)
		}
		unit.Speaker.AddObserver(s.Bus.Forward())

		if sc.Feed.Path != "" {
			w, err := s.newFeedWatcher(unit)
			if err != nil {
				s.Close()
				return nil, err
			}
			s.Feeds = append(s.Feeds, w)
		}
	}

	s.Bus.Observe(s.Store)
	if s.Ledger != nil {
		s.Bus.Observe(s.Ledger)
	}

	if cfg.API.Enabled {
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, api.New(apiSpeakers...))
	}

	if cfg.MQTT.Enabled {
		s.MQTT = mqtt.New(cfg.MQTT)
		s.Bridge = mqtt.NewBridge(s.MQTT, s.MQTT.Topics(), cfg.MQTT.QoS, s.Bus)
		for _, unit := range s.Units {
			s.Bridge.AddSpeaker(unit.Speaker, unit.Config.Channels)
		}
		s.Bus.Observe(s.Bridge)
	}

	s.Health = NewHealthService(cfg, s.Registry)

	return s, nil
}

func (s *Services) newFeedWatcher(unit *Unit) (*feed.Watcher, error) {
	sc := unit.Config

	var parser feed.Parser = feed.TextParser{Channels: sc.Channels}
	if sc.Feed.Script != "" {
		exec, err := luaexec.NewFile(sc.Feed.Script)
		if err != nil {
			return nil, fmt.Errorf("speaker %s: %w", sc.Name, err)
		}
		s.scripts = append(s.scripts, exec)
		parser = feed.ScriptParser{Exec: exec, Channels: sc.Channels}
	}

	name := sc.Name
	handler := func(desired speaker.Desired) {
		s.Bus.Publish(eventbus.NewEvent(eventbus.EventTypeFeed, name, desired))
	}
	return feed.NewWatcher(sc.Feed.Path, parser, handler, sc.Feed.Quiet.Duration()), nil
}

// Start connects the optional sinks and starts all background services.
// The onFatalError callback is called when a background service fails for good.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if s.cfg.InfluxDB.Enabled {
		sink, err := history.Connect(ctx, s.cfg.InfluxDB)
		if err != nil {
			return err
		}
		s.History = sink
		s.Bus.Observe(sink)
	}

	s.Dispatcher.Register(ctx, s.Bus)

	if s.MQTT != nil {
		if err := s.Bridge.Start(); err != nil {
			return err
		}
		s.MQTT.SetOnConnect(s.Bridge.PublishAll)
		if err := s.MQTT.Connect(); err != nil {
			return err
		}
	}

	for _, w := range s.Feeds {
		go func(w *feed.Watcher) {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Feed watcher stopped")
			}
		}(w)
	}

	for _, unit := range s.Units {
		if unit.Audio != nil && unit.Config.ALSA.Follow {
			go FollowSystemAudio(ctx, unit.Config.Name, unit.Audio, unit.Config.ALSA.Debounce.Duration(), s.Bus)
		}
	}

	if s.Ledger != nil {
		go s.runLedgerCleanup(ctx)
	}

	if s.HomeKit != nil {
		go func() {
			if err := s.HomeKit.Run(ctx); err != nil {
				onFatalError(fmt.Errorf("homekit: %w", err))
			}
		}()
	}

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(fmt.Errorf("api: %w", err))
			}
		}()
	}

	s.Health.Start(ctx)
	s.Health.SetReady(true)
	return nil
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// Stop drains the bus so pending observers finish, then releases resources.
func (s *Services) Stop() error {
	s.Health.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(ctx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.History != nil {
		s.History.Close()
	}
	for _, exec := range s.scripts {
		exec.Close()
	}
	for _, unit := range s.Units {
		unit.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
