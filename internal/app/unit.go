package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/fidelio"
	"github.com/dokzlo13/fideliod/internal/metrics"
	"github.com/dokzlo13/fideliod/internal/speaker"
	"github.com/dokzlo13/fideliod/internal/storage"
	"github.com/dokzlo13/fideliod/internal/sysaudio"
)

// Unit is one configured speaker with everything built for it.
type Unit struct {
	Config  config.SpeakerConfig
	Client  *fidelio.Client
	Audio   *sysaudio.ALSA // nil unless alsa.enabled
	Speaker *speaker.Speaker
}

// ConfiguredSeed fills the facets the configuration leaves unset from
// speaker.DefaultSeed. Nothing is pending in a configured seed.
func ConfiguredSeed(c config.CacheSeed) speaker.Snapshot {
	seed := speaker.DefaultSeed
	if c.On != nil {
		seed.Power = *c.On
	}
	if c.Volume != nil {
		seed.Volume = *c.Volume
	}
	if c.Channel != nil {
		seed.Channel = *c.Channel
	}
	return seed
}

// NewUnit builds the gateway and coordinator for one speaker. store and
// collector may be nil.
func NewUnit(cfg config.SpeakerConfig, store *storage.Store, collector *metrics.Collector) *Unit {
	u := &Unit{
		Config: cfg,
		Client: fidelio.NewClient(cfg.Host, cfg.Port, cfg.Timeout.Duration(), cfg.RateLimitRPS),
	}

	var gateway speaker.Gateway = u.Client
	if collector != nil {
		gateway = collector.Instrument(cfg.Name, u.Client)
	}

	seed := ConfiguredSeed(cfg.Cache)
	if store != nil {
		seed = store.Seed(cfg.Name, cfg.RestoreState, seed)
	}

	opts := []speaker.Option{
		speaker.WithChannels(cfg.Channels),
		speaker.WithSeed(seed),
	}
	if cfg.ALSA.Enabled {
		u.Audio = sysaudio.New(sysaudio.WithCard(cfg.ALSA.Card), sysaudio.WithControl(cfg.ALSA.Control))
		opts = append(opts, speaker.WithSystemAudio(u.Audio))
	}
	if collector != nil {
		collector.ObserveState(cfg.Name, seed)
	}

	u.Speaker = speaker.New(cfg.Name, gateway, opts...)

	log.Info().
		Str("speaker", cfg.Name).
		Str("url", u.Client.BaseURL()).
		Int("channels", len(cfg.Channels)).
		Bool("system_audio", u.Audio != nil).
		Bool("power", seed.Power).
		Int("volume", seed.Volume).
		Int("channel", seed.Channel).
		Msg("Speaker configured")
	return u
}

// Close releases the gateway.
func (u *Unit) Close() {
	if err := u.Client.Close(); err != nil {
		log.Debug().Err(err).Str("speaker", u.Config.Name).Msg("Failed to close speaker client")
	}
}
