// Package speaker reconciles partial desired-state mutations against a
// Fidelio speaker that can only be half-queried and rejects commands while in
// standby.
package speaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/fideliod/internal/fidelio"
)

// Gateway sends a single command to the device.
type Gateway interface {
	Send(ctx context.Context, cmd fidelio.Command) ([]byte, error)
}

// SystemAudio reports the local system mixer state used to resolve the
// inherit volume sentinel.
type SystemAudio interface {
	Muted(ctx context.Context) (bool, error)
	Volume(ctx context.Context) (int, error)
}

// Option configures a Speaker.
type Option func(*Speaker)

// WithChannels sets the ordered channel table. Index 1 is the first entry.
func WithChannels(channels []string) Option {
	return func(s *Speaker) {
		s.channels = make([]fidelio.Command, len(channels))
		for i, ch := range channels {
			s.channels[i] = fidelio.Command(ch)
		}
	}
}

// WithSystemAudio enables the inherit volume sentinel.
func WithSystemAudio(audio SystemAudio) Option {
	return func(s *Speaker) {
		s.audio = audio
	}
}

// WithSeed replaces DefaultSeed as the initial cache content.
func WithSeed(seed Snapshot) Option {
	return func(s *Speaker) {
		s.cache = NewCache(seed)
	}
}

// WithObserver registers an observer for finished Apply calls.
func WithObserver(o Observer) Option {
	return func(s *Speaker) {
		s.observers = append(s.observers, o)
	}
}

// Speaker is the state coordinator for one physical device.
type Speaker struct {
	name      string
	gateway   Gateway
	channels  []fidelio.Command
	audio     SystemAudio
	observers []Observer

	// applyMu serializes Apply; mu guards cache and observers.
	applyMu sync.Mutex
	mu      sync.Mutex
	cache   *Cache
}

// New creates a speaker coordinator.
func New(name string, gateway Gateway, opts ...Option) *Speaker {
	s := &Speaker{
		name:    name,
		gateway: gateway,
		cache:   NewCache(DefaultSeed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the configured speaker name.
func (s *Speaker) Name() string {
	return s.name
}

// Channels returns the number of configured channels.
func (s *Speaker) Channels() int {
	return len(s.channels)
}

// ChannelID returns the command identifier for a 1-based channel index.
func (s *Speaker) ChannelID(index int) (string, bool) {
	if index < 1 || index > len(s.channels) {
		return "", false
	}
	return string(s.channels[index-1]), true
}

// HasSystemAudio reports whether the inherit sentinel can be resolved.
func (s *Speaker) HasSystemAudio() bool {
	return s.audio != nil
}

// AddObserver registers an observer after construction.
func (s *Speaker) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Snapshot returns the cached state.
func (s *Speaker) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Read()
}

// Channel returns the cached channel. The device has no channel read-back.
func (s *Speaker) Channel() int {
	return s.Snapshot().Channel
}

// Power queries the device power state. On failure the cached value is
// returned together with the error.
func (s *Speaker) Power(ctx context.Context) (bool, error) {
	on, err := s.queryPower(ctx)
	if err != nil {
		log.Error().Err(err).Str("speaker", s.name).Msg("Failed to query power")
		return s.Snapshot().Power, err
	}
	return on, nil
}

// Volume queries the device volume in percent. When the device reports no
// change since the last poll, the cached value is returned. On failure the
// cached value is returned together with the error.
func (s *Speaker) Volume(ctx context.Context) (int, error) {
	body, err := s.gateway.Send(ctx, fidelio.CommandElapse)
	if err == nil {
		var status fidelio.Status
		status, err = fidelio.ParseStatus(body)
		if err == nil {
			switch status.Command {
			case fidelio.StatusElapse:
				var native int
				native, err = status.NativeVolume()
				if err == nil {
					return s.observeVolume(native), nil
				}
			case fidelio.StatusNothing:
				cached := s.Snapshot().Volume
				log.Debug().Str("speaker", s.name).Int("volume", cached).Msg("Returned volume from cache")
				return cached, nil
			default:
				err = fmt.Errorf("%w: unknown ELAPSE reply %q", fidelio.ErrProtocol, status.Command)
			}
		}
	}

	log.Error().Err(err).Str("speaker", s.name).Msg("Failed to query volume")
	return s.Snapshot().Volume, err
}

func (s *Speaker) observeVolume(native int) int {
	percent := fidelio.ToPercent(native)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A deferred write is an intent that has not reached the device yet;
	// the live reading must not overwrite it.
	if !s.cache.Read().VolumePending {
		s.cache.RecordVolume(percent, false)
	}

	log.Debug().Str("speaker", s.name).Int("volume", percent).Int("native", native).Msg("Got current volume")
	return percent
}

func (s *Speaker) queryPower(ctx context.Context) (bool, error) {
	body, err := s.gateway.Send(ctx, fidelio.CommandHomeStatus)
	if err != nil {
		return false, err
	}
	status, err := fidelio.ParseStatus(body)
	if err != nil {
		return false, err
	}
	standby, err := status.Standby()
	if err != nil {
		return false, fmt.Errorf("invalid HOMESTATUS reply: %w", err)
	}

	on := !standby
	s.mu.Lock()
	s.cache.RecordPower(on)
	s.mu.Unlock()

	log.Debug().Str("speaker", s.name).Bool("power", on).Msg("Got current power")
	return on, nil
}

// Apply resolves desired against the device and the cache, then issues the
// commands needed to reach it. Calls are serialized per speaker.
//
// Requested volume and channel are deferred (cached as pending) while the
// speaker is off. When it is on, pending and requested facets are sent
// concurrently; each one that succeeds is committed even if the other fails.
func (s *Speaker) Apply(ctx context.Context, desired Desired) (err error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	started := time.Now()
	defer func() {
		s.notify(ctx, desired, err, started)
	}()

	if err = s.validate(desired); err != nil {
		return err
	}

	current, effective := s.resolvePower(ctx, desired)

	volume, err := s.resolveVolume(ctx, desired.Volume)
	if err != nil {
		return err
	}

	if !effective {
		return s.applyOff(ctx, desired, current, volume)
	}
	return s.applyOn(ctx, desired, volume)
}

func (s *Speaker) validate(desired Desired) error {
	if desired.Channel != nil {
		if err := s.validateChannel(*desired.Channel); err != nil {
			return err
		}
	}
	if desired.Volume != nil && !desired.Volume.Inherit {
		if err := validateVolume(desired.Volume.Percent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Speaker) validateChannel(index int) error {
	if len(s.channels) == 0 {
		return fmt.Errorf("%w: speaker %s has no channels configured", ErrConfiguration, s.name)
	}
	if index < 1 || index > len(s.channels) {
		return fmt.Errorf("%w: channel %d outside [1, %d]", ErrConfiguration, index, len(s.channels))
	}
	return nil
}

func validateVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("%w: %d not in [0, 100]", ErrRange, percent)
	}
	return nil
}

// resolvePower returns the power state the device is believed to be in and
// the state the rest of the mutation should be planned against. A failed
// probe falls back to the cache: deferring volume and channel is still
// possible without knowing the true state.
func (s *Speaker) resolvePower(ctx context.Context, desired Desired) (current, effective bool) {
	if desired.Power != nil && *desired.Power {
		return s.Snapshot().Power, true
	}

	current, err := s.queryPower(ctx)
	if err != nil {
		current = s.Snapshot().Power
		log.Warn().Err(err).Str("speaker", s.name).Bool("assumed_power", current).Msg("Power probe failed, using cached power")
	}

	if desired.Power != nil {
		return current, false
	}
	return current, current
}

func (s *Speaker) resolveVolume(ctx context.Context, req *VolumeRequest) (*int, error) {
	if req == nil {
		return nil, nil
	}
	if !req.Inherit {
		v := req.Percent
		return &v, nil
	}

	if s.audio == nil {
		return nil, fmt.Errorf("%w: system volume requested but no system-audio monitor is configured for %s", ErrConfiguration, s.name)
	}

	muted, err := s.audio.Muted(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read system mute state: %w", ErrConfiguration, err)
	}

	v := 0
	if !muted {
		v, err = s.audio.Volume(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: read system volume: %w", ErrConfiguration, err)
		}
	}
	if err := validateVolume(v); err != nil {
		return nil, err
	}

	log.Debug().Str("speaker", s.name).Bool("muted", muted).Int("volume", v).Msg("Resolved system volume")
	return &v, nil
}

func (s *Speaker) applyOff(ctx context.Context, desired Desired, current bool, volume *int) error {
	s.deferFacets(volume, desired.Channel)

	if desired.Power == nil || *desired.Power || !current {
		return nil
	}

	if _, err := s.gateway.Send(ctx, fidelio.CommandStandby); err != nil {
		log.Error().Err(err).Str("speaker", s.name).Msg("Failed to switch to standby")
		return err
	}

	s.mu.Lock()
	s.cache.RecordPower(false)
	s.mu.Unlock()

	log.Info().Str("speaker", s.name).Bool("power", false).Msg("Power set")
	return nil
}

// deferFacets stores requested values as pending intents.
func (s *Speaker) deferFacets(volume, channel *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if volume != nil {
		s.cache.RecordVolume(*volume, true)
		log.Info().Str("speaker", s.name).Int("volume", *volume).Msg("Wrote volume to cache")
	}
	if channel != nil {
		s.cache.RecordChannel(*channel, true)
		log.Info().Str("speaker", s.name).Int("channel", *channel).Msg("Wrote channel to cache")
	}
}

func (s *Speaker) applyOn(ctx context.Context, desired Desired, volume *int) error {
	snap := s.Snapshot()
	channel := desired.Channel
	if channel == nil && snap.ChannelPending {
		channel = &snap.Channel
	}
	pendingVolume := volume
	if pendingVolume == nil && snap.VolumePending {
		pendingVolume = &snap.Volume
	}

	// With nothing to write, a wake command is the whole apply.
	wake := desired.Power != nil && *desired.Power
	if wake || (channel == nil && pendingVolume == nil) {
		if _, err := s.gateway.Send(ctx, fidelio.CommandPowerOn); err != nil {
			log.Error().Err(err).Str("speaker", s.name).Msg("Failed to power on")
			// Keep what was asked for so the next successful power-on applies it.
			s.deferFacets(volume, desired.Channel)
			return err
		}
		s.mu.Lock()
		s.cache.RecordPower(true)
		s.mu.Unlock()
		log.Info().Str("speaker", s.name).Bool("power", true).Msg("Power set")
	}
	volume = pendingVolume

	var g errgroup.Group
	if channel != nil {
		index := *channel
		g.Go(func() error {
			return s.sendChannel(ctx, index)
		})
	}
	if volume != nil {
		percent := *volume
		g.Go(func() error {
			return s.sendVolume(ctx, percent)
		})
	}
	return g.Wait()
}

func (s *Speaker) sendChannel(ctx context.Context, index int) error {
	if err := s.validateChannel(index); err != nil {
		return err
	}

	cmd := s.channels[index-1]
	if _, err := s.gateway.Send(ctx, cmd); err != nil {
		log.Error().Err(err).Str("speaker", s.name).Int("channel", index).Msg("Failed to set channel")
		return err
	}

	s.mu.Lock()
	s.cache.RecordPower(true)
	s.cache.RecordChannel(index, false)
	s.mu.Unlock()

	log.Info().Str("speaker", s.name).Int("channel", index).Str("command", string(cmd)).Msg("Channel set")
	return nil
}

func (s *Speaker) sendVolume(ctx context.Context, percent int) error {
	if err := validateVolume(percent); err != nil {
		return err
	}

	native := fidelio.ToNative(percent)
	if _, err := s.gateway.Send(ctx, fidelio.VolumeCommand(native)); err != nil {
		log.Error().Err(err).Str("speaker", s.name).Int("volume", percent).Msg("Failed to set volume")
		return err
	}

	s.mu.Lock()
	s.cache.RecordPower(true)
	s.cache.RecordVolume(percent, false)
	s.mu.Unlock()

	log.Info().Str("speaker", s.name).Int("volume", percent).Int("native", native).Msg("Volume set")
	return nil
}

func (s *Speaker) notify(ctx context.Context, desired Desired, err error, started time.Time) {
	s.mu.Lock()
	observers := append([]Observer(nil), s.observers...)
	state := s.cache.Read()
	s.mu.Unlock()

	if len(observers) == 0 {
		return
	}

	report := Report{
		ID:       uuid.NewString(),
		Speaker:  s.name,
		Source:   SourceFrom(ctx),
		Desired:  desired,
		State:    state,
		Err:      err,
		Started:  started,
		Duration: time.Since(started),
	}
	for _, o := range observers {
		o.ApplyCompleted(report)
	}
}
