// Package homekit exposes every speaker as a HomeKit switch with volume and
// channel characteristics, behind one bridge accessory.
package homekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

const applyTimeout = 15 * time.Second

// Speaker is what the bridge needs from a coordinator.
type Speaker interface {
	Name() string
	Channels() int
	Apply(ctx context.Context, desired speaker.Desired) error
	Power(ctx context.Context) (bool, error)
	Volume(ctx context.Context) (int, error)
	Channel() int
	Snapshot() speaker.Snapshot
}

// Accessory is one speaker as seen by HomeKit.
type Accessory struct {
	*accessory.Switch
	Volume  *characteristic.Int
	Channel *characteristic.Int

	spk          Speaker
	pollInterval time.Duration
}

// NewAccessory builds the switch accessory and wires remote writes to Apply.
func NewAccessory(spk Speaker, info config.SpeakerInfo, pollInterval time.Duration) *Accessory {
	a := &Accessory{
		Switch: accessory.NewSwitch(accessory.Info{
			Name:         spk.Name(),
			Manufacturer: info.Manufacturer,
			Model:        info.Model,
			SerialNumber: info.SerialNumber,
		}),
		Volume:       NewVolume(),
		spk:          spk,
		pollInterval: pollInterval,
	}
	a.Switch.Switch.AddC(a.Volume.C)

	if n := spk.Channels(); n > 0 {
		a.Channel = NewChannel(n)
		a.Switch.Switch.AddC(a.Channel.C)
	}

	a.sync(spk.Snapshot())

	a.Switch.Switch.On.OnValueRemoteUpdate(a.setPower)
	a.Volume.OnValueRemoteUpdate(a.setVolume)
	if a.Channel != nil {
		a.Channel.OnValueRemoteUpdate(a.setChannel)
	}
	return a
}

func (a *Accessory) apply(desired speaker.Desired) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()
	ctx = speaker.WithSource(ctx, speaker.SourceHomeKit)

	if err := a.spk.Apply(ctx, desired); err != nil {
		log.Error().Err(err).Str("speaker", a.spk.Name()).Stringer("desired", desired).Msg("HomeKit update failed")
	}
}

func (a *Accessory) setPower(on bool) {
	a.apply(speaker.Desired{Power: &on})
}

func (a *Accessory) setVolume(v int) {
	a.apply(speaker.Desired{Volume: speaker.Percent(v)})
}

func (a *Accessory) setChannel(index int) {
	a.apply(speaker.Desired{Channel: &index})
}

// sync publishes a snapshot to the characteristics. Pending values are shown
// as the intended state, the same way the cache reports them.
func (a *Accessory) sync(s speaker.Snapshot) {
	a.Switch.Switch.On.SetValue(s.Power)
	a.Volume.SetValue(s.Volume)
	if a.Channel != nil && s.Channel >= 1 && s.Channel <= a.spk.Channels() {
		a.Channel.SetValue(s.Channel)
	}
}

// refresh queries live power and volume. Failed queries leave the
// characteristic alone.
func (a *Accessory) refresh(ctx context.Context) {
	if on, err := a.spk.Power(ctx); err == nil {
		a.Switch.Switch.On.SetValue(on)
	}
	if v, err := a.spk.Volume(ctx); err == nil && !a.spk.Snapshot().VolumePending {
		a.Volume.SetValue(v)
	}
	if a.Channel != nil {
		a.Channel.SetValue(a.spk.Channel())
	}
}

func (a *Accessory) poll(ctx context.Context) {
	if a.pollInterval <= 0 {
		return
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refresh(ctx)
		}
	}
}

// Bridge serves all speaker accessories.
type Bridge struct {
	cfg    config.HomeKitConfig
	bridge *accessory.Bridge

	mu          sync.RWMutex
	accessories map[string]*Accessory
	order       []*Accessory
}

func NewBridge(cfg config.HomeKitConfig) *Bridge {
	return &Bridge{
		cfg: cfg,
		bridge: accessory.NewBridge(accessory.Info{
			Name:         cfg.Name,
			Manufacturer: "fideliod",
		}),
		accessories: make(map[string]*Accessory),
	}
}

// Add registers a speaker. Must be called before Run.
func (b *Bridge) Add(spk Speaker, info config.SpeakerInfo, pollInterval time.Duration) *Accessory {
	a := NewAccessory(spk, info, pollInterval)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessories[spk.Name()] = a
	b.order = append(b.order, a)
	return a
}

// ApplyCompleted mirrors every apply, whatever its source, into HomeKit.
func (b *Bridge) ApplyCompleted(r speaker.Report) {
	b.mu.RLock()
	a, ok := b.accessories[r.Speaker]
	b.mu.RUnlock()

	if ok {
		a.sync(r.State)
	}
}

// Run serves HAP until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.RLock()
	accs := make([]*accessory.A, 0, len(b.order))
	for _, a := range b.order {
		accs = append(accs, a.A)
		go a.poll(ctx)
	}
	b.mu.RUnlock()

	server, err := hap.NewServer(hap.NewFsStore(b.cfg.StoragePath), b.bridge.A, accs...)
	if err != nil {
		return fmt.Errorf("failed to create HomeKit server: %w", err)
	}
	server.Pin = b.cfg.Pin
	if b.cfg.Addr != "" {
		server.Addr = b.cfg.Addr
	}

	log.Info().
		Str("name", b.cfg.Name).
		Int("accessories", len(accs)).
		Str("storage", b.cfg.StoragePath).
		Msg("HomeKit bridge started")

	if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("HomeKit server failed: %w", err)
	}
	return nil
}
