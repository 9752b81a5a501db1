package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/eventbus"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

const dispatchTimeout = 30 * time.Second

// Applier is what the dispatcher drives; *speaker.Speaker implements it.
type Applier interface {
	Apply(ctx context.Context, desired speaker.Desired) error
}

// Dispatcher applies command events from fire-and-forget sources. Failures
// are logged; the sources have nobody to report them to.
type Dispatcher struct {
	speakers map[string]Applier
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{speakers: make(map[string]Applier)}
}

// Add registers a speaker. Must be called before Register.
func (d *Dispatcher) Add(name string, spk Applier) {
	d.speakers[name] = spk
}

// Register subscribes the dispatcher to every command event type.
func (d *Dispatcher) Register(ctx context.Context, bus *eventbus.Bus) {
	for _, t := range eventbus.CommandTypes {
		bus.Subscribe(t, func(event eventbus.Event) {
			d.Handle(ctx, event)
		})
	}
}

// Handle applies one event.
func (d *Dispatcher) Handle(ctx context.Context, event eventbus.Event) {
	spk, ok := d.speakers[event.Speaker]
	if !ok {
		log.Warn().Str("speaker", event.Speaker).Str("event_type", string(event.Type)).Msg("Event for unknown speaker")
		return
	}
	if ctx.Err() != nil {
		log.Debug().Str("speaker", event.Speaker).Str("event_id", event.ID).Msg("Shutting down, dropping event")
		return
	}

	applyCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	applyCtx = speaker.WithSource(applyCtx, sourceOf(event.Type))

	log.Debug().
		Str("speaker", event.Speaker).
		Str("event_type", string(event.Type)).
		Str("event_id", event.ID).
		Stringer("desired", event.Desired).
		Msg("Dispatching event")

	if err := spk.Apply(applyCtx, event.Desired); err != nil {
		log.Error().
			Err(err).
			Str("speaker", event.Speaker).
			Str("event_type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Failed to apply event")
	}
}

func sourceOf(t eventbus.EventType) string {
	switch t {
	case eventbus.EventTypeFeed:
		return speaker.SourceFeed
	case eventbus.EventTypeSystemVolume:
		return speaker.SourceSystemVolume
	case eventbus.EventTypeMQTT:
		return speaker.SourceMQTT
	}
	return speaker.SourceUnknown
}
