package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/eventbus"
	"github.com/dokzlo13/fideliod/internal/middleware"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

const audioRestartDelay = 5 * time.Second

// Watcher reports mixer changes until ctx is cancelled or it fails.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// FollowSystemAudio publishes an inherit request for the speaker whenever the
// mixer changes, at most once per debounce window. The monitor is restarted
// after it exits.
func FollowSystemAudio(ctx context.Context, name string, w Watcher, debounce time.Duration, bus *eventbus.Bus) {
	collector := middleware.New[time.Time]("interval", debounce, func(changes []time.Time) {
		log.Debug().Str("speaker", name).Int("changes", len(changes)).Msg("System volume changed")
		bus.Publish(eventbus.NewEvent(eventbus.EventTypeSystemVolume, name, speaker.Desired{Volume: speaker.Inherit()}))
	})
	defer collector.Close()

	for {
		err := w.Watch(ctx, func() { collector.Add(time.Now()) })
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("speaker", name).Dur("retry_in", audioRestartDelay).Msg("System audio monitor stopped")

		select {
		case <-ctx.Done():
			return
		case <-time.After(audioRestartDelay):
		}
	}
}
