package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fideliod/internal/config"
	"github.com/dokzlo13/fideliod/internal/db"
	"github.com/dokzlo13/fideliod/internal/eventbus"
	"github.com/dokzlo13/fideliod/internal/fidelio/fideliotest"
	"github.com/dokzlo13/fideliod/internal/metrics"
	"github.com/dokzlo13/fideliod/internal/speaker"
	"github.com/dokzlo13/fideliod/internal/storage"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestConfiguredSeed(t *testing.T) {
	require.Equal(t, speaker.DefaultSeed, ConfiguredSeed(config.CacheSeed{}))

	seed := ConfiguredSeed(config.CacheSeed{On: boolPtr(true), Volume: intPtr(55), Channel: intPtr(3)})
	require.Equal(t, speaker.Snapshot{Power: true, Volume: 55, Channel: 3}, seed)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return storage.NewStore(database.DB)
}

func TestNewUnitRestoresSnapshot(t *testing.T) {
	store := openStore(t)
	stored := speaker.Snapshot{Power: false, Volume: 70, Channel: 2, VolumePending: true}
	require.NoError(t, store.Save("living", stored))

	cfg := config.SpeakerConfig{
		Name:         "living",
		Host:         "127.0.0.1",
		Port:         8889,
		Channels:     []string{"nav$AUX", "nav$BT"},
		Cache:        config.CacheSeed{Volume: intPtr(20)},
		RestoreState: true,
	}
	unit := NewUnit(cfg, store, metrics.NewCollector())
	defer unit.Close()
	require.Equal(t, stored, unit.Speaker.Snapshot())
	require.Equal(t, 2, unit.Speaker.Channels())
	require.Nil(t, unit.Audio)

	cfg.RestoreState = false
	unit = NewUnit(cfg, store, nil)
	defer unit.Close()
	require.Equal(t, 20, unit.Speaker.Snapshot().Volume)
	require.False(t, unit.Speaker.Snapshot().VolumePending)
}

func TestNewUnitWithSystemAudio(t *testing.T) {
	cfg := config.SpeakerConfig{
		Name: "living",
		Host: "127.0.0.1",
		ALSA: config.ALSAConfig{Enabled: true, Control: "PCM"},
	}
	unit := NewUnit(cfg, nil, nil)
	defer unit.Close()
	require.NotNil(t, unit.Audio)
	require.True(t, unit.Speaker.HasSystemAudio())
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []speaker.Desired
	sources []string
}

func (a *recordingApplier) Apply(ctx context.Context, desired speaker.Desired) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, desired)
	a.sources = append(a.sources, speaker.SourceFrom(ctx))
	return nil
}

func TestDispatcherHandle(t *testing.T) {
	d := NewDispatcher()
	spk := &recordingApplier{}
	d.Add("living", spk)

	ctx := context.Background()
	d.Handle(ctx, eventbus.NewEvent(eventbus.EventTypeFeed, "living", speaker.Desired{Volume: speaker.Percent(10)}))
	d.Handle(ctx, eventbus.NewEvent(eventbus.EventTypeMQTT, "living", speaker.Desired{Power: boolPtr(true)}))
	d.Handle(ctx, eventbus.NewEvent(eventbus.EventTypeSystemVolume, "living", speaker.Desired{Volume: speaker.Inherit()}))
	d.Handle(ctx, eventbus.NewEvent(eventbus.EventTypeFeed, "kitchen", speaker.Desired{Power: boolPtr(true)}))

	require.Len(t, spk.applied, 3)
	require.Equal(t, []string{speaker.SourceFeed, speaker.SourceMQTT, speaker.SourceSystemVolume}, spk.sources)
}

func TestDispatcherDropsAfterCancel(t *testing.T) {
	d := NewDispatcher()
	spk := &recordingApplier{}
	d.Add("living", spk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Handle(ctx, eventbus.NewEvent(eventbus.EventTypeFeed, "living", speaker.Desired{Power: boolPtr(true)}))
	require.Empty(t, spk.applied)
}

func TestDispatcherAppliesBusEventsToSpeaker(t *testing.T) {
	fake := fideliotest.NewSpeaker(true, 10)
	defer fake.Close()

	unit := NewUnit(config.SpeakerConfig{Name: "living", Host: fake.Host(), Port: fake.Port(), Timeout: config.Duration(time.Second)}, nil, nil)
	defer unit.Close()

	bus := eventbus.NewWithConfig(1, 10)
	done := make(chan speaker.Report, 1)
	unit.Speaker.AddObserver(speaker.ObserverFunc(func(r speaker.Report) { done <- r }))

	d := NewDispatcher()
	d.Add("living", unit.Speaker)
	d.Register(context.Background(), bus)

	bus.Publish(eventbus.NewEvent(eventbus.EventTypeMQTT, "living", speaker.Desired{Volume: speaker.Percent(50)}))

	select {
	case r := <-done:
		require.NoError(t, r.Err)
		require.Equal(t, speaker.SourceMQTT, r.Source)
		require.Equal(t, 50, r.State.Volume)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not applied")
	}
	bus.Close(context.Background())
	require.Equal(t, 32, fake.NativeVolume())
}

type burstWatcher struct {
	changes int
}

func (w *burstWatcher) Watch(ctx context.Context, onChange func()) error {
	for i := 0; i < w.changes; i++ {
		onChange()
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestFollowSystemAudioCoalescesChanges(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	events := make(chan eventbus.Event, 10)
	bus.Subscribe(eventbus.EventTypeSystemVolume, func(e eventbus.Event) { events <- e })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		FollowSystemAudio(ctx, "living", &burstWatcher{changes: 5}, 30*time.Millisecond, bus)
		close(done)
	}()

	select {
	case e := <-events:
		require.Equal(t, "living", e.Speaker)
		require.NotNil(t, e.Desired.Volume)
		require.True(t, e.Desired.Volume.Inherit)
	case <-time.After(time.Second):
		t.Fatal("no system volume event")
	}

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, events)

	cancel()
	<-done
}

func TestHealthHandler(t *testing.T) {
	cfg := &config.Config{
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	collector := metrics.NewCollector()
	collector.ObserveState("living", speaker.Snapshot{Power: true, Volume: 40, Channel: 1})
	h := NewHealthService(cfg, metrics.Registry(collector))
	handler := h.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	require.Equal(t, http.StatusOK, get("/health").Code)
	require.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)
	h.SetReady(true)
	require.Equal(t, http.StatusOK, get("/ready").Code)

	rec := get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `fideliod_volume_percent{speaker="living"} 40`)
}
