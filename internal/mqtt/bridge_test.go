package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fideliod/internal/eventbus"
	"github.com/dokzlo13/fideliod/internal/feed"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeConn struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]MessageHandler
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]MessageHandler)}
}

func (c *fakeConn) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (c *fakeConn) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	return nil
}

type fakeBus struct {
	events []eventbus.Event
}

func (b *fakeBus) Publish(event eventbus.Event) {
	b.events = append(b.events, event)
}

type staticSpeaker struct {
	name string
	snap speaker.Snapshot
}

func (s staticSpeaker) Name() string               { return s.name }
func (s staticSpeaker) Snapshot() speaker.Snapshot { return s.snap }

var testChannels = []string{"nav$AUX", "nav$BT", "nav$USB"}

func newTestBridge(t *testing.T) (*Bridge, *fakeConn, *fakeBus) {
	t.Helper()
	conn := newFakeConn()
	bus := &fakeBus{}
	b := NewBridge(conn, Topics{Prefix: "fidelio"}, 1, bus)
	b.AddSpeaker(staticSpeaker{name: "living", snap: speaker.Snapshot{Power: true, Volume: 30, Channel: 2}}, testChannels)
	require.NoError(t, b.Start())
	return b, conn, bus
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home/fidelio"}

	require.Equal(t, "home/fidelio/status", topics.Status())
	require.Equal(t, "home/fidelio/living/set", topics.Set("living"))
	require.Equal(t, "home/fidelio/living/state", topics.State("living"))
	require.Equal(t, "home/fidelio/+/set", topics.AllSet())

	name, ok := topics.SpeakerFromSet("home/fidelio/living/set")
	require.True(t, ok)
	require.Equal(t, "living", name)

	for _, bad := range []string{"home/fidelio/living/state", "other/living/set", "home/fidelio//set", "home/fidelio/a/b/set"} {
		_, ok := topics.SpeakerFromSet(bad)
		require.False(t, ok, bad)
	}
}

func TestDecodeSet(t *testing.T) {
	d, err := DecodeSet([]byte(`{power: "on", volume: "inherit", channel: "nav$BT"}`), testChannels)
	require.NoError(t, err)
	require.Equal(t, true, *d.Power)
	require.True(t, d.Volume.Inherit)
	require.Equal(t, 2, *d.Channel)

	d, err = DecodeSet([]byte(`{"volume": 35, "power": false}`), testChannels)
	require.NoError(t, err)
	require.Equal(t, false, *d.Power)
	require.Equal(t, 35, d.Volume.Percent)
	require.Nil(t, d.Channel)

	d, err = DecodeSet([]byte(`{power:'off', volume:'20', channel:3}`), testChannels)
	require.NoError(t, err)
	require.Equal(t, false, *d.Power)
	require.Equal(t, 20, d.Volume.Percent)
	require.Equal(t, 3, *d.Channel)

	_, err = DecodeSet([]byte(`not json`), testChannels)
	require.ErrorIs(t, err, feed.ErrInvalidCommand)

	_, err = DecodeSet([]byte(`{"volume": 12.5}`), testChannels)
	require.ErrorIs(t, err, feed.ErrInvalidCommand)
}

func TestBridgeSetPublishesEvent(t *testing.T) {
	_, conn, bus := newTestBridge(t)

	handler := conn.handlers["fidelio/+/set"]
	require.NotNil(t, handler)
	require.NoError(t, handler("fidelio/living/set", []byte(`{"volume": 40}`)))

	require.Len(t, bus.events, 1)
	event := bus.events[0]
	require.Equal(t, eventbus.EventTypeMQTT, event.Type)
	require.Equal(t, "living", event.Speaker)
	require.Equal(t, 40, event.Desired.Volume.Percent)
	require.NotEmpty(t, event.ID)
}

func TestBridgeSetRejects(t *testing.T) {
	_, conn, bus := newTestBridge(t)
	handler := conn.handlers["fidelio/+/set"]

	require.ErrorIs(t, handler("fidelio/kitchen/set", []byte(`{"volume": 40}`)), ErrUnknownSpeaker)
	require.ErrorIs(t, handler("fidelio/living/set", []byte(`{"bass": 4}`)), feed.ErrInvalidCommand)
	require.NoError(t, handler("fidelio/living/set", []byte(`{}`)))
	require.Empty(t, bus.events)
}

func TestBridgeApplyCompletedPublishesRetainedState(t *testing.T) {
	b, conn, _ := newTestBridge(t)
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	b.ApplyCompleted(speaker.Report{
		Speaker:  "living",
		Source:   speaker.SourceMQTT,
		State:    speaker.Snapshot{Power: false, Volume: 40, Channel: 1, VolumePending: true},
		Err:      errors.New("speaker unreachable"),
		Started:  started,
		Duration: time.Second,
	})

	require.Len(t, conn.published, 1)
	msg := conn.published[0]
	require.Equal(t, "fidelio/living/state", msg.topic)
	require.True(t, msg.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	require.Equal(t, false, got["power"])
	require.Equal(t, float64(40), got["volume"])
	require.Equal(t, true, got["volume_pending"])
	require.Equal(t, "mqtt", got["source"])
	require.Equal(t, "speaker unreachable", got["error"])
	require.Equal(t, "2024-05-01T12:00:01Z", got["time"])
}

func TestBridgePublishAll(t *testing.T) {
	b, conn, _ := newTestBridge(t)
	b.AddSpeaker(staticSpeaker{name: "bedroom"}, nil)

	b.PublishAll()

	require.Len(t, conn.published, 2)
	require.Equal(t, "fidelio/bedroom/state", conn.published[0].topic)
	require.Equal(t, "fidelio/living/state", conn.published[1].topic)

	var got StatePayload
	require.NoError(t, json.Unmarshal(conn.published[1].payload, &got))
	require.Equal(t, 30, got.Volume)
	require.Empty(t, got.Error)
}
