package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fideliod/internal/config"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newDisconnected() *Client {
	return &Client{
		topics:        Topics{Prefix: "fidelio"},
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := newDisconnected()

	require.ErrorIs(t, c.Publish("", []byte("x"), 0, false), ErrInvalidTopic)
	require.ErrorIs(t, c.Publish("fidelio/a/state", []byte("x"), 3, false), ErrInvalidQoS)
	require.ErrorIs(t, c.Publish("fidelio/a/state", []byte("x"), 1, false), ErrNotConnected)
}

func TestSubscribeValidation(t *testing.T) {
	c := newDisconnected()
	noop := func(string, []byte) error { return nil }

	require.ErrorIs(t, c.Subscribe("", 0, noop), ErrInvalidTopic)
	require.ErrorIs(t, c.Subscribe("fidelio/+/set", 3, noop), ErrInvalidQoS)
	require.ErrorIs(t, c.Subscribe("fidelio/+/set", 0, nil), ErrSubscribeFailed)
}

func TestSubscribeWhileDisconnectedIsTracked(t *testing.T) {
	c := newDisconnected()

	err := c.Subscribe("fidelio/+/set", 1, func(string, []byte) error { return nil })
	require.NoError(t, err)
	require.Contains(t, c.subscriptions, "fidelio/+/set")
	require.Equal(t, byte(1), c.subscriptions["fidelio/+/set"].qos)
}

func TestCloseNil(t *testing.T) {
	require.NoError(t, newDisconnected().Close())
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	c := newDisconnected()
	var got string
	wrapped := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + ":" + string(payload)
		panic("boom")
	})

	require.NotPanics(t, func() {
		wrapped(nil, fakeMessage{topic: "fidelio/a/set", payload: []byte("{}")})
	})
	require.Equal(t, "fidelio/a/set:{}", got)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "fideliod-test",
		Username:       "user",
		Password:       "secret",
		KeepAlive:      config.Duration(15 * time.Second),
		ConnectTimeout: config.Duration(3 * time.Second),
	}
	opts := buildClientOptions(cfg, Topics{Prefix: "fidelio"})

	require.Equal(t, "fideliod-test", opts.ClientID)
	require.Equal(t, "user", opts.Username)
	require.Equal(t, "secret", opts.Password)
	require.True(t, opts.AutoReconnect)
	require.Equal(t, int64(15), opts.KeepAlive)
	require.Equal(t, 3*time.Second, opts.ConnectTimeout)
	require.True(t, opts.WillEnabled)
	require.Equal(t, "fidelio/status", opts.WillTopic)
	require.Equal(t, []byte("offline"), opts.WillPayload)
	require.True(t, opts.WillRetained)
	require.Len(t, opts.Servers, 1)
	require.Equal(t, "localhost:1883", opts.Servers[0].Host)
}
