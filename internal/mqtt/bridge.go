package mqtt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/titanous/json5"

	"github.com/dokzlo13/fideliod/internal/eventbus"
	"github.com/dokzlo13/fideliod/internal/feed"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

// Messenger is the broker surface the bridge needs. *Client implements it.
type Messenger interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// EventPublisher accepts commands for the dispatcher.
type EventPublisher interface {
	Publish(event eventbus.Event)
}

// Speaker is what the bridge reads when republishing state.
type Speaker interface {
	Name() string
	Snapshot() speaker.Snapshot
}

// StatePayload is the retained JSON on <prefix>/<speaker>/state.
type StatePayload struct {
	speaker.Snapshot
	Source string    `json:"source,omitempty"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

type bridgeSpeaker struct {
	spk      Speaker
	channels []string
}

// Bridge turns set messages into bus events and publishes speaker state
// after every apply.
type Bridge struct {
	conn   Messenger
	topics Topics
	qos    byte
	bus    EventPublisher

	mu       sync.RWMutex
	speakers map[string]bridgeSpeaker
}

func NewBridge(conn Messenger, topics Topics, qos byte, bus EventPublisher) *Bridge {
	return &Bridge{
		conn:     conn,
		topics:   topics,
		qos:      qos,
		bus:      bus,
		speakers: make(map[string]bridgeSpeaker),
	}
}

// AddSpeaker makes a speaker addressable. channels is its channel table,
// used to resolve channel identifiers in set payloads.
func (b *Bridge) AddSpeaker(spk Speaker, channels []string) {
	b.mu.Lock()
	b.speakers[spk.Name()] = bridgeSpeaker{spk: spk, channels: channels}
	b.mu.Unlock()
}

// Start subscribes to the set topics of all speakers.
func (b *Bridge) Start() error {
	if err := b.conn.Subscribe(b.topics.AllSet(), b.qos, b.handleSet); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topics.AllSet(), err)
	}
	log.Info().Str("topic", b.topics.AllSet()).Msg("MQTT bridge listening")
	return nil
}

func (b *Bridge) handleSet(topic string, payload []byte) error {
	name, ok := b.topics.SpeakerFromSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	b.mu.RLock()
	entry, ok := b.speakers[name]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpeaker, name)
	}

	desired, err := DecodeSet(payload, entry.channels)
	if err != nil {
		return err
	}
	if desired.IsEmpty() {
		return nil
	}

	log.Debug().Str("speaker", name).Stringer("desired", desired).Msg("MQTT set received")
	b.bus.Publish(eventbus.NewEvent(eventbus.EventTypeMQTT, name, desired))
	return nil
}

// DecodeSet parses a set payload. It accepts relaxed JSON objects with the
// same keys and value spellings as the feed file, for example
// {power: "on", volume: "inherit", channel: "nav$BT"}.
func DecodeSet(payload []byte, channels []string) (speaker.Desired, error) {
	var fields map[string]any
	if err := json5.Unmarshal(payload, &fields); err != nil {
		return speaker.Desired{}, fmt.Errorf("%w: %w", feed.ErrInvalidCommand, err)
	}
	return feed.FromMap(fields, channels)
}

// ApplyCompleted publishes the retained state of the speaker.
func (b *Bridge) ApplyCompleted(report speaker.Report) {
	payload := StatePayload{
		Snapshot: report.State,
		Source:   report.Source,
		Time:     report.Started.Add(report.Duration),
	}
	if report.Err != nil {
		payload.Error = report.Err.Error()
	}
	b.publishState(report.Speaker, payload)
}

// PublishAll republishes the current state of every speaker, typically after
// a reconnect.
func (b *Bridge) PublishAll() {
	b.mu.RLock()
	names := make([]string, 0, len(b.speakers))
	for name := range b.speakers {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		b.mu.RLock()
		entry := b.speakers[name]
		b.mu.RUnlock()
		b.publishState(name, StatePayload{Snapshot: entry.spk.Snapshot(), Time: time.Now()})
	}
}

func (b *Bridge) publishState(name string, payload StatePayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("speaker", name).Msg("Failed to encode MQTT state")
		return
	}
	if err := b.conn.Publish(b.topics.State(name), data, b.qos, true); err != nil {
		log.Warn().Err(err).Str("speaker", name).Msg("Failed to publish MQTT state")
	}
}
