package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds fideliod topics under a configurable prefix:
//
//	<prefix>/status            online/offline, retained, also the LWT
//	<prefix>/<speaker>/set     desired state JSON, consumed
//	<prefix>/<speaker>/state   snapshot JSON after every apply, retained
type Topics struct {
	Prefix string
}

func (t Topics) Status() string {
	return t.Prefix + "/status"
}

func (t Topics) Set(speaker string) string {
	return fmt.Sprintf("%s/%s/set", t.Prefix, speaker)
}

func (t Topics) State(speaker string) string {
	return fmt.Sprintf("%s/%s/state", t.Prefix, speaker)
}

// AllSet matches the set topic of every speaker.
func (t Topics) AllSet() string {
	return t.Prefix + "/+/set"
}

// SpeakerFromSet extracts the speaker name from a set topic.
func (t Topics) SpeakerFromSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
