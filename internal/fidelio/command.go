package fidelio

import (
	"fmt"
	"strings"
)

// Command is a path suffix understood by the speaker.
type Command string

const (
	CommandPowerOn    Command = "index"
	CommandStandby    Command = "CTRL$STANDBY"
	CommandHomeStatus Command = "HOMESTATUS"
	CommandElapse     Command = "ELAPSE"

	volumePrefix = "VOLUME$VAL$"
)

// VolumeCommand sets the volume to a native 0..NativeVolumeMax value.
func VolumeCommand(native int) Command {
	return Command(fmt.Sprintf("%s%d", volumePrefix, native))
}

// Kind returns a low-cardinality name for the command, used in logs and
// metric labels. Channel paths are free-form and all map to "channel".
func (c Command) Kind() string {
	switch {
	case c == CommandPowerOn:
		return "power_on"
	case c == CommandStandby:
		return "standby"
	case c == CommandHomeStatus:
		return "power_status"
	case c == CommandElapse:
		return "volume_status"
	case strings.HasPrefix(string(c), volumePrefix):
		return "volume"
	default:
		return "channel"
	}
}
