package fidelio

import (
	"fmt"
	"math"
	"strconv"

	"github.com/titanous/json5"
)

// NativeVolumeMax is the top of the speaker's volume scale.
const NativeVolumeMax = 64

// Status discriminators found in the "command" field of a reply.
const (
	StatusStandby = "STANDBY"
	StatusElapse  = "ELAPSE"
	StatusNothing = "NOTHING"
)

// Status is a decoded status reply. The speaker answers with loosely typed
// JSON5 (unquoted keys, single quotes), so fields are kept untyped until a
// caller asks for a specific interpretation.
type Status struct {
	Command string
	Value   any
	Volume  any
}

// ParseStatus decodes a HOMESTATUS or ELAPSE reply.
func ParseStatus(body []byte) (Status, error) {
	var raw map[string]any
	if err := json5.Unmarshal(body, &raw); err != nil {
		return Status{}, fmt.Errorf("%w: decode reply: %w", ErrProtocol, err)
	}

	cmd, _ := raw["command"].(string)
	return Status{
		Command: cmd,
		Value:   raw["value"],
		Volume:  raw["volume"],
	}, nil
}

// Standby reports the standby flag of a STANDBY reply, using the loose
// truthiness the speaker firmware relies on (0, false, "" and null are false).
func (s Status) Standby() (bool, error) {
	if s.Command != StatusStandby {
		return false, fmt.Errorf("%w: expected %s reply, got %q", ErrProtocol, StatusStandby, s.Command)
	}
	return truthy(s.Value), nil
}

// NativeVolume returns the native volume carried by an ELAPSE reply. Values
// outside 0..NativeVolumeMax are rejected.
func (s Status) NativeVolume() (int, error) {
	if s.Command != StatusElapse {
		return 0, fmt.Errorf("%w: expected %s reply, got %q", ErrProtocol, StatusElapse, s.Command)
	}

	var native int
	switch v := s.Volume.(type) {
	case float64:
		native = int(math.Round(v))
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%w: volume %q: %w", ErrProtocol, v, err)
		}
		native = n
	default:
		return 0, fmt.Errorf("%w: ELAPSE reply without volume", ErrProtocol)
	}

	if native < 0 || native > NativeVolumeMax {
		return 0, fmt.Errorf("%w: volume %d outside 0..%d", ErrProtocol, native, NativeVolumeMax)
	}
	return native, nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	default:
		return true
	}
}

// ToNative maps a 0..100 percentage onto the native 0..64 scale.
func ToNative(percent int) int {
	return int(math.Round(float64(percent) / 100.0 * NativeVolumeMax))
}

// ToPercent maps a native 0..64 value back onto 0..100.
func ToPercent(native int) int {
	return int(math.Round(float64(native) / NativeVolumeMax * 100.0))
}
