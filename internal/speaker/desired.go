package speaker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// InheritSystemVolume is the symbolic volume that resolves to the local
// system-audio level at apply time.
const InheritSystemVolume = "inherit"

// VolumeRequest is either a concrete percentage or the inherit sentinel.
type VolumeRequest struct {
	Percent int
	Inherit bool
}

// Percent requests a concrete volume.
func Percent(p int) *VolumeRequest {
	return &VolumeRequest{Percent: p}
}

// Inherit requests the current system volume.
func Inherit() *VolumeRequest {
	return &VolumeRequest{Inherit: true}
}

func (v VolumeRequest) String() string {
	if v.Inherit {
		return InheritSystemVolume
	}
	return strconv.Itoa(v.Percent)
}

// MarshalJSON encodes the sentinel as a string and percentages as numbers.
func (v VolumeRequest) MarshalJSON() ([]byte, error) {
	if v.Inherit {
		return json.Marshal(InheritSystemVolume)
	}
	return json.Marshal(v.Percent)
}

// UnmarshalJSON accepts a number or one of the inherit spellings.
func (v *VolumeRequest) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseVolume(s)
		if err != nil {
			return err
		}
		*v = *parsed
		return nil
	}

	var p int
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("volume must be a number or %q: %w", InheritSystemVolume, err)
	}
	*v = VolumeRequest{Percent: p}
	return nil
}

// Desired is a partial mutation. A nil field means "leave unchanged".
type Desired struct {
	Power   *bool          `json:"power,omitempty"`
	Volume  *VolumeRequest `json:"volume,omitempty"`
	Channel *int           `json:"channel,omitempty"`
}

// IsEmpty reports whether no facet is requested.
func (d Desired) IsEmpty() bool {
	return d.Power == nil && d.Volume == nil && d.Channel == nil
}

func (d Desired) String() string {
	var parts []string
	if d.Power != nil {
		parts = append(parts, "power="+strconv.FormatBool(*d.Power))
	}
	if d.Volume != nil {
		parts = append(parts, "volume="+d.Volume.String())
	}
	if d.Channel != nil {
		parts = append(parts, "channel="+strconv.Itoa(*d.Channel))
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// ParsePower parses the usual spellings of on and off.
func ParsePower(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no", "standby":
		return false, nil
	}
	return false, fmt.Errorf("invalid power value %q", s)
}

// ParseVolume parses a percentage or the inherit sentinel. Range checks are
// left to Apply so that every source reports ErrRange the same way.
func ParseVolume(s string) (*VolumeRequest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case InheritSystemVolume, "inherit-system-volume", "system":
		return Inherit(), nil
	}
	p, err := strconv.Atoi(strings.TrimSuffix(s, "%"))
	if err != nil {
		return nil, fmt.Errorf("invalid volume value %q", s)
	}
	return Percent(p), nil
}
