package speaker

// Snapshot is a copy of the cache at one point in time.
type Snapshot struct {
	Power          bool `json:"power"`
	Volume         int  `json:"volume"`
	Channel        int  `json:"channel"`
	VolumePending  bool `json:"volume_pending"`
	ChannelPending bool `json:"channel_pending"`
}

// DefaultSeed is used for facets the configuration leaves unset.
var DefaultSeed = Snapshot{Power: false, Volume: 10, Channel: 1}

// Cache holds the last observed or assumed speaker state plus the deferred
// writes that still have to reach the device. It does no I/O and is not safe
// for concurrent use; Speaker serializes access.
//
// While VolumePending is set, Volume is the value to apply the next time the
// speaker is on. The flag is cleared only once that value is confirmed.
// ChannelPending works the same way for Channel.
type Cache struct {
	state Snapshot
}

// NewCache seeds a cache.
func NewCache(seed Snapshot) *Cache {
	return &Cache{state: seed}
}

// Read returns a copy of the current state.
func (c *Cache) Read() Snapshot {
	return c.state
}

func (c *Cache) RecordPower(on bool) {
	c.state.Power = on
}

func (c *Cache) RecordVolume(percent int, pending bool) {
	c.state.Volume = percent
	c.state.VolumePending = pending
}

func (c *Cache) RecordChannel(index int, pending bool) {
	c.state.Channel = index
	c.state.ChannelPending = pending
}
