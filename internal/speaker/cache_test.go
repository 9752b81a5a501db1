package speaker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCachePendingLifecycle(t *testing.T) {
	c := NewCache(DefaultSeed)
	require.Equal(t, Snapshot{Power: false, Volume: 10, Channel: 1}, c.Read())

	c.RecordVolume(40, true)
	c.RecordChannel(3, true)
	snap := c.Read()
	require.True(t, snap.VolumePending)
	require.True(t, snap.ChannelPending)
	require.Equal(t, 40, snap.Volume)
	require.Equal(t, 3, snap.Channel)

	c.RecordPower(true)
	c.RecordVolume(40, false)
	snap = c.Read()
	require.True(t, snap.Power)
	require.False(t, snap.VolumePending)
	require.True(t, snap.ChannelPending, "flags are independent")
}

func TestCacheReadIsCopy(t *testing.T) {
	c := NewCache(DefaultSeed)
	snap := c.Read()
	snap.Volume = 99
	require.Equal(t, 10, c.Read().Volume)
}
