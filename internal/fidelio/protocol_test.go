package fidelio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVolumeRoundTrip(t *testing.T) {
	for percent := 0; percent <= 100; percent++ {
		native := ToNative(percent)
		require.GreaterOrEqual(t, native, 0)
		require.LessOrEqual(t, native, NativeVolumeMax)

		back := ToPercent(native)
		diff := back - percent
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqualf(t, diff, 1, "percent %d -> native %d -> percent %d", percent, native, back)
	}
}

func TestVolumeScaleEndpoints(t *testing.T) {
	require.Equal(t, 0, ToNative(0))
	require.Equal(t, 64, ToNative(100))
	require.Equal(t, 32, ToNative(50))
	require.Equal(t, 100, ToPercent(64))
	require.Equal(t, 0, ToPercent(0))
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantCommand string
		wantStandby bool
		standbyErr  bool
	}{
		{"standby_numeric_on", "{command:'STANDBY',value:0}", StatusStandby, false, false},
		{"standby_numeric_off", "{command:'STANDBY',value:1}", StatusStandby, true, false},
		{"standby_bool", `{"command":"STANDBY","value":true}`, StatusStandby, true, false},
		{"standby_missing_value", "{command:'STANDBY'}", StatusStandby, false, false},
		{"elapse_is_not_standby", "{command:'ELAPSE',volume:12}", StatusElapse, false, true},
		{"nothing", "{command:'NOTHING'}", StatusNothing, false, true},
		{"standby_string_value", "{command:'STANDBY',value:'1'}", StatusStandby, true, false},
		{"double_quoted", `{"command":"STANDBY","value":0}`, StatusStandby, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := ParseStatus([]byte(tt.body))
			require.NoError(t, err)
			require.Equal(t, tt.wantCommand, status.Command)

			standby, err := status.Standby()
			if tt.standbyErr {
				require.ErrorIs(t, err, ErrProtocol)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantStandby, standby)
		})
	}
}

func TestParseStatusGarbage(t *testing.T) {
	_, err := ParseStatus([]byte("<html>not json</html>"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrProtocol))
}

func TestNativeVolume(t *testing.T) {
	status, err := ParseStatus([]byte("{command:'ELAPSE',value:12,volume:32}"))
	require.NoError(t, err)
	native, err := status.NativeVolume()
	require.NoError(t, err)
	require.Equal(t, 32, native)

	status, err = ParseStatus([]byte("{command:'ELAPSE',value:12}"))
	require.NoError(t, err)
	_, err = status.NativeVolume()
	require.ErrorIs(t, err, ErrProtocol)

	status, err = ParseStatus([]byte("{command:'ELAPSE',volume:'64'}"))
	require.NoError(t, err)
	native, err = status.NativeVolume()
	require.NoError(t, err)
	require.Equal(t, NativeVolumeMax, native)

	status, err = ParseStatus([]byte("{command:'NOTHING'}"))
	require.NoError(t, err)
	_, err = status.NativeVolume()
	require.ErrorIs(t, err, ErrProtocol)

	for _, body := range []string{"{command:'ELAPSE',volume:200}", "{command:'ELAPSE',volume:-3}", "{command:'ELAPSE',volume:'65'}"} {
		status, err = ParseStatus([]byte(body))
		require.NoError(t, err)
		_, err = status.NativeVolume()
		require.ErrorIs(t, err, ErrProtocol, body)
	}
}

func TestCommandKind(t *testing.T) {
	require.Equal(t, "power_on", CommandPowerOn.Kind())
	require.Equal(t, "standby", CommandStandby.Kind())
	require.Equal(t, "power_status", CommandHomeStatus.Kind())
	require.Equal(t, "volume_status", CommandElapse.Kind())
	require.Equal(t, "volume", VolumeCommand(20).Kind())
	require.Equal(t, "channel", Command("navigateTo$AUX").Kind())
	require.Equal(t, Command("VOLUME$VAL$20"), VolumeCommand(20))
}
