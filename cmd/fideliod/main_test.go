package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fideliod/internal/feed"
	"github.com/dokzlo13/fideliod/internal/fidelio/fideliotest"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

var testChannels = []string{"nav$AUX", "nav$BT", "nav$USB"}

func TestDesiredFromFlags(t *testing.T) {
	d, err := desiredFromFlags("on", "inherit", "nav$usb", testChannels)
	require.NoError(t, err)
	require.True(t, *d.Power)
	require.True(t, d.Volume.Inherit)
	require.Equal(t, 3, *d.Channel)

	d, err = desiredFromFlags("", "40", "", testChannels)
	require.NoError(t, err)
	require.Nil(t, d.Power)
	require.Equal(t, 40, d.Volume.Percent)

	d, err = desiredFromFlags("", "", "", testChannels)
	require.NoError(t, err)
	require.True(t, d.IsEmpty())

	_, err = desiredFromFlags("maybe", "", "", testChannels)
	require.ErrorIs(t, err, feed.ErrInvalidCommand)
}

func TestPrintStatus(t *testing.T) {
	spk := speaker.New("living", nil,
		speaker.WithChannels(testChannels),
		speaker.WithSeed(speaker.Snapshot{Power: false, Volume: 35, Channel: 2, VolumePending: true}),
	)

	var buf bytes.Buffer
	printStatus(&buf, spk, statusResult{snapshot: spk.Snapshot(), powerErr: errors.New("speaker unreachable")})

	out := buf.String()
	require.Contains(t, out, "speaker:  living\n")
	require.Contains(t, out, "power:    standby (cached, speaker unreachable)\n")
	require.Contains(t, out, "volume:   35% (pending)\n")
	require.Contains(t, out, "channel:  2 (nav$BT)\n")
}

func writeConfig(t *testing.T, fake *fideliotest.Speaker) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
speakers:
  - name: living
    host: %s
    port: %d
    timeout: 2s
    restore_state: true
    channels: ["nav$AUX", "nav$BT", "nav$USB"]
database:
  path: %s
log:
  level: error
`, fake.Host(), fake.Port(), filepath.Join(dir, "fideliod.sqlite"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplyAndStatusCommands(t *testing.T) {
	fake := fideliotest.NewSpeaker(true, 10)
	defer fake.Close()
	path := writeConfig(t, fake)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run([]string{"fideliod", "-c", path, "apply", "--volume", "50", "--channel", "nav$BT", "living"})
	require.NoError(t, err)
	require.Equal(t, 32, fake.NativeVolume())
	require.Contains(t, fake.Requests(), "nav$BT")
	require.Contains(t, out.String(), "volume:   50%\n")

	out.Reset()
	app = newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"fideliod", "-c", path, "status", "living"}))
	require.Contains(t, out.String(), "power:    on\n")
	require.Contains(t, out.String(), "volume:   50%\n")
	require.Contains(t, out.String(), "channel:  2 (nav$BT)\n")
}

func TestApplyUnknownSpeaker(t *testing.T) {
	fake := fideliotest.NewSpeaker(true, 10)
	defer fake.Close()
	path := writeConfig(t, fake)

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"fideliod", "-c", path, "apply", "--power", "on", "kitchen"})
	require.ErrorContains(t, err, `speaker "kitchen" is not configured`)
}
