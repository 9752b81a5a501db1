package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fideliod/internal/speaker"
)

func TestWatcherDeliversDebouncedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "living-room.cmd")

	var mu sync.Mutex
	var got []speaker.Desired
	w := NewWatcher(path, TextParser{Channels: channels}, func(d speaker.Desired) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, d)
	}, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.cmd"), []byte("power=on"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("volume=10"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("volume=30 channel=2"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, speaker.Desired{Volume: speaker.Percent(30), Channel: intPtr(2)}, got[0])
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent", "x.cmd"), TextParser{}, func(speaker.Desired) {}, 0)
	require.Error(t, w.Run(context.Background()))
}
