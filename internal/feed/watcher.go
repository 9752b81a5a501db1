// Package feed turns edits of a plain file into speaker commands. It lets
// shell scripts and other programs drive a speaker by writing one line.
package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/middleware"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

// DefaultQuiet is how long the file must stay unchanged before it is read.
const DefaultQuiet = 200 * time.Millisecond

// Handler receives every parsed mutation.
type Handler func(speaker.Desired)

// Watcher watches one file. The parent directory is watched so that editors
// which replace the file on save are seen too.
type Watcher struct {
	path    string
	parser  Parser
	handler Handler
	quiet   time.Duration
}

// NewWatcher creates a watcher. It does nothing until Run is called.
func NewWatcher(path string, parser Parser, handler Handler, quiet time.Duration) *Watcher {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Watcher{
		path:    filepath.Clean(path),
		parser:  parser,
		handler: handler,
		quiet:   quiet,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	collector := middleware.NewQuiet[fsnotify.Op](w.quiet, func([]fsnotify.Op) { w.load() })
	defer collector.Close()

	log.Info().Str("path", w.path).Msg("Watching command feed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			collector.Add(ev.Op)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", w.path).Msg("File watcher error")
		}
	}
}

func (w *Watcher) load() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", w.path).Msg("Failed to read command feed")
		}
		return
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}

	desired, err := w.parser.Parse(content)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("Failed to parse command feed")
		return
	}
	if desired.IsEmpty() {
		log.Debug().Str("path", w.path).Msg("Command feed produced no change")
		return
	}

	log.Debug().Str("path", w.path).Stringer("desired", desired).Msg("Command feed changed")
	w.handler(desired)
}
