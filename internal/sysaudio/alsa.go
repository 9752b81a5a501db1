// Package sysaudio reads and watches the local ALSA mixer through the
// amixer and alsactl command line tools.
package sysaudio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrUnavailable = errors.New("system audio unavailable")

// RunFunc runs a command to completion and returns its stdout.
type RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// StreamFunc starts a long-running command and returns its stdout. The
// command is stopped when ctx is cancelled or the reader is closed.
type StreamFunc func(ctx context.Context, name string, args ...string) (io.ReadCloser, error)

// Option configures an ALSA monitor.
type Option func(*ALSA)

func WithCard(card string) Option {
	return func(a *ALSA) { a.card = card }
}

// WithControl selects the mixer control. Empty keeps "Master".
func WithControl(control string) Option {
	return func(a *ALSA) {
		if control != "" {
			a.control = control
		}
	}
}

// WithRunner replaces exec for one-shot commands.
func WithRunner(run RunFunc) Option {
	return func(a *ALSA) { a.run = run }
}

// WithStreamer replaces exec for the monitor process.
func WithStreamer(stream StreamFunc) Option {
	return func(a *ALSA) { a.stream = stream }
}

// ALSA reports one mixer control.
type ALSA struct {
	card    string
	control string
	run     RunFunc
	stream  StreamFunc
}

func New(opts ...Option) *ALSA {
	a := &ALSA{
		control: "Master",
		run:     execRun,
		stream:  execStream,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Level is one reading of the mixer control.
type Level struct {
	Percent int
	Muted   bool
}

// Read returns the current level of the control.
func (a *ALSA) Read(ctx context.Context) (Level, error) {
	args := []string{}
	if a.card != "" {
		args = append(args, "-c", a.card)
	}
	args = append(args, "get", a.control)

	out, err := a.run(ctx, "amixer", args...)
	if err != nil {
		return Level{}, fmt.Errorf("%w: amixer get %s: %w", ErrUnavailable, a.control, err)
	}
	return ParseAmixer(out)
}

func (a *ALSA) Muted(ctx context.Context) (bool, error) {
	level, err := a.Read(ctx)
	if err != nil {
		return false, err
	}
	return level.Muted, nil
}

func (a *ALSA) Volume(ctx context.Context) (int, error) {
	level, err := a.Read(ctx)
	if err != nil {
		return 0, err
	}
	return level.Percent, nil
}

// Watch runs alsactl monitor and calls onChange for every mixer event until
// ctx is cancelled or the monitor exits. Events are not coalesced.
func (a *ALSA) Watch(ctx context.Context, onChange func()) error {
	args := []string{"monitor"}
	if a.card != "" {
		args = append(args, a.card)
	}

	r, err := a.stream(ctx, "alsactl", args...)
	if err != nil {
		return fmt.Errorf("%w: alsactl monitor: %w", ErrUnavailable, err)
	}
	defer r.Close()

	log.Info().Str("control", a.control).Str("card", a.card).Msg("Watching system audio")

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		log.Trace().Str("line", line).Msg("Mixer event")
		onChange()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading alsactl monitor: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: alsactl monitor exited", ErrUnavailable)
}

var (
	percentPattern = regexp.MustCompile(`\[(\d{1,3})%\]`)
	switchPattern  = regexp.MustCompile(`\[(on|off)\]`)
)

// ParseAmixer extracts the first channel's level and switch from amixer get
// output. Controls without a playback switch are never muted.
func ParseAmixer(out []byte) (Level, error) {
	m := percentPattern.FindSubmatch(out)
	if m == nil {
		return Level{}, fmt.Errorf("%w: no volume in amixer output", ErrUnavailable)
	}
	percent, err := strconv.Atoi(string(m[1]))
	if err != nil || percent > 100 {
		return Level{}, fmt.Errorf("%w: invalid amixer volume %q", ErrUnavailable, m[1])
	}

	level := Level{Percent: percent}
	if sw := switchPattern.FindSubmatch(out); sw != nil {
		level.Muted = string(sw[1]) == "off"
	}
	return level, nil
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type cmdReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (r *cmdReader) Close() error {
	err := r.ReadCloser.Close()
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
	return err
}

func execStream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	return &cmdReader{ReadCloser: stdout, cmd: cmd}, nil
}
