package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dokzlo13/fideliod/internal/app"
	"github.com/dokzlo13/fideliod/internal/feed"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the daemon with every configured adapter",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reset-state",
				Usage: "Forget stored speaker snapshots and start from the configured seed",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Str("config", configPath).Msg("Starting fideliod")

			if c.Bool("reset-state") {
				log.Info().Msg("Clearing stored speaker state (--reset-state)")
				if err := app.ResetState(cfg); err != nil {
					log.Warn().Err(err).Msg("Failed to clear stored state")
				}
			}

			application, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			return application.Run(app.SignalContext())
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Query a speaker and print its state",
		ArgsUsage: "<speaker>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("status needs exactly one speaker name", 2)
			}
			return withSpeaker(c.Args().First(), func(ctx context.Context, o *app.OneShot) error {
				printStatus(c.App.Writer, o.Speaker, queryStatus(ctx, o.Speaker))
				return nil
			})
		},
	}
}

func applyCommand() *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "Apply a desired state once",
		ArgsUsage: "<speaker>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "power", Usage: "on or off"},
			&cli.StringFlag{Name: "volume", Usage: "0..100 or inherit"},
			&cli.StringFlag{Name: "channel", Usage: "1-based channel index or channel identifier"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("apply needs exactly one speaker name", 2)
			}
			return withSpeaker(c.Args().First(), func(ctx context.Context, o *app.OneShot) error {
				spk := o.Speaker
				desired, err := desiredFromFlags(c.String("power"), c.String("volume"), c.String("channel"), o.Config.Channels)
				if err != nil {
					return err
				}
				if desired.IsEmpty() {
					return cli.Exit("nothing to apply, pass --power, --volume or --channel", 2)
				}

				ctx = speaker.WithSource(ctx, speaker.SourceCLI)
				applyErr := spk.Apply(ctx, desired)
				printStatus(c.App.Writer, spk, statusResult{snapshot: spk.Snapshot()})
				return applyErr
			})
		},
	}
}

func withSpeaker(name string, action func(context.Context, *app.OneShot) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	oneshot, err := app.OpenSpeaker(cfg, name)
	if err != nil {
		return err
	}
	defer oneshot.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return action(ctx, oneshot)
}

// desiredFromFlags accepts the same spellings as the command feed.
func desiredFromFlags(power, volume, channel string, channels []string) (speaker.Desired, error) {
	fields := make(map[string]any)
	if power != "" {
		fields["power"] = power
	}
	if volume != "" {
		fields["volume"] = volume
	}
	if channel != "" {
		fields["channel"] = channel
	}
	return feed.FromMap(fields, channels)
}

type statusResult struct {
	snapshot speaker.Snapshot
	powerErr error
	volErr   error
}

func queryStatus(ctx context.Context, spk *speaker.Speaker) statusResult {
	var r statusResult
	_, r.powerErr = spk.Power(ctx)
	_, r.volErr = spk.Volume(ctx)
	r.snapshot = spk.Snapshot()
	return r
}

func printStatus(w io.Writer, spk *speaker.Speaker, r statusResult) {
	s := r.snapshot

	power := "standby"
	if s.Power {
		power = "on"
	}
	fmt.Fprintf(w, "speaker:  %s\n", spk.Name())
	fmt.Fprintf(w, "power:    %s%s\n", power, suffix(r.powerErr, false))
	fmt.Fprintf(w, "volume:   %d%%%s\n", s.Volume, suffix(r.volErr, s.VolumePending))

	channel := fmt.Sprintf("%d", s.Channel)
	if id, ok := spk.ChannelID(s.Channel); ok {
		channel = fmt.Sprintf("%d (%s)", s.Channel, id)
	}
	fmt.Fprintf(w, "channel:  %s%s\n", channel, suffix(nil, s.ChannelPending))
}

func suffix(err error, pending bool) string {
	switch {
	case err != nil:
		return fmt.Sprintf(" (cached, %v)", err)
	case pending:
		return " (pending)"
	}
	return ""
}
