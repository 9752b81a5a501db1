package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dokzlo13/fideliod/internal/config"
)

var (
	configPath string
	logLevel   string
	timeout    time.Duration
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Interrupted")
			return
		}
		log.Fatal().Err(err).Msg("fideliod failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "fideliod",
		Usage: "Keep Philips Fidelio speakers in the state you asked for",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to configuration file",
				Value:       "config.yaml",
				EnvVars:     []string{"FIDELIOD_CONFIG"},
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Override the configured log level (debug, info, warn, error)",
				Destination: &logLevel,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Timeout for one-shot commands",
				Value:       15 * time.Second,
				Destination: &timeout,
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			statusCommand(),
			applyCommand(),
		},
	}
}

// loadConfig loads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	setupLogging(level, cfg.Log.JSON, cfg.Log.Colors)
	return cfg, nil
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
