package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wpinstructions/wpinstructions/cmd/wpinstructions/commands"
	"github.com/wpinstructions/wpinstructions/pkg/telemetry"
)

// Set with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// LOG_LEVEL applies until the settings file is read.
	level, err := telemetry.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(level)

	// A signal cancels ctx and with it the running wp-cli command.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("wpinstructions failed")
		stop()
		os.Exit(1)
	}
}
