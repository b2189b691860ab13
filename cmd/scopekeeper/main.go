package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfroyo/scopekeeper/cmd/scopekeeper/commands"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Logging is configured by the command runtime from the telemetry
	// section of the loaded configuration; main only handles process
	// lifetime.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		stop()
		os.Exit(commands.ExitCode(err))
	}
}
