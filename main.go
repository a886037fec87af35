package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"go-alac-dl/app"
	"go-alac-dl/config"
	"go-alac-dl/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := app.ParseArgs(args, os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		return fail(err)
	}

	// Load and validate configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fail(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fail(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &app.Runner{
		Collaborator: app.NewAppleMusicBackend(cfg, os.Stdout, logger),
		Logger:       logger,
	}
	if err := runner.Run(ctx, opts); err != nil {
		return fail(err)
	}
	return 0
}

func fail(err error) int {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
