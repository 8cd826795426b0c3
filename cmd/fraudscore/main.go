// Fraudscore - Anomaly-based fraud scoring for P2P payments.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// errScoreFailed is returned after an {"error"} result was written to
// stdout. It carries no message of its own.
var errScoreFailed = errors.New("scoring failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newApp(os.Stdin, os.Stdout, os.Stderr).Run(ctx, os.Args)
	stop()
	if err != nil {
		if !errors.Is(err, errScoreFailed) {
			slog.Error("fraudscore failed", "error", err)
		}
		os.Exit(1)
	}
}

// Global flag names.
const (
	configFlagName    = "config"
	modelsDirFlagName = "models"
	logLevelFlagName  = "log-level"
)

const appDescription = `With no command, reads one transaction as JSON from stdin and writes
the scoring result as JSON to stdout. The exit code is 1 when the
result is an error.`

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "fraudscore",
		Usage:       "anomaly-based fraud scoring for P2P transactions",
		Description: appDescription,
		Reader:      stdin,
		Writer:      stdout,
		ErrWriter:   stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlagName,
				Aliases: []string{"c"},
				Usage:   "path to a yaml config file",
				Sources: cli.EnvVars("FRAUDSCORE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    modelsDirFlagName,
				Aliases: []string{"m"},
				Usage:   "model registry directory (overrides registry.root)",
			},
			&cli.StringFlag{
				Name:  logLevelFlagName,
				Usage: "log level: debug, info, warn or error",
			},
		},
		Action: scoreAction,
		Commands: []*cli.Command{
			trainCommand(),
			serveCommand(),
			modelsCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print build information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "fraudscore %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			return err
		},
	}
}
