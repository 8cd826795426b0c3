package main

import (
	"context"
	"log/slog"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/trainer"
	"github.com/urfave/cli/v3"
)

func trainCommand() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "train the models on synthetic data and publish them as one version",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "version",
				Usage: "version name (default: current time as YYYYMMDD_HHMMSS)",
			},
			&cli.StringSliceFlag{
				Name:  "model-type",
				Usage: "train only these model types (default: all)",
			},
			&cli.IntFlag{
				Name:  "samples",
				Usage: "synthetic dataset size (overrides training.samples)",
			},
			&cli.IntFlag{
				Name:  "seed",
				Usage: "dataset and model seed (overrides training.seed)",
			},
			&cli.BoolFlag{
				Name:  "no-promote",
				Usage: "leave the current alias unchanged",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format [json, yaml]",
				Value:   formatJSON,
			},
		},
		Action: trainAction,
	}
}

func trainAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	training := cfg.Training
	if cmd.IsSet("samples") {
		training.Samples = int(cmd.Int("samples"))
	}
	if cmd.IsSet("seed") {
		training.Seed = uint64(cmd.Int("seed"))
	}

	var kinds []domain.ModelType
	for _, name := range cmd.StringSlice("model-type") {
		kind, err := domain.ParseModelType(name)
		if err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	s, err := openStack(cfg, false)
	if err != nil {
		return err
	}
	defer s.Close()

	slog.Info("training models",
		"root", cfg.Registry.Root,
		"samples", training.Samples,
		"seed", training.Seed,
	)

	summary, err := trainer.Publish(ctx, s.registry, training, trainer.PublishOptions{
		Version:     cmd.String("version"),
		Kinds:       kinds,
		SkipPromote: cmd.Bool("no-promote"),
	})
	if err != nil {
		return err
	}

	slog.Info("models published",
		"version", summary.Version,
		"path", summary.Path,
		"current", summary.Current,
	)
	return printOutput(cmd.Root().Writer, cmd.String("output"), summary)
}
