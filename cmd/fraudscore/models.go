package main

import (
	"context"
	"fmt"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"github.com/urfave/cli/v3"
)

func outputFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output format [json, yaml]",
		Value:   formatJSON,
	}
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "inspect and promote model versions",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list saved versions, newest first",
				Flags:  []cli.Flag{outputFlag()},
				Action: withRegistry(listModels),
			},
			{
				Name:   "current",
				Usage:  "show the version the current alias points to",
				Flags:  []cli.Flag{outputFlag()},
				Action: withRegistry(currentModel),
			},
			{
				Name:      "promote",
				Usage:     "point the current alias at an existing version",
				ArgsUsage: "<version>",
				Flags:     []cli.Flag{outputFlag()},
				Action:    withRegistry(promoteModel),
			},
		},
	}
}

// versionStatus is printed by current and promote.
type versionStatus struct {
	Version string `json:"version" yaml:"version"`
	Current bool   `json:"current" yaml:"current"`
}

type registryAction func(ctx context.Context, cmd *cli.Command, reg *registry.Registry) (any, error)

// withRegistry opens the registry, runs fn and prints its result.
func withRegistry(fn registryAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openStack(cfg, false)
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := fn(ctx, cmd, s.registry)
		if err != nil {
			return err
		}
		return printOutput(cmd.Root().Writer, cmd.String("output"), v)
	}
}

func listModels(ctx context.Context, _ *cli.Command, reg *registry.Registry) (any, error) {
	versions, err := reg.List(ctx)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []registry.VersionInfo{}
	}
	return versions, nil
}

func currentModel(ctx context.Context, _ *cli.Command, reg *registry.Registry) (any, error) {
	version, err := reg.Current(ctx)
	if err != nil {
		return nil, err
	}
	return versionStatus{Version: version, Current: true}, nil
}

func promoteModel(ctx context.Context, cmd *cli.Command, reg *registry.Registry) (any, error) {
	if cmd.NArg() != 1 {
		return nil, fmt.Errorf("%w: promote takes exactly one version argument", domain.ErrInvalidInput)
	}
	version := cmd.Args().First()
	if err := reg.SetCurrent(ctx, version); err != nil {
		return nil, err
	}
	return versionStatus{Version: version, Current: true}, nil
}
