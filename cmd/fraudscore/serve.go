package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/api"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/worker"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the HTTP scoring API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "listen host (overrides server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port (overrides server.port)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "goroutines scoring requests from the event bus (0 disables)",
				Value: 4,
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = int(cmd.Int("port"))
	}

	slog.Info("starting fraudscore",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"registry", cfg.Registry.Root,
		"alias_store", cfg.Registry.AliasStore,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	s, err := openStack(cfg, true)
	if err != nil {
		return err
	}
	defer s.Close()

	engine, pol, err := s.engine()
	if err != nil {
		return err
	}
	if current, err := s.registry.Current(ctx); err == nil {
		slog.Info("current model version", "version", current)
	} else {
		slog.Warn("no current model version, run 'fraudscore train' or PUT /models/current", "error", err)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if n := int(cmd.Int("workers")); s.bus != nil && n > 0 {
		asyncWorker = worker.NewWorker(s.bus, engine)
		if err := asyncWorker.Start(worker.Config{WorkerCount: n}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Scorer:   engine,
		Registry: s.registry,
		Repo:     s.repo,
		Cache:    s.cache,
		Bus:      s.bus,
		Policy:   pol,
		Breaker:  cfg.Breaker,
		Training: cfg.Training,
		Metrics:  s.metrics,
		Gatherer: s.gatherer,
		Version:  Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fraudscore is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		serveErr = fmt.Errorf("server failed: %w", err)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudscore shutdown complete")
	return serveErr
}
