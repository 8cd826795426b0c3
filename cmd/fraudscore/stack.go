package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/bus"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/cache"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/config"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/metrics"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/policy"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/repository"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/scoring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// loadConfig reads the config file and environment, applies the global
// flags and installs the logger.
func loadConfig(cmd *cli.Command) (*domain.Config, error) {
	cfg, err := config.Load(cmd.String(configFlagName))
	if err != nil {
		return nil, err
	}
	if root := cmd.String(modelsDirFlagName); root != "" {
		cfg.Registry.Root = root
	}
	if level := cmd.String(logLevelFlagName); level != "" {
		cfg.Logging.Level = level
	}

	initLogging(cfg.Logging, cmd.Root().ErrWriter)
	return cfg, nil
}

// initLogging writes structured logs to w. Stdout is reserved for
// command output.
func initLogging(cfg domain.LoggingConfig, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if os.Getenv("FRAUDSCORE_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// stack holds the backends opened from a configuration.
type stack struct {
	cfg      *domain.Config
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	registry *registry.Registry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	closers  []io.Closer
}

// openStack opens the repository, alias store and registry. serving
// additionally opens the artifact cache, event bus and metrics.
func openStack(cfg *domain.Config, serving bool) (*stack, error) {
	s := &stack{cfg: cfg}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	if repo != nil {
		s.repo = repo
		s.closers = append(s.closers, repo)
		slog.Debug("repository initialized", "driver", cfg.Repository.Driver)
	}

	aliases, err := registry.NewAliasStore(cfg.Registry, s.repo)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize alias store: %w", err)
	}
	if rs, ok := aliases.(*registry.RedisAliasStore); ok {
		s.closers = append(s.closers, rs)
	}

	var opts []registry.Option
	if s.repo != nil {
		opts = append(opts, registry.WithCatalog(s.repo))
	}

	if serving {
		c, err := cache.New(cfg.Cache)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		if c != nil {
			s.cache = c
			s.closers = append(s.closers, c)
			opts = append(opts, registry.WithCache(c, cfg.Cache.ArtifactTTL))
			slog.Info("cache initialized", "type", cfg.Cache.Type)
		}

		b, err := bus.New(cfg.EventBus)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize event bus: %w", err)
		}
		if b != nil {
			s.bus = b
			s.closers = append(s.closers, b)
			slog.Info("event bus initialized", "type", cfg.EventBus.Type)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metrics.New(reg)
		s.gatherer = reg
		opts = append(opts, registry.WithMetrics(s.metrics))
	}

	s.registry, err = registry.New(cfg.Registry.Root, aliases, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// engine builds a scoring engine over the registry.
func (s *stack) engine() (*scoring.Engine, *policy.Policy, error) {
	pol, err := policy.New(s.cfg.Scoring.Policy)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile decision policy: %w", err)
	}

	opts := []scoring.Option{
		scoring.WithPolicy(pol),
		scoring.WithMetrics(s.metrics),
	}
	if s.bus != nil {
		opts = append(opts, scoring.WithEventBus(s.bus))
	}
	if s.cfg.Scoring.Audit && s.repo != nil {
		opts = append(opts, scoring.WithRecorder(s.repo))
	}
	return scoring.NewEngine(s.registry, opts...), pol, nil
}

// Close releases backends in reverse order of opening.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			slog.Warn("failed to close backend", "error", err)
		}
	}
	s.closers = nil
}

// printOutput writes v to w as indented JSON or YAML.
func printOutput(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case formatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()

	default:
		return fmt.Errorf("%w: unsupported output format %q", domain.ErrInvalidInput, format)
	}
}
