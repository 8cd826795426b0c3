package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/dataset"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/metrics"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Summary describes a published training run.
type Summary struct {
	Version string                  `json:"version" yaml:"version"`
	Path    string                  `json:"path" yaml:"path"`
	Current bool                    `json:"current" yaml:"current"`
	Models  []*domain.ModelMetadata `json:"models" yaml:"models"`
}

// PublishOptions controls a Publish run.
type PublishOptions struct {
	// Version defaults to a timestamp of the current time.
	Version string

	// Kinds defaults to every model type.
	Kinds []domain.ModelType

	// SkipPromote leaves the current alias untouched.
	SkipPromote bool

	Metrics *metrics.Metrics
	Bus     domain.EventBus
}

// Publish generates the synthetic dataset, trains every requested
// model on it, saves them as one version and points the current alias
// at it.
func Publish(ctx context.Context, reg *registry.Registry, cfg domain.TrainingConfig, opts PublishOptions) (*Summary, error) {
	version := opts.Version
	if version == "" {
		version = registry.NewVersion(time.Now())
	}
	if err := registry.ValidateVersion(version); err != nil {
		return nil, err
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = domain.ModelTypes()
	}

	data, err := dataset.Synthetic(dataset.SyntheticConfig{
		Samples:    cfg.Samples,
		FraudRatio: cfg.FraudRatio,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("generate dataset: %w", err)
	}

	// Models share the read-only dataset and train concurrently.
	results := make([]*Result, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			res, err := Train(gctx, kind, data, cfg)
			if err != nil {
				return err
			}
			opts.Metrics.RecordTraining(string(kind), res.Duration)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	artifacts := make([]registry.Artifact, 0, len(kinds))
	models := make([]*domain.ModelMetadata, 0, len(kinds))
	for _, res := range results {
		artifacts = append(artifacts, registry.Artifact{
			Model:    res.Model,
			Scaler:   res.Scaler,
			Metadata: res.Metadata,
		})
		models = append(models, res.Metadata)
	}

	path, err := reg.Save(ctx, version, artifacts...)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Version: version, Path: path, Models: models}
	publish(ctx, opts.Bus, domain.TopicModelTrained, summary)

	if !opts.SkipPromote {
		if err := reg.SetCurrent(ctx, version); err != nil {
			return summary, err
		}
		summary.Current = true
		publish(ctx, opts.Bus, domain.TopicModelPromoted, summary)
	}
	return summary, nil
}

func publish(ctx context.Context, bus domain.EventBus, topic string, summary *Summary) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish training event",
			"topic", topic,
			"version", summary.Version,
			"error", err,
		)
	}
}
