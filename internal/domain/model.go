package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ModelType identifies an anomaly model family.
type ModelType string

const (
	// ModelIsolationForest is the tree-ensemble isolation model.
	ModelIsolationForest ModelType = "isolation_forest"

	// ModelAutoencoder is the neural reconstruction model.
	ModelAutoencoder ModelType = "autoencoder"
)

// Registry constants.
const (
	VersionLatest  = "latest"
	VersionUnknown = "unknown"
	AliasCurrent   = "current"
)

// ModelTypes lists every supported model type in training order.
func ModelTypes() []ModelType {
	return []ModelType{ModelIsolationForest, ModelAutoencoder}
}

// ParseModelType accepts the canonical names plus the generic
// "isolation" and "reconstruction" spellings.
func ParseModelType(s string) (ModelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "isolation_forest", "isolation", "iforest":
		return ModelIsolationForest, nil
	case "autoencoder", "reconstruction":
		return ModelAutoencoder, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownModelType, s)
	}
}

// Features returns the ordered feature schema the model type trains on.
func (t ModelType) Features() []string {
	if t == ModelAutoencoder {
		return append([]string(nil), RequiredFeatures...)
	}
	return AllFeatures()
}

// AnomalyModel is the capability shared by every model family.
// Raw scores are model specific; Normalize maps them onto the
// common 0-100 fraud scale before rounding and clamping.
type AnomalyModel interface {
	Kind() ModelType
	Fit(rows [][]float64) error
	Score(row []float64) (float64, error)
	IsAnomaly(raw float64) bool
	Normalize(raw float64) float64
	Threshold() float64
}

// ClassMetrics holds per-class evaluation numbers.
type ClassMetrics struct {
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1Score   float64 `json:"f1-score" yaml:"f1-score"`
	Support   int     `json:"support" yaml:"support"`
}

// ClassificationReport is the held-out evaluation of a trained model.
type ClassificationReport struct {
	Normal      ClassMetrics `json:"0" yaml:"normal"`
	Fraud       ClassMetrics `json:"1" yaml:"fraud"`
	Accuracy    float64      `json:"accuracy" yaml:"accuracy"`
	MacroAvg    ClassMetrics `json:"macro avg" yaml:"macro_avg"`
	WeightedAvg ClassMetrics `json:"weighted avg" yaml:"weighted_avg"`
}

// ModelMetadata is the metadata document stored with every version.
type ModelMetadata struct {
	ModelType                ModelType             `json:"model_type" yaml:"model_type"`
	TrainingDate             time.Time             `json:"training_date" yaml:"training_date"`
	ContaminationOrThreshold float64               `json:"contamination_or_threshold" yaml:"contamination_or_threshold"`
	NSamples                 int                   `json:"n_samples" yaml:"n_samples"`
	Features                 []string              `json:"features" yaml:"features"`
	Performance              *ClassificationReport `json:"performance,omitempty" yaml:"performance,omitempty"`
	Version                  string                `json:"version" yaml:"version"`
}

// AliasStore maps alias names to version identifiers.
// SetAlias must replace the previous target atomically.
// GetAlias returns ErrAliasNotSet when the alias has no target.
type AliasStore interface {
	GetAlias(ctx context.Context, name string) (string, error)
	SetAlias(ctx context.Context, name, version string) error
}

// ModelCatalog indexes saved versions for listing.
type ModelCatalog interface {
	SaveModelVersion(ctx context.Context, meta *ModelMetadata) error
	ListModelVersions(ctx context.Context, modelType ModelType) ([]*ModelMetadata, error)
}
