// Package scoring runs the validate, load, transform, compute,
// normalize and decide pipeline for one transaction.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/metrics"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/policy"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fraudscore-scoring")

// Loader resolves a model bundle. *registry.Registry implements it.
type Loader interface {
	Load(ctx context.Context, kind domain.ModelType, version string) (*registry.Bundle, error)
}

// ScoreRecorder persists scored results.
type ScoreRecorder interface {
	SaveScore(ctx context.Context, res *domain.ScoringResult) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the decision policy that produces the status.
func WithPolicy(p *policy.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRecorder audits every scored result.
func WithRecorder(r ScoreRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithEventBus publishes results and alerts.
func WithEventBus(b domain.EventBus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithMetrics records scoring metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine scores transactions. It is safe for concurrent use.
type Engine struct {
	loader   Loader
	policy   *policy.Policy
	recorder ScoreRecorder
	bus      domain.EventBus
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates an engine over loader.
func NewEngine(loader Loader, opts ...Option) *Engine {
	e := &Engine{
		loader: loader,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScoreRequest scores a parsed request.
func (e *Engine) ScoreRequest(ctx context.Context, req *domain.ScoreRequest) domain.ScoringResult {
	return e.Score(ctx, req.Transaction, req.ModelType, req.ModelVersion)
}

// Score runs the pipeline. Every failure is returned as an error
// result; Score never returns a partially computed score.
func (e *Engine) Score(ctx context.Context, tx domain.Transaction, kind domain.ModelType, version string) domain.ScoringResult {
	start := time.Now()
	if kind == "" {
		kind = domain.ModelIsolationForest
	}
	if version == "" {
		version = domain.VersionLatest
	}

	ctx, span := tracer.Start(ctx, "engine.score",
		trace.WithAttributes(
			attribute.String("model.type", string(kind)),
			attribute.String("model.version", version),
		),
	)
	defer span.End()

	res, err := e.score(ctx, tx, kind, version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("scoring failed",
			"model_type", kind,
			"model_version", version,
			"error", err,
		)
		res = domain.ErrorResult(err)
		e.metrics.RecordScore(string(kind), "error", 0, time.Since(start))
		e.publish(ctx, domain.TopicScored, &res)
		return res
	}

	span.SetAttributes(
		attribute.Int("fraud.score", res.FraudScore),
		attribute.Bool("fraud.is_fraud", res.IsFraud),
		attribute.String("model.resolved_version", res.ModelVersion),
	)

	if e.recorder != nil {
		if err := e.recorder.SaveScore(ctx, &res); err != nil {
			slog.Error("failed to save score",
				"score_id", res.ID,
				"error", err,
			)
		}
	}

	e.publish(ctx, domain.TopicScored, &res)
	if res.Status == domain.StatusFlagged {
		e.publish(ctx, domain.TopicAlert, &res)
	}

	e.metrics.RecordScore(string(kind), res.Status, res.FraudScore, time.Since(start))
	slog.Debug("transaction scored",
		"score_id", res.ID,
		"model_type", kind,
		"model_version", res.ModelVersion,
		"fraud_score", res.FraudScore,
		"is_fraud", res.IsFraud,
		"status", res.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (e *Engine) score(ctx context.Context, tx domain.Transaction, kind domain.ModelType, version string) (domain.ScoringResult, error) {
	// Validate
	if err := tx.Validate(); err != nil {
		return domain.ScoringResult{}, err
	}

	// Resolve and load
	kind, err := domain.ParseModelType(string(kind))
	if err != nil {
		return domain.ScoringResult{}, err
	}
	bundle, err := e.loader.Load(ctx, kind, version)
	if err != nil {
		return domain.ScoringResult{}, err
	}

	// Transform
	row, err := bundle.Scaler.Vector(tx)
	if err != nil {
		return domain.ScoringResult{}, err
	}
	x, err := bundle.Scaler.TransformRow(row)
	if err != nil {
		return domain.ScoringResult{}, &domain.ScoringComputeError{Stage: "transform", Err: err}
	}
	for j, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.ScoringResult{}, &domain.ScoringComputeError{
				Stage: "transform",
				Err:   fmt.Errorf("feature %s is not finite", bundle.Scaler.Features[j]),
			}
		}
	}

	// Compute
	raw, err := bundle.Model.Score(x)
	if err != nil {
		return domain.ScoringResult{}, &domain.ScoringComputeError{Stage: "compute", Err: err}
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return domain.ScoringResult{}, &domain.ScoringComputeError{Stage: "compute", Err: fmt.Errorf("raw score %v", raw)}
	}

	// Normalize
	score, err := Normalize(bundle.Model.Normalize(raw))
	if err != nil {
		return domain.ScoringResult{}, &domain.ScoringComputeError{Stage: "normalize", Err: err}
	}

	// Decide
	res := domain.ScoringResult{
		ID:             uuid.New().String(),
		Transaction:    tx,
		FraudScore:     score,
		IsFraud:        IsFraud(score),
		ModelType:      kind,
		ModelVersion:   bundle.Version,
		RawScore:       raw,
		ModelThreshold: bundle.Model.Threshold(),
		ModelAnomaly:   bundle.Model.IsAnomaly(raw),
		CreatedAt:      e.now(),
	}
	res.Status = e.decide(ctx, &res)
	return res, nil
}

// decide runs the policy, falling back to the fixed cutoff when the
// policy is missing or fails.
func (e *Engine) decide(ctx context.Context, res *domain.ScoringResult) string {
	fallback := domain.StatusCompleted
	if res.IsFraud {
		fallback = domain.StatusFlagged
	}
	if e.policy == nil {
		return fallback
	}

	status, err := e.policy.Decide(ctx, policy.Input{
		FraudScore:     res.FraudScore,
		IsFraud:        res.IsFraud,
		RawScore:       res.RawScore,
		ModelThreshold: res.ModelThreshold,
		ModelAnomaly:   res.ModelAnomaly,
		ModelType:      res.ModelType,
		ModelVersion:   res.ModelVersion,
		Transaction:    res.Transaction,
	})
	if err != nil {
		slog.Warn("decision policy failed, using cutoff",
			"score_id", res.ID,
			"error", err,
		)
		return fallback
	}
	return status
}

func (e *Engine) publish(ctx context.Context, topic string, res *domain.ScoringResult) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish score",
			"topic", topic,
			"score_id", res.ID,
			"error", err,
		)
	}
}

// Normalize rounds a model-normalized value and clamps it to [0, 100].
func Normalize(v float64) (int, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("normalized score is NaN")
	}
	v = math.Round(v)
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(v), nil
}

// IsFraud applies the fixed decision cutoff.
func IsFraud(score int) bool {
	return score > domain.DecisionCutoff
}
