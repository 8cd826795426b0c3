// Package metrics defines the Prometheus collectors for scoring,
// model loading and training.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the fraudscore collectors. A nil *Metrics records nothing.
type Metrics struct {
	Scores           *prometheus.CounterVec
	ScoreLatency     *prometheus.HistogramVec
	FraudScore       *prometheus.HistogramVec
	LoadAttempts     *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// A nil reg yields unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scores: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudscore_scores_total",
				Help: "Total number of scoring requests.",
			},
			[]string{"model_type", "result"},
		),
		ScoreLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudscore_score_latency_seconds",
				Help:    "Latency of scoring requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model_type"},
		),
		FraudScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudscore_fraud_score",
				Help:    "Distribution of normalized fraud scores.",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"model_type"},
		),
		LoadAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudscore_model_load_attempts_total",
				Help: "Model load attempts by strategy and outcome.",
			},
			[]string{"model_type", "strategy", "result"},
		),
		TrainingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudscore_training_duration_seconds",
				Help:    "Wall time of model training runs.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"model_type"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fraudscore_http_requests_total",
				Help: "HTTP requests by route, method and status code.",
			},
			[]string{"method", "route", "code"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fraudscore_http_request_duration_seconds",
				Help:    "Latency of HTTP requests by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordScore records one scoring call. result is the status or "error".
func (m *Metrics) RecordScore(modelType, result string, score int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Scores.WithLabelValues(modelType, result).Inc()
	m.ScoreLatency.WithLabelValues(modelType).Observe(duration.Seconds())
	if result != "error" {
		m.FraudScore.WithLabelValues(modelType).Observe(float64(score))
	}
}

// RecordLoadAttempt records one load strategy outcome.
func (m *Metrics) RecordLoadAttempt(modelType, strategy string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.LoadAttempts.WithLabelValues(modelType, strategy, result).Inc()
}

// RecordTraining records a completed training run.
func (m *Metrics) RecordTraining(modelType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TrainingDuration.WithLabelValues(modelType).Observe(duration.Seconds())
}

// RecordHTTP records one served HTTP request. route is the matched
// pattern, not the raw path.
func (m *Metrics) RecordHTTP(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
