package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func TestRecordScore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordScore("isolation_forest", "completed", 12, 3*time.Millisecond)
	m.RecordScore("isolation_forest", "flagged", 91, time.Millisecond)
	m.RecordScore("isolation_forest", "error", 0, time.Millisecond)

	if got := counterValue(t, reg, "fraudscore_scores_total", map[string]string{"model_type": "isolation_forest", "result": "flagged"}); got != 1 {
		t.Errorf("expected 1 flagged score, got %v", got)
	}
	if got := counterValue(t, reg, "fraudscore_score_latency_seconds", map[string]string{"model_type": "isolation_forest"}); got != 3 {
		t.Errorf("expected 3 latency observations, got %v", got)
	}
	// errors carry no score
	if got := counterValue(t, reg, "fraudscore_fraud_score", map[string]string{"model_type": "isolation_forest"}); got != 2 {
		t.Errorf("expected 2 score observations, got %v", got)
	}
}

func TestRecordLoadAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordLoadAttempt("autoencoder", "version/json", errors.New("missing"))
	m.RecordLoadAttempt("autoencoder", "root/json", nil)

	failed := counterValue(t, reg, "fraudscore_model_load_attempts_total", map[string]string{
		"model_type": "autoencoder", "strategy": "version/json", "result": "failed",
	})
	if failed != 1 {
		t.Errorf("expected 1 failed attempt, got %v", failed)
	}
	ok := counterValue(t, reg, "fraudscore_model_load_attempts_total", map[string]string{
		"model_type": "autoencoder", "strategy": "root/json", "result": "ok",
	})
	if ok != 1 {
		t.Errorf("expected 1 successful attempt, got %v", ok)
	}
}

func TestRecordTraining(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordTraining("autoencoder", 2*time.Second)

	if got := counterValue(t, reg, "fraudscore_training_duration_seconds", map[string]string{"model_type": "autoencoder"}); got != 1 {
		t.Errorf("expected 1 training observation, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordScore("isolation_forest", "completed", 1, time.Millisecond)
	m.RecordLoadAttempt("isolation_forest", "root/json", nil)
	m.RecordTraining("isolation_forest", time.Second)
}

func TestUnregistered(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.RecordScore("autoencoder", "completed", 5, time.Millisecond)
	b.RecordScore("autoencoder", "completed", 5, time.Millisecond)
}

func TestRecordHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordHTTP("GET", "/scores/{id}", 404, time.Millisecond)
	m.RecordHTTP("GET", "/scores/{id}", 200, time.Millisecond)
	m.RecordHTTP("GET", "/scores/{id}", 200, time.Millisecond)

	if got := counterValue(t, reg, "fraudscore_http_requests_total", map[string]string{"route": "/scores/{id}", "code": "200"}); got != 2 {
		t.Errorf("expected 2 ok requests, got %v", got)
	}
	if got := counterValue(t, reg, "fraudscore_http_request_duration_seconds", map[string]string{"method": "GET", "route": "/scores/{id}"}); got != 3 {
		t.Errorf("expected 3 duration observations, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.RecordHTTP("GET", "/health", 200, time.Millisecond)
}
