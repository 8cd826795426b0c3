package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/features"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/policy"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/registry"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVersion = "20250101_120000"

// trained is a registry holding both reference models, trained once.
var trained *registry.Registry

func TestMain(m *testing.M) {
	root, err := os.MkdirTemp("", "fraudscore-scoring-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	trained, err = registry.New(root, nil)
	if err == nil {
		_, err = trainer.Publish(context.Background(), trained, domain.DefaultTrainingConfig(), trainer.PublishOptions{
			Version: testVersion,
		})
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "train reference models:", err)
		os.RemoveAll(root)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(root)
	os.Exit(code)
}

func normalTx() domain.Transaction {
	return domain.Transaction{
		"amount":                   30,
		"hour_of_day":              14,
		"time_since_last_tx":       28,
		"recipient_frequency":      0.2,
		"distance_to_recipient_km": 5,
	}
}

func anomalousTx() domain.Transaction {
	return domain.Transaction{
		"amount":                   500,
		"hour_of_day":              2,
		"time_since_last_tx":       0.5,
		"recipient_frequency":      0.01,
		"distance_to_recipient_km": 150,
	}
}

func TestScoreReferenceSamples(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(trained)

	for _, kind := range domain.ModelTypes() {
		t.Run(string(kind), func(t *testing.T) {
			normal := e.Score(ctx, normalTx(), kind, domain.VersionLatest)
			require.False(t, normal.Failed(), normal.Error)
			assert.False(t, normal.IsFraud, "normal sample scored %d", normal.FraudScore)
			assert.Equal(t, testVersion, normal.ModelVersion)
			assert.Equal(t, kind, normal.ModelType)

			odd := e.Score(ctx, anomalousTx(), kind, domain.VersionLatest)
			require.False(t, odd.Failed(), odd.Error)
			assert.Greater(t, odd.FraudScore, normal.FraudScore)

			// amount and distance sit far outside the normal training range
			if kind == domain.ModelAutoencoder {
				assert.True(t, odd.IsFraud, "anomalous sample scored %d", odd.FraudScore)
			}
		})
	}
}

func TestScoreInvariants(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(trained)

	samples := []domain.Transaction{normalTx(), anomalousTx()}
	for i := 0; i < 20; i++ {
		f := float64(i)
		samples = append(samples, domain.Transaction{
			"amount":                   f * 60,
			"hour_of_day":              math.Mod(f*5, 24),
			"time_since_last_tx":       f * 3,
			"recipient_frequency":      f / 40,
			"distance_to_recipient_km": f * f,
			"is_foreign_transaction":   math.Mod(f, 2),
		})
	}

	for _, kind := range domain.ModelTypes() {
		for _, tx := range samples {
			res := e.Score(ctx, tx, kind, domain.VersionLatest)
			require.False(t, res.Failed(), res.Error)
			assert.GreaterOrEqual(t, res.FraudScore, 0)
			assert.LessOrEqual(t, res.FraudScore, 100)
			assert.Equal(t, res.FraudScore > 80, res.IsFraud)
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(trained)

	for _, kind := range domain.ModelTypes() {
		first := e.Score(ctx, anomalousTx(), kind, testVersion)
		second := e.Score(ctx, anomalousTx(), kind, testVersion)
		require.False(t, first.Failed(), first.Error)
		assert.Equal(t, first.FraudScore, second.FraudScore)
		assert.Equal(t, first.RawScore, second.RawScore)
		assert.Equal(t, first.IsFraud, second.IsFraud)
	}
}

func TestScoreConcurrent(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(trained)
	want := e.Score(ctx, anomalousTx(), domain.ModelAutoencoder, testVersion)
	require.False(t, want.Failed(), want.Error)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := e.Score(ctx, anomalousTx(), domain.ModelAutoencoder, testVersion)
			if got.RawScore != want.RawScore {
				errs <- fmt.Errorf("raw score %v, want %v", got.RawScore, want.RawScore)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestScoreErrors(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(trained)

	t.Run("MissingAmount", func(t *testing.T) {
		tx := normalTx()
		delete(tx, "amount")
		res := e.Score(ctx, tx, domain.ModelIsolationForest, domain.VersionLatest)
		require.True(t, res.Failed())
		assert.Equal(t, "Missing required field: amount", res.Error)

		var verr *domain.ValidationError
		assert.True(t, errors.As(res.Err, &verr))

		out, err := json.Marshal(res)
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"Missing required field: amount"}`, string(out))
	})

	t.Run("UnknownModelType", func(t *testing.T) {
		res := e.Score(ctx, normalTx(), "svm", domain.VersionLatest)
		require.True(t, res.Failed())
		assert.ErrorIs(t, res.Err, domain.ErrUnknownModelType)
	})

	t.Run("EmptyRegistry", func(t *testing.T) {
		empty, err := registry.New(t.TempDir(), nil)
		require.NoError(t, err)

		res := NewEngine(empty).Score(ctx, normalTx(), domain.ModelIsolationForest, domain.VersionLatest)
		require.True(t, res.Failed())

		var lerr *domain.LoadError
		assert.True(t, errors.As(res.Err, &lerr), "expected LoadError, got %T", res.Err)
	})

	t.Run("NonFiniteFeature", func(t *testing.T) {
		tx := normalTx()
		tx["amount"] = math.Inf(1)
		res := e.Score(ctx, tx, domain.ModelIsolationForest, domain.VersionLatest)
		require.True(t, res.Failed())

		var cerr *domain.ScoringComputeError
		assert.True(t, errors.As(res.Err, &cerr))
	})
}

func TestScoreRequest(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(trained)

	req, err := domain.ParseScoreRequest([]byte(`{"transaction":{"amount":30,"hour_of_day":14,"time_since_last_tx":28,"recipient_frequency":0.2,"distance_to_recipient_km":5},"model_type":"reconstruction"}`))
	require.NoError(t, err)

	res := e.ScoreRequest(ctx, req)
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, domain.ModelAutoencoder, res.ModelType)
	assert.Equal(t, testVersion, res.ModelVersion)
}

type stubModel struct {
	raw  float64
	norm float64
}

func (m stubModel) Kind() domain.ModelType           { return domain.ModelIsolationForest }
func (m stubModel) Fit([][]float64) error            { return nil }
func (m stubModel) Score([]float64) (float64, error) { return m.raw, nil }
func (m stubModel) IsAnomaly(raw float64) bool       { return raw < 0 }
func (m stubModel) Normalize(float64) float64        { return m.norm }
func (m stubModel) Threshold() float64               { return 0 }

type stubLoader struct {
	bundle *registry.Bundle
}

func (l stubLoader) Load(context.Context, domain.ModelType, string) (*registry.Bundle, error) {
	return l.bundle, nil
}

func stubEngine(t *testing.T, model stubModel, opts ...Option) *Engine {
	t.Helper()
	names := domain.RequiredFeatures
	scaler, err := features.Fit([][]float64{{0, 0, 0, 0, 0}, {2, 2, 2, 2, 2}}, names)
	require.NoError(t, err)
	return NewEngine(stubLoader{bundle: &registry.Bundle{
		Model:   model,
		Scaler:  scaler,
		Version: domain.VersionUnknown,
	}}, opts...)
}

func TestNormalization(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		norm  float64
		score int
		fraud bool
	}{
		{"ClampLow", -35, 0, false},
		{"ClampHigh", 140, 100, true},
		{"Cutoff", 80, 80, false},
		{"RoundsUp", 80.5, 81, true},
		{"RoundsDown", 80.4, 80, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := stubEngine(t, stubModel{norm: tt.norm}).Score(ctx, normalTx(), "", "")
			require.False(t, res.Failed(), res.Error)
			assert.Equal(t, tt.score, res.FraudScore)
			assert.Equal(t, tt.fraud, res.IsFraud)
			assert.Equal(t, domain.VersionUnknown, res.ModelVersion)
		})
	}

	t.Run("NaNRaw", func(t *testing.T) {
		res := stubEngine(t, stubModel{raw: math.NaN()}).Score(ctx, normalTx(), "", "")
		require.True(t, res.Failed())
		var cerr *domain.ScoringComputeError
		require.True(t, errors.As(res.Err, &cerr))
		assert.Equal(t, "compute", cerr.Stage)
	})

	t.Run("NaNNormalized", func(t *testing.T) {
		res := stubEngine(t, stubModel{norm: math.NaN()}).Score(ctx, normalTx(), "", "")
		require.True(t, res.Failed())
		var cerr *domain.ScoringComputeError
		require.True(t, errors.As(res.Err, &cerr))
		assert.Equal(t, "normalize", cerr.Stage)
	})
}

type memoryRecorder struct {
	mu      sync.Mutex
	results []*domain.ScoringResult
}

func (r *memoryRecorder) SaveScore(_ context.Context, res *domain.ScoringResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

type memoryBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (b *memoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.payloads == nil {
		b.payloads = make(map[string][][]byte)
	}
	b.payloads[topic] = append(b.payloads[topic], payload)
	return nil
}

func (b *memoryBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *memoryBus) Ping(context.Context) error { return nil }
func (b *memoryBus) Close() error               { return nil }

func TestDecisionAndSideEffects(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultStatus", func(t *testing.T) {
		bus := &memoryBus{}
		rec := &memoryRecorder{}
		e := stubEngine(t, stubModel{raw: -0.3, norm: 95}, WithEventBus(bus), WithRecorder(rec))

		res := e.Score(ctx, normalTx(), "", "")
		require.False(t, res.Failed(), res.Error)
		assert.Equal(t, domain.StatusFlagged, res.Status)
		assert.True(t, res.ModelAnomaly)
		assert.NotEmpty(t, res.ID)
		assert.False(t, res.CreatedAt.IsZero())

		require.Len(t, rec.results, 1)
		assert.Equal(t, res.ID, rec.results[0].ID)
		assert.Len(t, bus.payloads[domain.TopicScored], 1)
		require.Len(t, bus.payloads[domain.TopicAlert], 1)

		var published domain.ScoringResult
		require.NoError(t, json.Unmarshal(bus.payloads[domain.TopicAlert][0], &published))
		assert.Equal(t, 95, published.FraudScore)
	})

	t.Run("CustomPolicy", func(t *testing.T) {
		p, err := policy.New(`is_fraud ? "flagged" : model_anomaly ? "review" : "completed"`)
		require.NoError(t, err)
		bus := &memoryBus{}
		e := stubEngine(t, stubModel{raw: -0.01, norm: 51}, WithPolicy(p), WithEventBus(bus))

		res := e.Score(ctx, normalTx(), "", "")
		require.False(t, res.Failed(), res.Error)
		assert.False(t, res.IsFraud)
		assert.Equal(t, domain.StatusReview, res.Status)
		assert.Empty(t, bus.payloads[domain.TopicAlert])
	})

	t.Run("ErrorsAreNotAudited", func(t *testing.T) {
		rec := &memoryRecorder{}
		e := stubEngine(t, stubModel{}, WithRecorder(rec))

		res := e.Score(ctx, domain.Transaction{}, "", "")
		require.True(t, res.Failed())
		assert.Empty(t, rec.results)
	})
}

func TestNormalize(t *testing.T) {
	if _, err := Normalize(math.NaN()); err == nil {
		t.Error("expected error for NaN")
	}
	if got, _ := Normalize(math.Inf(1)); got != 100 {
		t.Errorf("expected 100 for +Inf, got %d", got)
	}
	if got, _ := Normalize(math.Inf(-1)); got != 0 {
		t.Errorf("expected 0 for -Inf, got %d", got)
	}
	if !IsFraud(81) || IsFraud(80) {
		t.Error("expected cutoff strictly above 80")
	}
}
