package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/bus"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

type fakeScorer struct {
	mu       sync.Mutex
	requests []*domain.ScoreRequest
}

func (s *fakeScorer) ScoreRequest(_ context.Context, req *domain.ScoreRequest) domain.ScoringResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if err := req.Transaction.Validate(); err != nil {
		return domain.ErrorResult(err)
	}
	return domain.ScoringResult{
		ID:         "score-1",
		FraudScore: 42,
		ModelType:  req.ModelType,
		Status:     domain.StatusCompleted,
	}
}

func (s *fakeScorer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const validRequest = `{"transaction":{"amount":30,"hour_of_day":14,"time_since_last_tx":28,"recipient_frequency":0.2,"distance_to_recipient_km":5},"model_type":"autoencoder"}`

func TestWorker(t *testing.T) {
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := NewWorker(eventBus, &fakeScorer{})
		if err := worker.Start(Config{WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicScoreRequested {
			t.Errorf("expected topic %s, got %s", domain.TopicScoreRequested, stats.Topics[0])
		}

		if err := worker.Start(Config{}); err == nil {
			t.Error("expected error on second start")
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := worker.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := &fakeScorer{}
		worker := NewWorker(eventBus, scorer)
		if err := worker.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		if err := eventBus.Publish(ctx, domain.TopicScoreRequested, []byte(validRequest)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitUntil(t, func() bool { return worker.GetStats().Processed == 1 })

		if scorer.count() != 1 {
			t.Fatalf("expected 1 scored request, got %d", scorer.count())
		}
		req := scorer.requests[0]
		if req.ModelType != domain.ModelAutoencoder {
			t.Errorf("expected autoencoder, got %s", req.ModelType)
		}
		if req.ModelVersion != domain.VersionLatest {
			t.Errorf("expected latest, got %s", req.ModelVersion)
		}
		if worker.GetStats().Failed != 0 {
			t.Errorf("expected no failures, got %d", worker.GetStats().Failed)
		}
	})

	t.Run("MalformedRequest", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		results := make(chan domain.ScoringResult, 1)
		eventBus.Subscribe(ctx, domain.TopicScored, func(ctx context.Context, msg *domain.Message) error {
			var res domain.ScoringResult
			if err := json.Unmarshal(msg.Payload, &res); err != nil {
				return err
			}
			results <- res
			return nil
		})

		scorer := &fakeScorer{}
		worker := NewWorker(eventBus, scorer)
		if err := worker.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		eventBus.Publish(ctx, domain.TopicScoreRequested, []byte(`{not json`))

		select {
		case res := <-results:
			if !res.Failed() {
				t.Errorf("expected error result, got %+v", res)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for error result")
		}

		waitUntil(t, func() bool { return worker.GetStats().Failed == 1 })
		if scorer.count() != 0 {
			t.Errorf("malformed request should not reach the scorer")
		}
	})

	t.Run("ScoringFailure", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := NewWorker(eventBus, &fakeScorer{})
		if err := worker.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		eventBus.Publish(ctx, domain.TopicScoreRequested, []byte(`{"hour_of_day":3}`))
		waitUntil(t, func() bool { return worker.GetStats().Failed == 1 })
	})

	t.Run("ConcurrentRequests", func(t *testing.T) {
		eventBus := bus.NewChannelBus(1000)
		defer eventBus.Close()

		scorer := &fakeScorer{}
		worker := NewWorker(eventBus, scorer)
		if err := worker.Start(Config{WorkerCount: 4}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		for i := 0; i < 50; i++ {
			eventBus.Publish(ctx, domain.TopicScoreRequested, []byte(validRequest))
		}
		waitUntil(t, func() bool { return worker.GetStats().Processed == 50 })
		if scorer.count() != 50 {
			t.Errorf("expected 50 scored requests, got %d", scorer.count())
		}
	})
}

type failingBus struct {
	domain.EventBus
}

func (failingBus) Subscribe(context.Context, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("subscribe refused")
}

func TestWorkerStartErrors(t *testing.T) {
	if err := NewWorker(nil, &fakeScorer{}).Start(Config{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput without a bus, got %v", err)
	}

	w := NewWorker(failingBus{}, &fakeScorer{})
	if err := w.Start(Config{WorkerCount: 2}); err == nil {
		t.Error("expected subscribe error")
	}
	// pool goroutines exit once the start failure cancels the worker
	w.wg.Wait()
}
