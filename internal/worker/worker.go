// Package worker scores transactions received from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

// Scorer scores one parsed request. *scoring.Engine implements it.
type Scorer interface {
	ScoreRequest(ctx context.Context, req *domain.ScoreRequest) domain.ScoringResult
}

// Worker consumes score requests from the EventBus. Results are
// published by the scorer; requests that cannot be parsed are answered
// with an error result on TopicScored.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	jobs          chan *domain.Message
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Topic defaults to domain.TopicScoreRequested.
	Topic string

	// WorkerCount is the number of concurrent scoring goroutines.
	WorkerCount int

	// QueueSize bounds requests waiting for a free goroutine.
	QueueSize int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the request topic and starts the scoring pool.
func (w *Worker) Start(cfg Config) error {
	if w.bus == nil {
		return fmt.Errorf("%w: worker needs an event bus", domain.ErrInvalidInput)
	}
	if cfg.Topic == "" {
		cfg.Topic = domain.TopicScoreRequested
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.WorkerCount * 16
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs != nil {
		return fmt.Errorf("worker already started")
	}

	w.jobs = make(chan *domain.Message, cfg.QueueSize)
	for i := 0; i < cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go w.run(w.jobs)
	}

	sub, err := w.bus.Subscribe(w.ctx, cfg.Topic, w.enqueue)
	if err != nil {
		w.cancel()
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("score worker started",
		"topic", cfg.Topic,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// enqueue hands a message to the pool, blocking while the queue is full.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(jobs <-chan *domain.Message) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-jobs:
			if err := w.processRequest(w.ctx, msg); err != nil {
				w.failed.Add(1)
			}
			w.processed.Add(1)
		}
	}
}

// processRequest scores one message.
func (w *Worker) processRequest(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	req, err := domain.ParseScoreRequest(msg.Payload)
	if err != nil {
		slog.Error("failed to parse score request",
			"message_id", msg.ID,
			"error", err,
		)
		res := domain.ErrorResult(err)
		payload, _ := json.Marshal(res)
		if perr := w.bus.Publish(ctx, domain.TopicScored, payload); perr != nil {
			slog.Error("failed to publish error result",
				"message_id", msg.ID,
				"error", perr,
			)
		}
		return err
	}

	res := w.scorer.ScoreRequest(ctx, req)
	if res.Failed() {
		return fmt.Errorf("score request %s: %s", msg.ID, res.Error)
	}

	slog.Info("score request processed",
		"message_id", msg.ID,
		"score_id", res.ID,
		"model_type", res.ModelType,
		"fraud_score", res.FraudScore,
		"status", res.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("score worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
