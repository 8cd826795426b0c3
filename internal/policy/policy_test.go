package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

func TestDefaultPolicy(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if p.Expression() != domain.DefaultPolicy {
		t.Errorf("expected default expression, got %s", p.Expression())
	}

	t.Run("Flagged", func(t *testing.T) {
		status, err := p.Decide(ctx, Input{FraudScore: 95, IsFraud: true})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if status != domain.StatusFlagged {
			t.Errorf("expected %s, got %s", domain.StatusFlagged, status)
		}
	})

	t.Run("Completed", func(t *testing.T) {
		status, err := p.Decide(ctx, Input{FraudScore: 12})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if status != domain.StatusCompleted {
			t.Errorf("expected %s, got %s", domain.StatusCompleted, status)
		}
	})
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("ModelThresholdReview", func(t *testing.T) {
		p, err := New(`is_fraud ? "flagged" : (model_threshold > 0.0 && raw_score > model_threshold) ? "review" : "completed"`)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		status, err := p.Decide(ctx, Input{
			FraudScore:     9,
			RawScore:       0.09,
			ModelThreshold: 0.05,
			ModelType:      domain.ModelAutoencoder,
		})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if status != domain.StatusReview {
			t.Errorf("expected %s, got %s", domain.StatusReview, status)
		}
	})

	t.Run("TransactionFields", func(t *testing.T) {
		p, err := New(`"amount" in tx && tx["amount"] > 1000.0 ? "review" : "completed"`)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		status, _ := p.Decide(ctx, Input{Transaction: domain.Transaction{"amount": 5000}})
		if status != domain.StatusReview {
			t.Errorf("expected review for large amount, got %s", status)
		}
		status, _ = p.Decide(ctx, Input{Transaction: domain.Transaction{}})
		if status != domain.StatusCompleted {
			t.Errorf("expected completed without amount, got %s", status)
		}
	})

	t.Run("CutoffVariable", func(t *testing.T) {
		p, err := New(`fraud_score > decision_cutoff - 10 ? "review" : "completed"`)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		status, _ := p.Decide(ctx, Input{FraudScore: 75})
		if status != domain.StatusReview {
			t.Errorf("expected review, got %s", status)
		}
	})
}

func TestPolicyErrors(t *testing.T) {
	t.Run("NonStringOutput", func(t *testing.T) {
		_, err := New(`fraud_score > 80`)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		if err := Validate(`is_fraud ? "flagged"`); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		if err := Validate(`tenant == "x" ? "a" : "b"`); err == nil {
			t.Error("expected error for undeclared variable")
		}
	})

	t.Run("EmptyStatus", func(t *testing.T) {
		p, err := New(`""`)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, err := p.Decide(context.Background(), Input{}); err == nil {
			t.Error("expected error for empty status")
		}
	})

	t.Run("ReloadKeepsOldOnFailure", func(t *testing.T) {
		p, _ := New("")
		if err := p.Reload(`1 + 1`); err == nil {
			t.Fatal("expected reload error")
		}
		if p.Expression() != domain.DefaultPolicy {
			t.Errorf("expected previous expression to remain, got %s", p.Expression())
		}
	})
}
