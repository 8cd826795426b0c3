package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// amountServer flags every transaction above 1000.
func amountServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /score", func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		score := 10
		if req.Transaction[domain.FeatureAmount] > 1000 {
			score = 95
		}
		_ = json.NewEncoder(w).Encode(domain.ScoringResult{
			FraudScore: score,
			IsFraud:    score > domain.DecisionCutoff,
			ModelType:  domain.ModelIsolationForest,
			Status:     "scored",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunBenchmark(t *testing.T) {
	srv := amountServer(t)
	require.NoError(t, checkHealth(context.Background(), srv.URL))

	txs := []labeledTransaction{
		{Transaction: domain.Transaction{domain.FeatureAmount: 20}, IsFraud: false},
		{Transaction: domain.Transaction{domain.FeatureAmount: 40}, IsFraud: false},
		{Transaction: domain.Transaction{domain.FeatureAmount: 5000}, IsFraud: true},
		{Transaction: domain.Transaction{domain.FeatureAmount: 50}, IsFraud: true},
		{Transaction: domain.Transaction{domain.FeatureAmount: 3000}, IsFraud: false},
	}

	var out bytes.Buffer
	res := runBenchmark(context.Background(), txs, config{BaseURL: srv.URL, Workers: 3}, &out)
	assert.EqualValues(t, 1, res.TruePositives)
	assert.EqualValues(t, 1, res.FalsePositives)
	assert.EqualValues(t, 1, res.FalseNegatives)
	assert.EqualValues(t, 2, res.TrueNegatives)
	assert.Zero(t, res.Errors)

	require.NoError(t, printResults(&out, res, time.Second))
	assert.Contains(t, out.String(), "CLASSIFICATION REPORT")
	assert.Contains(t, out.String(), "Throughput")
}

func TestRunBenchmarkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"Missing required field: amount"}`))
	}))
	defer srv.Close()

	txs := []labeledTransaction{{Transaction: domain.Transaction{}}}
	res := runBenchmark(context.Background(), txs, config{BaseURL: srv.URL, Workers: 1}, &bytes.Buffer{})
	assert.EqualValues(t, 1, res.Errors)
	assert.Error(t, printResults(&bytes.Buffer{}, res, time.Second))
}

func TestSynthetic(t *testing.T) {
	txs, err := synthetic(200, 0.1, 1)
	require.NoError(t, err)
	require.Len(t, txs, 200)

	frauds := 0
	for _, tx := range txs {
		assert.Contains(t, tx.Transaction, domain.FeatureAmount)
		if tx.IsFraud {
			frauds++
		}
	}
	assert.Positive(t, frauds)
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labeled.csv")
	data := "amount,hour_of_day,merchant,is_fraud\n" +
		"25.5,14,shop,0\n" +
		"9000,3,shop,1\n" +
		"bad,3,shop,1\n" +
		"120,,shop,true\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	txs, err := readCSV(path)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.False(t, txs[0].IsFraud)
	assert.Equal(t, 25.5, txs[0].Transaction[domain.FeatureAmount])
	assert.True(t, txs[1].IsFraud)
	assert.True(t, txs[2].IsFraud)
	assert.NotContains(t, txs[2].Transaction, domain.FeatureHourOfDay)
	assert.NotContains(t, txs[0].Transaction, "merchant")

	t.Run("MissingLabel", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "nolabel.csv")
		require.NoError(t, os.WriteFile(p, []byte("amount\n1\n"), 0o644))
		_, err := readCSV(p)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
