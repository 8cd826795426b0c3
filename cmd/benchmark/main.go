// Benchmark tool for measuring fraudscore detection quality and latency.
//
// Usage:
//
//	go run ./cmd/benchmark --url http://localhost:8080 --samples 2000
//	go run ./cmd/benchmark --csv /path/to/labeled.csv --model-type autoencoder
//
// This tool:
//  1. Generates labeled synthetic transactions, or reads them from a CSV
//     file with one column per feature plus an is_fraud column
//  2. Sends each transaction to POST /score
//  3. Compares is_fraud in the response with the label
//  4. Prints the classification report, confusion matrix and latency
//     percentiles
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/anomaly"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/dataset"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/urfave/cli/v3"
	"gonum.org/v1/gonum/stat"
)

// labeledTransaction is one benchmark input.
type labeledTransaction struct {
	Transaction domain.Transaction
	IsFraud     bool
}

// scoreRequest is the POST /score body.
type scoreRequest struct {
	Transaction  domain.Transaction `json:"transaction"`
	ModelType    string             `json:"model_type"`
	ModelVersion string             `json:"model_version,omitempty"`
}

// config holds benchmark settings.
type config struct {
	BaseURL      string
	ModelType    string
	ModelVersion string
	Workers      int
	Verbose      bool
}

// results tracks benchmark outcomes.
type results struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
	Errors         int64

	mu        sync.Mutex
	labels    []int
	predicted []int
	latencies []float64 // milliseconds
}

func (r *results) record(actual, predicted bool, latency time.Duration) {
	switch {
	case predicted && actual:
		atomic.AddInt64(&r.TruePositives, 1)
	case predicted:
		atomic.AddInt64(&r.FalsePositives, 1)
	case actual:
		atomic.AddInt64(&r.FalseNegatives, 1)
	default:
		atomic.AddInt64(&r.TrueNegatives, 1)
	}

	r.mu.Lock()
	r.labels = append(r.labels, boolToLabel(actual))
	r.predicted = append(r.predicted, boolToLabel(predicted))
	r.latencies = append(r.latencies, float64(latency.Microseconds())/1000)
	r.mu.Unlock()
}

func boolToLabel(b bool) int {
	if b {
		return dataset.LabelFraud
	}
	return dataset.LabelNormal
}

func main() {
	cmd := &cli.Command{
		Name:  "benchmark",
		Usage: "score labeled transactions against a running fraudscore server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "fraudscore base URL"},
			&cli.StringFlag{Name: "csv", Usage: "labeled CSV file (default: synthetic data)"},
			&cli.IntFlag{Name: "samples", Value: 2000, Usage: "synthetic transactions to generate"},
			&cli.FloatFlag{Name: "fraud-ratio", Value: 0.05, Usage: "synthetic fraud ratio"},
			&cli.IntFlag{Name: "seed", Value: 7, Usage: "synthetic data seed"},
			&cli.StringFlag{Name: "model-type", Value: string(domain.ModelIsolationForest), Usage: "model type to score with"},
			&cli.StringFlag{Name: "model-version", Usage: "model version (default: latest)"},
			&cli.IntFlag{Name: "workers", Value: 10, Usage: "number of concurrent workers"},
			&cli.BoolFlag{Name: "verbose", Usage: "print each transaction result"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config{
				BaseURL:      strings.TrimRight(cmd.String("url"), "/"),
				ModelType:    cmd.String("model-type"),
				ModelVersion: cmd.String("model-version"),
				Workers:      int(cmd.Int("workers")),
				Verbose:      cmd.Bool("verbose"),
			}

			fmt.Printf("fraudscore URL: %s\n", cfg.BaseURL)
			fmt.Printf("Model:          %s %s\n", cfg.ModelType, cfg.ModelVersion)
			fmt.Printf("Workers:        %d\n\n", cfg.Workers)

			if err := checkHealth(ctx, cfg.BaseURL); err != nil {
				return fmt.Errorf("fraudscore not reachable at %s: %w", cfg.BaseURL, err)
			}

			var txs []labeledTransaction
			var err error
			if path := cmd.String("csv"); path != "" {
				txs, err = readCSV(path)
			} else {
				txs, err = synthetic(int(cmd.Int("samples")), cmd.Float("fraud-ratio"), uint64(cmd.Int("seed")))
			}
			if err != nil {
				return err
			}
			fmt.Printf("Loaded %d transactions\n", len(txs))

			start := time.Now()
			res := runBenchmark(ctx, txs, cfg, os.Stdout)
			return printResults(os.Stdout, res, time.Since(start))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func checkHealth(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// synthetic draws labeled transactions from the training generator.
func synthetic(samples int, fraudRatio float64, seed uint64) ([]labeledTransaction, error) {
	d, err := dataset.Synthetic(dataset.SyntheticConfig{
		Samples:    samples,
		FraudRatio: fraudRatio,
		Seed:       seed,
	})
	if err != nil {
		return nil, err
	}

	txs := make([]labeledTransaction, d.Len())
	for i, row := range d.Rows {
		tx := make(domain.Transaction, len(d.Features))
		for j, name := range d.Features {
			tx[name] = row[j]
		}
		txs[i] = labeledTransaction{Transaction: tx, IsFraud: d.Labels[i] == dataset.LabelFraud}
	}
	return txs, nil
}

// readCSV reads a header row naming features and an is_fraud column.
// Unknown columns are ignored; rows that fail to parse are skipped.
func readCSV(path string) ([]labeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	label := -1
	columns := make(map[int]string)
	known := make(map[string]bool)
	for _, f := range domain.AllFeatures() {
		known[f] = true
	}
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		switch {
		case col == "is_fraud" || col == "isfraud":
			label = i
		case known[col]:
			columns[i] = col
		}
	}
	if label < 0 {
		return nil, fmt.Errorf("%w: no is_fraud column in %s", domain.ErrInvalidInput, path)
	}

	var txs []labeledTransaction
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		tx := make(domain.Transaction, len(columns))
		ok := true
		for i, name := range columns {
			if record[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				ok = false
				break
			}
			tx[name] = v
		}
		if !ok {
			continue
		}

		txs = append(txs, labeledTransaction{
			Transaction: tx,
			IsFraud:     record[label] == "1" || strings.EqualFold(record[label], "true"),
		})
	}
	return txs, nil
}

func runBenchmark(ctx context.Context, txs []labeledTransaction, cfg config, out io.Writer) *results {
	res := &results{}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	// Create work channel
	work := make(chan labeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				scored, err := scoreTransaction(ctx, client, cfg, tx.Transaction)
				elapsed := time.Since(start)

				if err != nil {
					atomic.AddInt64(&res.Errors, 1)
					if cfg.Verbose {
						fmt.Fprintf(out, "ERROR: %v\n", err)
					}
					continue
				}
				res.record(tx.IsFraud, scored.IsFraud, elapsed)

				if cfg.Verbose {
					mark := "ok "
					if scored.IsFraud != tx.IsFraud {
						mark = "MISS"
					}
					fmt.Fprintf(out, "%-4s amount: %10.2f | fraud: %-5v | score: %3d | status: %s\n",
						mark,
						tx.Transaction[domain.FeatureAmount],
						tx.IsFraud,
						scored.FraudScore,
						scored.Status,
					)
				}
			}
		}()
	}

	// Send work
	for _, tx := range txs {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return res
}

func scoreTransaction(ctx context.Context, client *http.Client, cfg config, tx domain.Transaction) (*domain.ScoringResult, error) {
	body, err := json.Marshal(scoreRequest{
		Transaction:  tx,
		ModelType:    cfg.ModelType,
		ModelVersion: cfg.ModelVersion,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result domain.ScoringResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || result.Failed() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, result.Error)
	}
	return &result, nil
}

func printResults(w io.Writer, r *results, duration time.Duration) error {
	fmt.Fprintln(w, "\nBENCHMARK RESULTS")

	fmt.Fprintf(w, "\nCONFUSION MATRIX\n")
	fmt.Fprintln(w, "                 predicted fraud  predicted normal")
	fmt.Fprintf(w, "   actual fraud   %15d  %16d\n", r.TruePositives, r.FalseNegatives)
	fmt.Fprintf(w, "   actual normal  %15d  %16d\n", r.FalsePositives, r.TrueNegatives)
	fmt.Fprintf(w, "   errors         %15d\n", r.Errors)

	if len(r.labels) == 0 {
		return errors.New("no transactions were scored")
	}

	report, err := anomaly.Report(r.labels, r.predicted)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nCLASSIFICATION REPORT\n")
	fmt.Fprintf(w, "   %-14s %9s %9s %9s %9s\n", "", "precision", "recall", "f1-score", "support")
	for _, row := range []struct {
		name string
		m    domain.ClassMetrics
	}{
		{"normal", report.Normal},
		{"fraud", report.Fraud},
		{"macro avg", report.MacroAvg},
		{"weighted avg", report.WeightedAvg},
	} {
		fmt.Fprintf(w, "   %-14s %9.4f %9.4f %9.4f %9d\n", row.name, row.m.Precision, row.m.Recall, row.m.F1Score, row.m.Support)
	}
	fmt.Fprintf(w, "   %-14s %29.4f\n", "accuracy", report.Accuracy)

	latencies := append([]float64(nil), r.latencies...)
	sort.Float64s(latencies)
	fmt.Fprintf(w, "\nPERFORMANCE\n")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "   Mean Latency:     %.2f ms\n", stat.Mean(latencies, nil))
	for _, p := range []float64{0.5, 0.95, 0.99} {
		fmt.Fprintf(w, "   p%-2.0f Latency:      %.2f ms\n", p*100, stat.Quantile(p, stat.Empirical, latencies, nil))
	}
	fmt.Fprintf(w, "   Throughput:       %.2f tx/sec\n", float64(len(latencies))/duration.Seconds())
	return nil
}
