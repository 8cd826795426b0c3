// Package trainer fits anomaly models on labeled datasets and
// evaluates them on a stratified hold-out split.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/anomaly"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/dataset"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/features"
)

// Result is everything produced by one training run.
type Result struct {
	Model    domain.AnomalyModel
	Scaler   *features.Scaler
	Report   *domain.ClassificationReport
	Metadata *domain.ModelMetadata
	Duration time.Duration
}

// calibrator is implemented by models that derive their threshold
// from held-out rows.
type calibrator interface {
	Calibrate(rows [][]float64) error
}

// normalTrainer is implemented by models that learn the normal class
// only. They are fitted on the normal rows of the training split.
type normalTrainer interface {
	TrainsOnNormal() bool
}

// rowsWithLabel returns the rows whose label equals want.
func rowsWithLabel(rows [][]float64, labels []int, want int) [][]float64 {
	out := make([][]float64, 0, len(rows))
	for i, row := range rows {
		if labels[i] == want {
			out = append(out, row)
		}
	}
	return out
}

// Train fits a model of the given kind on d. Labels never reach the
// model; normal-only models just see fewer rows. Every failure is
// returned as a *domain.TrainingError.
func Train(ctx context.Context, kind domain.ModelType, d *dataset.Dataset, cfg domain.TrainingConfig) (*Result, error) {
	start := time.Now()
	res, err := train(ctx, kind, d, cfg)
	if err != nil {
		slog.Error("training failed",
			"model_type", kind,
			"error", err,
		)
		return nil, err
	}
	res.Duration = time.Since(start)

	slog.Info("model trained",
		"model_type", kind,
		"samples", res.Metadata.NSamples,
		"threshold", res.Metadata.ContaminationOrThreshold,
		"accuracy", res.Report.Accuracy,
		"fraud_recall", res.Report.Fraud.Recall,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func train(ctx context.Context, kind domain.ModelType, d *dataset.Dataset, cfg domain.TrainingConfig) (*Result, error) {
	fail := func(stage string, err error) error {
		return &domain.TrainingError{ModelType: kind, Stage: stage, Err: err}
	}

	model, err := anomaly.New(kind, cfg)
	if err != nil {
		return nil, fail("build", err)
	}
	if d == nil {
		return nil, fail("select", fmt.Errorf("%w: no dataset", domain.ErrInvalidInput))
	}

	names := kind.Features()
	selected, err := d.Select(names)
	if err != nil {
		return nil, fail("select", err)
	}

	trainSet, testSet, err := dataset.StratifiedSplit(selected, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, fail("split", err)
	}

	scaler, err := features.Fit(trainSet.Rows, names)
	if err != nil {
		return nil, fail("scale", err)
	}
	trainX, err := scaler.Transform(trainSet.Rows)
	if err != nil {
		return nil, fail("scale", err)
	}
	testX, err := scaler.Transform(testSet.Rows)
	if err != nil {
		return nil, fail("scale", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fail("fit", err)
	}
	fitX := trainX
	if nt, ok := model.(normalTrainer); ok && nt.TrainsOnNormal() {
		fitX = rowsWithLabel(trainX, trainSet.Labels, dataset.LabelNormal)
	}
	if err := model.Fit(fitX); err != nil {
		return nil, fail("fit", err)
	}

	if c, ok := model.(calibrator); ok {
		if err := c.Calibrate(testX); err != nil {
			return nil, fail("calibrate", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fail("evaluate", err)
	}
	predicted := make([]int, len(testX))
	for i, row := range testX {
		raw, err := model.Score(row)
		if err != nil {
			return nil, fail("evaluate", err)
		}
		if model.IsAnomaly(raw) {
			predicted[i] = dataset.LabelFraud
		}
	}
	report, err := anomaly.Report(testSet.Labels, predicted)
	if err != nil {
		return nil, fail("evaluate", err)
	}

	setting := cfg.Contamination
	if kind == domain.ModelAutoencoder {
		setting = model.Threshold()
	}

	return &Result{
		Model:  model,
		Scaler: scaler,
		Report: report,
		Metadata: &domain.ModelMetadata{
			ModelType:                kind,
			TrainingDate:             time.Now().UTC(),
			ContaminationOrThreshold: setting,
			NSamples:                 d.Len(),
			Features:                 names,
			Performance:              report,
		},
	}, nil
}
