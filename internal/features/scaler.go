// Package features standardizes ordered feature vectors.
package features

import (
	"fmt"
	"math"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Scaler holds per-feature training statistics. Rows passed to
// Transform must use the feature order recorded in Features.
type Scaler struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// Fit computes the mean and population standard deviation of every
// column. A constant column gets a scale of 1.
func Fit(rows [][]float64, names []string) (*Scaler, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows to fit", domain.ErrInvalidInput)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no feature names", domain.ErrInvalidInput)
	}

	width := len(names)
	col := make([]float64, len(rows))
	s := &Scaler{
		Features: append([]string(nil), names...),
		Mean:     make([]float64, width),
		Scale:    make([]float64, width),
	}

	for j := 0; j < width; j++ {
		for i, row := range rows {
			if len(row) != width {
				return nil, fmt.Errorf("%w: row %d has %d values, want %d", domain.ErrSchemaMismatch, i, len(row), width)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s, nil
}

// Validate checks that the scaler state is internally consistent.
func (s *Scaler) Validate() error {
	if len(s.Features) == 0 {
		return fmt.Errorf("%w: scaler has no features", domain.ErrSchemaMismatch)
	}
	if len(s.Mean) != len(s.Features) || len(s.Scale) != len(s.Features) {
		return fmt.Errorf("%w: scaler has %d features, %d means, %d scales",
			domain.ErrSchemaMismatch, len(s.Features), len(s.Mean), len(s.Scale))
	}
	for j, sc := range s.Scale {
		if sc == 0 {
			return fmt.Errorf("%w: zero scale for %s", domain.ErrSchemaMismatch, s.Features[j])
		}
	}
	return nil
}

// TransformRow standardizes one row.
func (s *Scaler) TransformRow(row []float64) ([]float64, error) {
	if len(row) != len(s.Features) {
		return nil, fmt.Errorf("%w: got %d values, scaler expects %d", domain.ErrSchemaMismatch, len(row), len(s.Features))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// Transform standardizes every row and returns new slices.
func (s *Scaler) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		t, err := s.TransformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

// Vector lays out a transaction in the fitted feature order. Missing
// required features are a validation error; missing optional ones
// take the training mean so they standardize to zero.
func (s *Scaler) Vector(tx domain.Transaction) ([]float64, error) {
	row := make([]float64, len(s.Features))
	for j, name := range s.Features {
		v, ok := tx[name]
		if !ok {
			if domain.IsRequiredFeature(name) {
				return nil, &domain.ValidationError{Field: name}
			}
			v = s.Mean[j]
		}
		row[j] = v
	}
	return row, nil
}
