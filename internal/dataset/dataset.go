// Package dataset provides labeled tabular data for training and
// evaluation: a seeded synthetic generator and a stratified splitter.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

// Label values.
const (
	LabelNormal = 0
	LabelFraud  = 1
)

// Dataset is an ordered set of feature rows with parallel labels.
// Labels are only used for splitting and evaluation.
type Dataset struct {
	Features []string
	Rows     [][]float64
	Labels   []int
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// Validate checks row widths and label alignment.
func (d *Dataset) Validate() error {
	if len(d.Rows) != len(d.Labels) {
		return fmt.Errorf("%w: %d rows but %d labels", domain.ErrInvalidInput, len(d.Rows), len(d.Labels))
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Features) {
			return fmt.Errorf("%w: row %d has %d values, want %d", domain.ErrSchemaMismatch, i, len(row), len(d.Features))
		}
	}
	for i, l := range d.Labels {
		if l != LabelNormal && l != LabelFraud {
			return fmt.Errorf("%w: label %d at row %d", domain.ErrInvalidInput, l, i)
		}
	}
	return nil
}

// CountLabel returns how many rows carry label.
func (d *Dataset) CountLabel(label int) int {
	n := 0
	for _, l := range d.Labels {
		if l == label {
			n++
		}
	}
	return n
}

// Select projects the dataset onto the named columns, in that order.
func (d *Dataset) Select(names []string) (*Dataset, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = -1
		for j, f := range d.Features {
			if f == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: dataset has no column %q", domain.ErrSchemaMismatch, name)
		}
	}

	out := &Dataset{
		Features: append([]string(nil), names...),
		Rows:     make([][]float64, len(d.Rows)),
		Labels:   append([]int(nil), d.Labels...),
	}
	for i, row := range d.Rows {
		proj := make([]float64, len(idx))
		for k, j := range idx {
			proj[k] = row[j]
		}
		out.Rows[i] = proj
	}
	return out, nil
}

// StratifiedSplit shuffles each class with a seeded source and moves
// round(testFraction * classSize) rows of every class into the test set,
// so both halves keep the original class ratio.
func StratifiedSplit(d *Dataset, testFraction float64, seed uint64) (train, test *Dataset, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("%w: test fraction %.2f must be in (0, 1)", domain.ErrInvalidInput, testFraction)
	}
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	train = &Dataset{Features: append([]string(nil), d.Features...)}
	test = &Dataset{Features: append([]string(nil), d.Features...)}

	for _, label := range []int{LabelNormal, LabelFraud} {
		var idx []int
		for i, l := range d.Labels {
			if l == label {
				idx = append(idx, i)
			}
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(testFraction * float64(len(idx))))
		for k, i := range idx {
			dst := train
			if k < nTest {
				dst = test
			}
			dst.Rows = append(dst.Rows, d.Rows[i])
			dst.Labels = append(dst.Labels, label)
		}
	}

	// interleave classes so downstream batching does not see all fraud last
	shuffle(train, rng)
	shuffle(test, rng)

	if train.Len() == 0 || test.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: split of %d rows left an empty partition", domain.ErrInvalidInput, d.Len())
	}
	return train, test, nil
}

func shuffle(d *Dataset, rng *rand.Rand) {
	rng.Shuffle(len(d.Rows), func(i, j int) {
		d.Rows[i], d.Rows[j] = d.Rows[j], d.Rows[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}
