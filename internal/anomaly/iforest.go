// Package anomaly implements the unsupervised anomaly models used for
// fraud scoring and their tagged artifact encoding.
package anomaly

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

const eulerGamma = 0.5772156649015329

// ForestOption configures an IsolationForest.
type ForestOption func(*IsolationForest)

// WithTrees sets the ensemble size.
func WithTrees(n int) ForestOption {
	return func(f *IsolationForest) { f.NTrees = n }
}

// WithSampleSize caps the rows drawn per tree.
func WithSampleSize(n int) ForestOption {
	return func(f *IsolationForest) { f.MaxSamples = n }
}

// WithContamination sets the expected anomaly fraction.
func WithContamination(c float64) ForestOption {
	return func(f *IsolationForest) { f.Contamination = c }
}

// WithSeed fixes the random source.
func WithSeed(seed uint64) ForestOption {
	return func(f *IsolationForest) { f.Seed = seed }
}

// IsolationForest isolates points with random axis-aligned splits.
// Score returns the decision value: the offset-shifted negated anomaly
// score, negative for outliers.
type IsolationForest struct {
	NTrees        int     `json:"n_trees"`
	MaxSamples    int     `json:"max_samples"`
	Contamination float64 `json:"contamination"`
	Seed          uint64  `json:"seed"`

	SampleSize int     `json:"sample_size"`
	Width      int     `json:"width"`
	Offset     float64 `json:"offset"`
	Forest     []iTree `json:"trees"`
}

// iTree is a flat isolation tree; node 0 is the root.
type iTree struct {
	Nodes []treeNode `json:"nodes"`
}

// treeNode is a split when Left >= 0 and a leaf otherwise.
type treeNode struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int     `json:"l"`
	Right   int     `json:"r"`
	Size    int     `json:"n"`
}

// NewIsolationForest returns an unfitted forest with 100 trees,
// 256 samples per tree and 5% contamination unless overridden.
func NewIsolationForest(opts ...ForestOption) *IsolationForest {
	f := &IsolationForest{
		NTrees:        100,
		MaxSamples:    256,
		Contamination: 0.05,
		Seed:          42,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind implements domain.AnomalyModel.
func (f *IsolationForest) Kind() domain.ModelType {
	return domain.ModelIsolationForest
}

// Fit grows the ensemble and calibrates the decision offset so that
// the contamination fraction of training rows scores below zero.
func (f *IsolationForest) Fit(rows [][]float64) error {
	if f.NTrees <= 0 {
		return fmt.Errorf("%w: trees must be positive", domain.ErrInvalidInput)
	}
	if f.Contamination <= 0 || f.Contamination > 0.5 {
		return fmt.Errorf("%w: contamination %.3f must be in (0, 0.5]", domain.ErrInvalidInput, f.Contamination)
	}
	if len(rows) < 2 {
		return fmt.Errorf("%w: need at least 2 rows, got %d", domain.ErrInvalidInput, len(rows))
	}
	width := len(rows[0])
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d values, want %d", domain.ErrSchemaMismatch, i, len(row), width)
		}
	}

	psi := f.MaxSamples
	if psi <= 0 || psi > len(rows) {
		psi = len(rows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	rng := rand.New(rand.NewPCG(f.Seed, f.Seed))
	forest := make([]iTree, f.NTrees)
	for t := range forest {
		perm := rng.Perm(len(rows))[:psi]
		sample := make([][]float64, psi)
		for i, idx := range perm {
			sample[i] = rows[idx]
		}
		tree := iTree{}
		tree.grow(sample, 0, maxDepth, width, rng)
		forest[t] = tree
	}

	f.Forest = forest
	f.SampleSize = psi
	f.Width = width

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.scoreSample(row)
	}
	f.Offset = percentile(scores, 100*f.Contamination)
	return nil
}

// grow appends the subtree for rows and returns its node index.
func (t *iTree) grow(rows [][]float64, depth, maxDepth, width int, rng *rand.Rand) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{Left: -1, Right: -1, Size: len(rows)})
	if depth >= maxDepth || len(rows) <= 1 {
		return idx
	}

	// pick a random feature that still varies in this node
	feature, lo, hi := -1, 0.0, 0.0
	for _, j := range rng.Perm(width) {
		lo, hi = rows[0][j], rows[0][j]
		for _, row := range rows[1:] {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		if hi > lo {
			feature = j
			break
		}
	}
	if feature < 0 {
		return idx
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	l := t.grow(left, depth+1, maxDepth, width, rng)
	r := t.grow(right, depth+1, maxDepth, width, rng)
	t.Nodes[idx] = treeNode{Feature: feature, Split: split, Left: l, Right: r, Size: len(rows)}
	return idx
}

func (t *iTree) pathLength(row []float64) float64 {
	depth := 0.0
	n := t.Nodes[0]
	for n.Left >= 0 {
		if row[n.Feature] < n.Split {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
		depth++
	}
	return depth + averagePathLength(n.Size)
}

// averagePathLength is the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// scoreSample is the negated anomaly score in [-1, 0); lower is more anomalous.
func (f *IsolationForest) scoreSample(row []float64) float64 {
	var total float64
	for i := range f.Forest {
		total += f.Forest[i].pathLength(row)
	}
	mean := total / float64(len(f.Forest))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// Score returns the decision value for one standardized row.
func (f *IsolationForest) Score(row []float64) (float64, error) {
	if len(f.Forest) == 0 {
		return 0, domain.ErrNotFitted
	}
	if len(row) != f.Width {
		return 0, fmt.Errorf("%w: got %d values, forest expects %d", domain.ErrSchemaMismatch, len(row), f.Width)
	}
	return f.scoreSample(row) - f.Offset, nil
}

// IsAnomaly reports whether a decision value marks an outlier.
func (f *IsolationForest) IsAnomaly(raw float64) bool {
	return raw < 0
}

// Normalize maps a decision value onto the fraud scale.
// A decision of -0.5 maps to 100 and +0.5 maps to 0.
func (f *IsolationForest) Normalize(raw float64) float64 {
	return (1 - (raw + 0.5)) * 100
}

// Threshold is the decision boundary in raw units, which is always 0.
func (f *IsolationForest) Threshold() float64 {
	return 0
}

// forestState breaks the MarshalJSON recursion.
type forestState IsolationForest

func (f *IsolationForest) MarshalJSON() ([]byte, error) {
	return json.Marshal((*forestState)(f))
}

func (f *IsolationForest) UnmarshalJSON(data []byte) error {
	var st forestState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	restored := IsolationForest(st)
	if err := restored.validate(); err != nil {
		return err
	}
	*f = restored
	return nil
}

func (f *IsolationForest) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*forestState)(f)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *IsolationForest) UnmarshalBinary(data []byte) error {
	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	restored := IsolationForest(st)
	if err := restored.validate(); err != nil {
		return err
	}
	*f = restored
	return nil
}

func (f *IsolationForest) validate() error {
	if len(f.Forest) == 0 {
		return fmt.Errorf("%w: forest has no trees", domain.ErrNotFitted)
	}
	if f.Width <= 0 || f.SampleSize <= 0 {
		return fmt.Errorf("%w: forest width %d, sample size %d", domain.ErrSchemaMismatch, f.Width, f.SampleSize)
	}
	for t, tree := range f.Forest {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", domain.ErrSchemaMismatch, t)
		}
		// children always follow their parent, which rules out cycles
		for i, n := range tree.Nodes {
			if n.Left < 0 {
				continue
			}
			if n.Left <= i || n.Left >= len(tree.Nodes) || n.Right <= i || n.Right >= len(tree.Nodes) || n.Feature < 0 || n.Feature >= f.Width {
				return fmt.Errorf("%w: tree %d node %d is malformed", domain.ErrSchemaMismatch, t, i)
			}
		}
	}
	return nil
}
