package anomaly

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// DefaultReconstructionThreshold applies when an artifact carries no
// calibrated threshold.
const DefaultReconstructionThreshold = 0.05

// AutoencoderConfig holds the network shape and training schedule.
type AutoencoderConfig struct {
	Hidden              []int   `json:"hidden"`
	Epochs              int     `json:"epochs"`
	BatchSize           int     `json:"batch_size"`
	LearningRate        float64 `json:"learning_rate"`
	ThresholdPercentile float64 `json:"threshold_percentile"`
	Seed                uint64  `json:"seed"`
}

// DefaultAutoencoderConfig is a 32-16-8-16-32 network trained with
// Adam for 50 epochs in batches of 32.
func DefaultAutoencoderConfig() AutoencoderConfig {
	return AutoencoderConfig{
		Hidden:              []int{32, 16, 8, 16, 32},
		Epochs:              50,
		BatchSize:           32,
		LearningRate:        0.001,
		ThresholdPercentile: 95,
		Seed:                42,
	}
}

// Autoencoder is a dense encoder/decoder network. Its raw score is the
// mean squared reconstruction error of a standardized row.
//
// The network is fitted on normal rows only and its input is clamped
// to the per-column range seen during training. A value outside that
// envelope cannot be reproduced, so its distance to the envelope
// counts fully towards the error.
type Autoencoder struct {
	Config AutoencoderConfig `json:"config"`
	Width  int               `json:"width"`
	Layers []*dense          `json:"layers"`

	// Lower and Upper bound the training rows per column.
	Lower []float64 `json:"lower,omitempty"`
	Upper []float64 `json:"upper,omitempty"`

	// Calibrated is the reconstruction error percentile measured on
	// held-out rows; zero until Calibrate runs.
	Calibrated float64   `json:"threshold"`
	History    []float64 `json:"loss_history,omitempty"`
}

// NewAutoencoder returns an unfitted network.
func NewAutoencoder(cfg AutoencoderConfig) *Autoencoder {
	return &Autoencoder{Config: cfg}
}

// Kind implements domain.AnomalyModel.
func (a *Autoencoder) Kind() domain.ModelType {
	return domain.ModelAutoencoder
}

// TrainsOnNormal reports that the trainer must fit the network on
// the normal rows of its training split.
func (a *Autoencoder) TrainsOnNormal() bool {
	return true
}

// Fit trains the network to reproduce rows under MSE loss.
func (a *Autoencoder) Fit(rows [][]float64) error {
	cfg := a.Config
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.LearningRate <= 0 {
		return fmt.Errorf("%w: epochs, batch size and learning rate must be positive", domain.ErrInvalidInput)
	}
	if len(cfg.Hidden) == 0 {
		return fmt.Errorf("%w: autoencoder needs hidden layers", domain.ErrInvalidInput)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no rows to fit", domain.ErrInvalidInput)
	}
	width := len(rows[0])
	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d values, want %d", domain.ErrSchemaMismatch, i, len(row), width)
		}
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	sizes := append([]int{width}, cfg.Hidden...)
	sizes = append(sizes, width)
	layers := make([]*dense, 0, len(sizes)-1)
	for i := 0; i < len(sizes)-1; i++ {
		relu := i < len(sizes)-2
		layers = append(layers, newDense(sizes[i], sizes[i+1], relu, rng))
	}
	a.Layers = layers
	a.Width = width
	a.History = a.History[:0]
	a.Lower, a.Upper = envelope(rows, width)

	opt := newAdam(cfg.LearningRate, layers)
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	lossGrad := make([]float64, width)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			for _, l := range layers {
				l.zeroGrad()
			}

			for _, idx := range order[start:end] {
				x := rows[idx]
				out := x
				for _, l := range layers {
					out = l.forward(out)
				}
				var sq float64
				for j := range lossGrad {
					diff := out[j] - x[j]
					sq += diff * diff
					lossGrad[j] = 2 * diff / float64(width)
				}
				epochLoss += sq / float64(width)

				grad := lossGrad
				for k := len(layers) - 1; k >= 0; k-- {
					grad = layers[k].backward(grad)
				}
			}

			opt.step(layers, 1/float64(end-start))
		}

		loss := epochLoss / float64(len(rows))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return fmt.Errorf("training diverged at epoch %d", epoch+1)
		}
		a.History = append(a.History, loss)
	}
	return nil
}

// Calibrate sets the adaptive threshold to the configured percentile
// of reconstruction error over rows.
func (a *Autoencoder) Calibrate(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: no rows to calibrate on", domain.ErrInvalidInput)
	}
	errs := make([]float64, len(rows))
	for i, row := range rows {
		e, err := a.Score(row)
		if err != nil {
			return err
		}
		errs[i] = e
	}
	p := a.Config.ThresholdPercentile
	if p <= 0 {
		p = 95
	}
	a.Calibrated = percentile(errs, p)
	return nil
}

// Reconstruct runs one row through the network.
// It allocates and is safe for concurrent use.
func (a *Autoencoder) Reconstruct(row []float64) ([]float64, error) {
	if len(a.Layers) == 0 {
		return nil, domain.ErrNotFitted
	}
	if len(row) != a.Width {
		return nil, fmt.Errorf("%w: got %d values, autoencoder expects %d", domain.ErrSchemaMismatch, len(row), a.Width)
	}
	out := a.clamp(row)
	for _, l := range a.Layers {
		out = l.predict(out)
	}
	return out, nil
}

// envelope returns the per-column minimum and maximum of rows.
func envelope(rows [][]float64, width int) (lower, upper []float64) {
	lower = append([]float64(nil), rows[0]...)
	upper = append([]float64(nil), rows[0]...)
	for _, row := range rows[1:] {
		for j := 0; j < width; j++ {
			lower[j] = math.Min(lower[j], row[j])
			upper[j] = math.Max(upper[j], row[j])
		}
	}
	return lower, upper
}

// clamp returns row limited to the training envelope. Artifacts
// without an envelope pass rows through unchanged.
func (a *Autoencoder) clamp(row []float64) []float64 {
	if len(a.Lower) == 0 {
		return row
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = math.Max(a.Lower[j], math.Min(a.Upper[j], v))
	}
	return out
}

// Score returns the mean squared reconstruction error.
func (a *Autoencoder) Score(row []float64) (float64, error) {
	rec, err := a.Reconstruct(row)
	if err != nil {
		return 0, err
	}
	var sq float64
	for j := range row {
		d := row[j] - rec[j]
		sq += d * d
	}
	return sq / float64(len(row)), nil
}

// IsAnomaly reports whether the error exceeds the adaptive threshold.
func (a *Autoencoder) IsAnomaly(raw float64) bool {
	return raw > a.Threshold()
}

// Normalize maps reconstruction error onto the fraud scale.
func (a *Autoencoder) Normalize(raw float64) float64 {
	return raw * 100
}

// Threshold returns the calibrated threshold or the default.
func (a *Autoencoder) Threshold() float64 {
	if a.Calibrated <= 0 {
		return DefaultReconstructionThreshold
	}
	return a.Calibrated
}

type autoencoderState Autoencoder

func (a *Autoencoder) MarshalJSON() ([]byte, error) {
	return json.Marshal((*autoencoderState)(a))
}

func (a *Autoencoder) UnmarshalJSON(data []byte) error {
	var st autoencoderState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	restored := Autoencoder(st)
	if err := restored.validate(); err != nil {
		return err
	}
	*a = restored
	return nil
}

func (a *Autoencoder) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*autoencoderState)(a)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Autoencoder) UnmarshalBinary(data []byte) error {
	var st autoencoderState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	restored := Autoencoder(st)
	if err := restored.validate(); err != nil {
		return err
	}
	*a = restored
	return nil
}

func (a *Autoencoder) validate() error {
	if len(a.Layers) == 0 {
		return fmt.Errorf("%w: autoencoder has no layers", domain.ErrNotFitted)
	}
	in := a.Width
	for i, l := range a.Layers {
		if l == nil || l.In != in || len(l.W) != l.In*l.Out || len(l.B) != l.Out {
			return fmt.Errorf("%w: layer %d is malformed", domain.ErrSchemaMismatch, i)
		}
		in = l.Out
	}
	if in != a.Width {
		return fmt.Errorf("%w: output width %d, input width %d", domain.ErrSchemaMismatch, in, a.Width)
	}
	if len(a.Lower) == 0 && len(a.Upper) == 0 {
		return nil
	}
	if len(a.Lower) != a.Width || len(a.Upper) != a.Width {
		return fmt.Errorf("%w: envelope has %d/%d bounds, input width %d", domain.ErrSchemaMismatch, len(a.Lower), len(a.Upper), a.Width)
	}
	for j := range a.Lower {
		if !(a.Lower[j] <= a.Upper[j]) || math.IsInf(a.Lower[j], 0) || math.IsInf(a.Upper[j], 0) {
			return fmt.Errorf("%w: envelope column %d is malformed", domain.ErrSchemaMismatch, j)
		}
	}
	return nil
}

// dense is a fully connected layer. W is row-major: the weight from
// input i to output o is W[o*In+i].
type dense struct {
	In   int       `json:"in"`
	Out  int       `json:"out"`
	W    []float64 `json:"w"`
	B    []float64 `json:"b"`
	ReLU bool      `json:"relu"`

	// training buffers
	input  []float64
	preAct []float64
	output []float64
	dz     []float64
	gradIn []float64
	gradW  []float64
	gradB  []float64
}

// newDense uses Glorot uniform weights and zero biases.
func newDense(in, out int, relu bool, rng *rand.Rand) *dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = rng.Float64()*2*limit - limit
	}
	return &dense{In: in, Out: out, W: w, B: make([]float64, out), ReLU: relu}
}

func (d *dense) ensureBuffers() {
	if d.input != nil {
		return
	}
	d.input = make([]float64, d.In)
	d.preAct = make([]float64, d.Out)
	d.output = make([]float64, d.Out)
	d.dz = make([]float64, d.Out)
	d.gradIn = make([]float64, d.In)
	d.gradW = make([]float64, d.In*d.Out)
	d.gradB = make([]float64, d.Out)
}

func (d *dense) zeroGrad() {
	d.ensureBuffers()
	clear(d.gradW)
	clear(d.gradB)
}

// forward keeps activations for backward and returns an internal buffer.
func (d *dense) forward(x []float64) []float64 {
	copy(d.input, x)
	for o := 0; o < d.Out; o++ {
		z := floats.Dot(d.W[o*d.In:(o+1)*d.In], d.input) + d.B[o]
		d.preAct[o] = z
		if d.ReLU && z < 0 {
			z = 0
		}
		d.output[o] = z
	}
	return d.output
}

// backward accumulates parameter gradients and returns dL/dx.
func (d *dense) backward(grad []float64) []float64 {
	for o := 0; o < d.Out; o++ {
		g := grad[o]
		if d.ReLU && d.preAct[o] <= 0 {
			g = 0
		}
		d.dz[o] = g
		d.gradB[o] += g
		floats.AddScaled(d.gradW[o*d.In:(o+1)*d.In], g, d.input)
	}
	clear(d.gradIn)
	for o := 0; o < d.Out; o++ {
		floats.AddScaled(d.gradIn, d.dz[o], d.W[o*d.In:(o+1)*d.In])
	}
	return d.gradIn
}

// predict is the allocation-based forward pass used at inference.
func (d *dense) predict(x []float64) []float64 {
	out := make([]float64, d.Out)
	for o := range out {
		z := floats.Dot(d.W[o*d.In:(o+1)*d.In], x) + d.B[o]
		if d.ReLU && z < 0 {
			z = 0
		}
		out[o] = z
	}
	return out
}

// adam is the Adam optimizer with bias-corrected moment estimates.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(lr float64, layers []*dense) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, l := range layers {
		a.m = append(a.m, make([]float64, len(l.W)), make([]float64, len(l.B)))
		a.v = append(a.v, make([]float64, len(l.W)), make([]float64, len(l.B)))
	}
	return a
}

// step applies one update; scale converts summed gradients to a batch mean.
func (a *adam) step(layers []*dense, scale float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	k := 0
	for _, l := range layers {
		for _, pg := range [2][2][]float64{{l.W, l.gradW}, {l.B, l.gradB}} {
			params, grads := pg[0], pg[1]
			m, v := a.m[k], a.v[k]
			for i := range params {
				g := grads[i] * scale
				m[i] = a.beta1*m[i] + (1-a.beta1)*g
				v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
				params[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
			}
			k++
		}
	}
}
