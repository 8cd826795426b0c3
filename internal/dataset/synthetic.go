package dataset

import (
	"fmt"
	"math/rand/v2"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticConfig controls the synthetic transaction generator.
type SyntheticConfig struct {
	Samples    int
	FraudRatio float64
	Seed       uint64
}

// classProfile describes the generating distributions of one class.
type classProfile struct {
	amount        distuv.Rander
	hour          distuv.Rander
	sinceLast     distuv.Rander
	recipientFreq distuv.Rander
	distance      distuv.Rander
	userAge       distuv.Rander
	recipientAge  distuv.Rander
	foreignProb   float64
}

func normalProfile(src rand.Source) classProfile {
	return classProfile{
		amount:        distuv.Gamma{Alpha: 2, Beta: 1.0 / 20, Src: src},
		hour:          distuv.Normal{Mu: 12, Sigma: 5, Src: src},
		sinceLast:     distuv.Exponential{Rate: 1.0 / 24, Src: src},
		recipientFreq: distuv.Exponential{Rate: 1.0 / 0.1, Src: src},
		distance:      distuv.Exponential{Rate: 1.0 / 10, Src: src},
		userAge:       distuv.Normal{Mu: 500, Sigma: 200, Src: src},
		recipientAge:  distuv.Normal{Mu: 500, Sigma: 200, Src: src},
		foreignProb:   0.1,
	}
}

func fraudProfile(src rand.Source) classProfile {
	return classProfile{
		amount:        distuv.Gamma{Alpha: 5, Beta: 1.0 / 80, Src: src},
		hour:          distuv.Normal{Mu: 2, Sigma: 2, Src: src},
		sinceLast:     distuv.Exponential{Rate: 1, Src: src},
		recipientFreq: distuv.Exponential{Rate: 1.0 / 0.01, Src: src},
		distance:      distuv.Exponential{Rate: 1.0 / 100, Src: src},
		userAge:       distuv.Normal{Mu: 50, Sigma: 40, Src: src},
		recipientAge:  distuv.Normal{Mu: 20, Sigma: 10, Src: src},
		foreignProb:   0.5,
	}
}

// Synthetic generates a labeled dataset over domain.AllFeatures.
// Normal rows come first, followed by int(Samples*FraudRatio) fraud rows.
// Output is fully determined by the seed.
func Synthetic(cfg SyntheticConfig) (*Dataset, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("%w: samples must be positive", domain.ErrInvalidInput)
	}
	if cfg.FraudRatio < 0 || cfg.FraudRatio >= 1 {
		return nil, fmt.Errorf("%w: fraud ratio %.3f must be in [0, 1)", domain.ErrInvalidInput, cfg.FraudRatio)
	}

	nFraud := int(float64(cfg.Samples) * cfg.FraudRatio)
	nNormal := cfg.Samples - nFraud

	src := rand.NewPCG(cfg.Seed, cfg.Seed)
	rng := rand.New(src)

	d := &Dataset{
		Features: domain.AllFeatures(),
		Rows:     make([][]float64, 0, cfg.Samples),
		Labels:   make([]int, 0, cfg.Samples),
	}
	appendClass(d, normalProfile(src), rng, nNormal, LabelNormal)
	appendClass(d, fraudProfile(src), rng, nFraud, LabelFraud)
	return d, nil
}

func appendClass(d *Dataset, p classProfile, rng *rand.Rand, n, label int) {
	for i := 0; i < n; i++ {
		foreign := 0.0
		if rng.Float64() < p.foreignProb {
			foreign = 1
		}
		d.Rows = append(d.Rows, []float64{
			p.amount.Rand(),
			p.hour.Rand(),
			p.sinceLast.Rand(),
			p.recipientFreq.Rand(),
			p.distance.Rand(),
			p.userAge.Rand(),
			p.recipientAge.Rand(),
			foreign,
		})
		d.Labels = append(d.Labels, label)
	}
}
