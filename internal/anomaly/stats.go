package anomaly

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// percentile returns the p-th percentile (0-100) of values using
// linear interpolation. values is not modified.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q := p / 100
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	return stat.Quantile(q, stat.LinInterp, sorted, nil)
}
