package anomaly

import (
	"fmt"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

// Report builds a binary classification report from true labels and
// predictions, where 1 is fraud. Undefined ratios are reported as 0.
func Report(labels, predicted []int) (*domain.ClassificationReport, error) {
	if len(labels) != len(predicted) {
		return nil, fmt.Errorf("%w: %d labels, %d predictions", domain.ErrInvalidInput, len(labels), len(predicted))
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", domain.ErrInvalidInput)
	}

	var tp, fp, tn, fn int
	for i, y := range labels {
		switch {
		case y == 1 && predicted[i] == 1:
			tp++
		case y == 1:
			fn++
		case predicted[i] == 1:
			fp++
		default:
			tn++
		}
	}

	fraud := classMetrics(tp, fp, fn)
	normal := classMetrics(tn, fn, fp)
	total := len(labels)

	r := &domain.ClassificationReport{
		Normal:   normal,
		Fraud:    fraud,
		Accuracy: float64(tp+tn) / float64(total),
		MacroAvg: domain.ClassMetrics{
			Precision: (normal.Precision + fraud.Precision) / 2,
			Recall:    (normal.Recall + fraud.Recall) / 2,
			F1Score:   (normal.F1Score + fraud.F1Score) / 2,
			Support:   total,
		},
	}
	wn := float64(normal.Support) / float64(total)
	wf := float64(fraud.Support) / float64(total)
	r.WeightedAvg = domain.ClassMetrics{
		Precision: wn*normal.Precision + wf*fraud.Precision,
		Recall:    wn*normal.Recall + wf*fraud.Recall,
		F1Score:   wn*normal.F1Score + wf*fraud.F1Score,
		Support:   total,
	}
	return r, nil
}

func classMetrics(tp, fp, fn int) domain.ClassMetrics {
	m := domain.ClassMetrics{Support: tp + fn}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1Score = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
