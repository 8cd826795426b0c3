package domain

import (
	"encoding/json"
	"time"
)

// DecisionCutoff is the fixed normalized score above which a
// transaction is marked as fraud.
const DecisionCutoff = 80

// Transaction statuses produced by the decision policy.
const (
	StatusFlagged   = "flagged"
	StatusCompleted = "completed"
	StatusReview    = "review"
)

// ScoringResult is the outcome of one scoring call. It serializes to
// exactly one of two shapes: the scored result or {"error": "..."}.
type ScoringResult struct {
	ID             string
	Transaction    Transaction
	FraudScore     int
	IsFraud        bool
	ModelType      ModelType
	ModelVersion   string
	RawScore       float64
	ModelThreshold float64
	ModelAnomaly   bool
	Status         string
	CreatedAt      time.Time

	Error string
	Err   error
}

// Failed reports whether the result carries an error.
func (r *ScoringResult) Failed() bool {
	return r.Error != ""
}

// ErrorResult builds the error shape from err.
func ErrorResult(err error) ScoringResult {
	return ScoringResult{Error: err.Error(), Err: err}
}

type scoredJSON struct {
	ID             string      `json:"id,omitempty"`
	Transaction    Transaction `json:"transaction"`
	FraudScore     int         `json:"fraud_score"`
	IsFraud        bool        `json:"is_fraud"`
	ModelType      ModelType   `json:"model_type"`
	ModelVersion   string      `json:"model_version"`
	RawScore       float64     `json:"raw_score"`
	ModelThreshold float64     `json:"model_threshold"`
	ModelAnomaly   bool        `json:"model_anomaly"`
	DecisionCutoff int         `json:"decision_cutoff"`
	Status         string      `json:"status,omitempty"`
	CreatedAt      *time.Time  `json:"created_at,omitempty"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func (r ScoringResult) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(errorJSON{Error: r.Error})
	}
	out := scoredJSON{
		ID:             r.ID,
		Transaction:    r.Transaction,
		FraudScore:     r.FraudScore,
		IsFraud:        r.IsFraud,
		ModelType:      r.ModelType,
		ModelVersion:   r.ModelVersion,
		RawScore:       r.RawScore,
		ModelThreshold: r.ModelThreshold,
		ModelAnomaly:   r.ModelAnomaly,
		DecisionCutoff: DecisionCutoff,
		Status:         r.Status,
	}
	if !r.CreatedAt.IsZero() {
		out.CreatedAt = &r.CreatedAt
	}
	return json.Marshal(out)
}

func (r *ScoringResult) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if _, ok := fields["error"]; ok {
		var e errorJSON
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		*r = ScoringResult{Error: e.Error}
		return nil
	}

	var in scoredJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = ScoringResult{
		ID:             in.ID,
		Transaction:    in.Transaction,
		FraudScore:     in.FraudScore,
		IsFraud:        in.IsFraud,
		ModelType:      in.ModelType,
		ModelVersion:   in.ModelVersion,
		RawScore:       in.RawScore,
		ModelThreshold: in.ModelThreshold,
		ModelAnomaly:   in.ModelAnomaly,
		Status:         in.Status,
	}
	if in.CreatedAt != nil {
		r.CreatedAt = *in.CreatedAt
	}
	return nil
}
