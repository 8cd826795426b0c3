package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Feature names in training-time order.
const (
	FeatureAmount                  = "amount"
	FeatureHourOfDay               = "hour_of_day"
	FeatureTimeSinceLastTx         = "time_since_last_tx"
	FeatureRecipientFrequency      = "recipient_frequency"
	FeatureDistanceToRecipientKm   = "distance_to_recipient_km"
	FeatureUserAccountAgeDays      = "user_account_age_days"
	FeatureRecipientAccountAgeDays = "recipient_account_age_days"
	FeatureIsForeignTransaction    = "is_foreign_transaction"
)

// RequiredFeatures must be present on every scored transaction.
var RequiredFeatures = []string{
	FeatureAmount,
	FeatureHourOfDay,
	FeatureTimeSinceLastTx,
	FeatureRecipientFrequency,
	FeatureDistanceToRecipientKm,
}

// ExtendedFeatures are optional and only consumed by the isolation forest.
var ExtendedFeatures = []string{
	FeatureUserAccountAgeDays,
	FeatureRecipientAccountAgeDays,
	FeatureIsForeignTransaction,
}

// AllFeatures returns the full ordered feature schema.
func AllFeatures() []string {
	out := make([]string, 0, len(RequiredFeatures)+len(ExtendedFeatures))
	out = append(out, RequiredFeatures...)
	return append(out, ExtendedFeatures...)
}

// IsRequiredFeature reports whether name is one of RequiredFeatures.
func IsRequiredFeature(name string) bool {
	for _, f := range RequiredFeatures {
		if f == name {
			return true
		}
	}
	return false
}

// Transaction maps feature names to numeric values.
// Booleans decode as 1 or 0 and numeric strings are parsed. A required
// feature whose value is not a finite number is rejected; on any other
// key such a value is dropped so it can never reach the scaler or the
// JSON encoder.
type Transaction map[string]float64

// Validate checks that every required feature is present.
// The first missing field, in declaration order, is reported.
func (tx Transaction) Validate() error {
	for _, f := range RequiredFeatures {
		if _, ok := tx[f]; !ok {
			return &ValidationError{Field: f}
		}
	}
	return nil
}

// Keys returns the transaction's feature names sorted.
func (tx Transaction) Keys() []string {
	keys := make([]string, 0, len(tx))
	for k := range tx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON decodes a loosely typed JSON object.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("%w: transaction must be a JSON object", ErrInvalidInput)
	}

	out := make(Transaction, len(raw))
	for _, k := range sortedKeys(raw) {
		f, ok := numeric(raw[k])
		switch {
		case ok:
			out[k] = f
		case raw[k] == nil:
			// null reads as absent
		case IsRequiredFeature(k):
			return &ValidationError{Field: k, Invalid: true}
		}
	}
	*tx = out
	return nil
}

// numeric converts a decoded JSON value to a finite float.
func numeric(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case string:
		// ParseFloat accepts "NaN" and "Inf", which JSON cannot carry back out
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// sortedKeys keeps the reported field stable when several are invalid.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScoreRequest is the input to a scoring call. It is either a bare
// transaction object or a wrapper carrying model selection.
type ScoreRequest struct {
	Transaction  Transaction `json:"transaction"`
	ModelType    ModelType   `json:"model_type,omitempty"`
	ModelVersion string      `json:"model_version,omitempty"`
}

// ParseScoreRequest decodes either accepted payload shape and fills
// in the default model type and version.
func ParseScoreRequest(data []byte) (*ScoreRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: request must be a JSON object", ErrInvalidInput)
	}

	req := &ScoreRequest{}
	if inner, ok := fields["transaction"]; ok {
		if err := json.Unmarshal(inner, &req.Transaction); err != nil {
			return nil, transactionError("transaction: ", err)
		}
		if mt, ok := fields["model_type"]; ok {
			var s string
			if err := json.Unmarshal(mt, &s); err != nil {
				return nil, fmt.Errorf("%w: model_type must be a string", ErrInvalidInput)
			}
			req.ModelType = ModelType(s)
		}
		if mv, ok := fields["model_version"]; ok {
			if err := json.Unmarshal(mv, &req.ModelVersion); err != nil {
				return nil, fmt.Errorf("%w: model_version must be a string", ErrInvalidInput)
			}
		}
	} else if err := json.Unmarshal(data, &req.Transaction); err != nil {
		return nil, transactionError("", err)
	}

	if req.ModelType == "" {
		req.ModelType = ModelIsolationForest
	}
	if req.ModelVersion == "" {
		req.ModelVersion = VersionLatest
	}
	return req, nil
}

// transactionError passes field validation errors through and tags
// anything else as invalid input.
func transactionError(prefix string, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return fmt.Errorf("%w: %s%v", ErrInvalidInput, prefix, err)
}
