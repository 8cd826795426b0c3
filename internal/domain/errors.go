package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownModelType = errors.New("unknown model type")
	ErrVersionExists    = errors.New("model version already exists")
	ErrAliasNotSet      = errors.New("alias not set")
	ErrSchemaMismatch   = errors.New("feature schema mismatch")
	ErrNotFitted        = errors.New("model is not fitted")
)

// ValidationError reports a required transaction field that is
// missing or, when Invalid is set, present but not a finite number.
type ValidationError struct {
	Field   string
	Invalid bool
}

func (e *ValidationError) Error() string {
	if e.Invalid {
		return "Invalid value for field: " + e.Field
	}
	return "Missing required field: " + e.Field
}

// LoadAttempt records the outcome of one resolution strategy.
type LoadAttempt struct {
	Strategy string
	Err      error
}

// LoadError is returned once every load strategy has failed.
type LoadError struct {
	ModelType ModelType
	Version   string
	Attempts  []LoadAttempt
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to load %s model %q", e.ModelType, e.Version)
	if len(e.Attempts) == 0 {
		b.WriteString(": no load strategies available")
		return b.String()
	}
	b.WriteString(": ")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Strategy, a.Err)
	}
	return b.String()
}

func (e *LoadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// TrainingError wraps any failure during fit or evaluation.
type TrainingError struct {
	ModelType ModelType
	Stage     string
	Err       error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training %s failed during %s: %v", e.ModelType, e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// ScoringComputeError reports a numeric failure while scoring.
type ScoringComputeError struct {
	Stage string
	Err   error
}

func (e *ScoringComputeError) Error() string {
	return fmt.Sprintf("scoring failed during %s: %v", e.Stage, e.Err)
}

func (e *ScoringComputeError) Unwrap() error { return e.Err }
