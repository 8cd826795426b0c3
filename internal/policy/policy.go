// Package policy turns a scored transaction into a status using a
// CEL expression.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Input is the activation for one decision.
type Input struct {
	FraudScore     int
	IsFraud        bool
	RawScore       float64
	ModelThreshold float64
	ModelAnomaly   bool
	ModelType      domain.ModelType
	ModelVersion   string
	Transaction    domain.Transaction
}

// Policy is a compiled decision expression. It is safe for
// concurrent use and can be swapped at runtime with Reload.
type Policy struct {
	mu      sync.RWMutex
	env     *cel.Env
	expr    string
	program cel.Program
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("fraud_score", cel.IntType),
		cel.Variable("is_fraud", cel.BoolType),
		cel.Variable("raw_score", cel.DoubleType),
		cel.Variable("model_threshold", cel.DoubleType),
		cel.Variable("model_anomaly", cel.BoolType),
		cel.Variable("decision_cutoff", cel.IntType),
		cel.Variable("model_type", cel.StringType),
		cel.Variable("model_version", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// New compiles expr. An empty expression uses domain.DefaultPolicy.
func New(expr string) (*Policy, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	p := &Policy{env: env}
	if err := p.Reload(expr); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate compiles expr without installing it.
func Validate(expr string) error {
	env, err := newEnv()
	if err != nil {
		return err
	}
	_, err = compile(env, expr)
	return err
}

// Reload compiles expr and replaces the active program.
func (p *Policy) Reload(expr string) error {
	if expr == "" {
		expr = domain.DefaultPolicy
	}
	program, err := compile(p.env, expr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.expr = expr
	p.program = program
	return nil
}

// Expression returns the active expression.
func (p *Policy) Expression() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expr
}

// Decide evaluates the policy for one result.
func (p *Policy) Decide(ctx context.Context, in Input) (string, error) {
	p.mu.RLock()
	program := p.program
	p.mu.RUnlock()

	tx := make(map[string]float64, len(in.Transaction))
	for k, v := range in.Transaction {
		tx[k] = v
	}

	activation := map[string]any{
		"tx":              tx,
		"fraud_score":     int64(in.FraudScore),
		"is_fraud":        in.IsFraud,
		"raw_score":       in.RawScore,
		"model_threshold": in.ModelThreshold,
		"model_anomaly":   in.ModelAnomaly,
		"decision_cutoff": int64(domain.DecisionCutoff),
		"model_type":      string(in.ModelType),
		"model_version":   in.ModelVersion,
	}

	out, _, err := program.ContextEval(ctx, activation)
	if err != nil {
		return "", fmt.Errorf("policy evaluation failed: %w", err)
	}
	status, ok := out.(types.String)
	if !ok || status == "" {
		return "", fmt.Errorf("policy returned %v, want a non-empty string", out)
	}
	return string(status), nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile policy: %v", domain.ErrInvalidInput, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.StringType) {
		return nil, fmt.Errorf("%w: policy must return string, got %s", domain.ErrInvalidInput, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy program: %w", err)
	}
	return program, nil
}
