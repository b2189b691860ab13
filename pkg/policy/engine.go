package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates finalize requests against guardrail policies written in
// Rego. Built-in policies cover the protected-stage rule; additional .rego
// files can be loaded from disk.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*Policy
	protectedStages []string
	logger          zerolog.Logger
}

// NewEngine creates a policy engine with the built-in policies loaded.
// protectedStages lists stage names that must not be finalized without force.
func NewEngine(protectedStages []string, logger zerolog.Logger) *Engine {
	e := &Engine{
		policies:        make(map[string]*Policy),
		protectedStages: protectedStages,
		logger:          logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range BuiltinPolicies() {
		pc := p
		e.policies[p.Name] = &pc
	}
	return e
}

// EvaluateFinalize evaluates all enabled policies against a finalize request.
// Finalization is allowed only when no error-severity violation fires.
func (e *Engine) EvaluateFinalize(ctx context.Context, req Request, facts ScopeFacts) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := Input{
		Request:         req,
		Scope:           facts,
		ProtectedStages: e.protectedStages,
	}

	var violations []Violation
	var warnings []string
	for _, p := range e.policies {
		if !p.Enabled {
			continue
		}
		found, err := e.evaluatePolicy(ctx, p, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", p.Name, err))
			continue
		}
		violations = append(violations, found...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity == SeverityError {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("path", req.Path).
		Bool("allowed", allowed).
		Int("violations", len(violations)).
		Msg("Finalize policy evaluation completed")

	return &Result{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// AddPolicy registers or replaces a policy.
func (e *Engine) AddPolicy(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = &p
}

// evaluatePolicy runs a single policy's deny query against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, p *Policy, input Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, makeViolation(p, d))
			}
		}
	}
	return violations, nil
}

// makeViolation converts one deny result into a Violation.
func makeViolation(p *Policy, result interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "scopekeeper.policies"
}
