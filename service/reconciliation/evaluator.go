/*
 * @module service/reconciliation/evaluator
 * @description Check evaluator: pure comparison of per-source values under one rule
 * @architecture Layered architecture - business service layer
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow Rule config parse -> kind dispatch -> ReconciliationCheck
 * @rules Evaluation is a pure function of its inputs; missing source data fails the check, it is never skipped
 * @dependencies github.com/spf13/cast, github.com/traefik/yaegi
 * @refs service/models/rule.go, service/facts/resolver.go
 */

package reconciliation

import (
	"crypto/sha1"
	"fmt"
	"sync"

	"nhlrecon-service/service/facts"
	"nhlrecon-service/service/models"

	"github.com/spf13/cast"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// CheckKind is the tagged union of comparison semantics. New kinds stay
// additive: the registry stores them as opaque config, only the evaluator
// interprets them.
type CheckKind interface {
	kindName() string
}

// NumericCheck passes when |a-b| <= Tolerance.
type NumericCheck struct {
	Tolerance     float64
	SoftTolerance float64
}

func (NumericCheck) kindName() string { return "numeric" }

// PresenceCheck passes when the source reported any value at all.
type PresenceCheck struct{}

func (PresenceCheck) kindName() string { return "presence" }

// CategoricalCheck passes on exact string equality; difference stays nil.
type CategoricalCheck struct{}

func (CategoricalCheck) kindName() string { return "categorical" }

// ExpressionCheck evaluates a Go boolean expression over the numeric values
// (a, b) and their presence flags (aSet, bSet).
type ExpressionCheck struct {
	Expression string
}

func (ExpressionCheck) kindName() string { return "expression" }

// RuleSpec is the evaluator-facing view of a rule's opaque config.
type RuleSpec struct {
	Kind       CheckKind
	EntityType string
	Field      string
	SourceA    string
	SourceB    string
}

// ParseRuleSpec interprets the rule config. Unknown check types are an error
// so misconfigured rules surface as failed checks, not silent passes.
func ParseRuleSpec(rule *models.ValidationRule) (*RuleSpec, error) {
	cfg := map[string]interface{}(rule.Config)

	spec := &RuleSpec{
		EntityType: cast.ToString(cfg["entity_type"]),
		Field:      cast.ToString(cfg["field"]),
		SourceA:    cast.ToString(cfg["source_a"]),
		SourceB:    cast.ToString(cfg["source_b"]),
	}
	if spec.EntityType == "" {
		spec.EntityType = "game"
	}
	if spec.Field == "" {
		return nil, fmt.Errorf("rule %s: config is missing field", rule.Name)
	}
	if spec.SourceA == "" {
		return nil, fmt.Errorf("rule %s: config is missing source_a", rule.Name)
	}

	checkType := cast.ToString(cfg["check_type"])
	switch checkType {
	case "numeric":
		tolerance := cast.ToFloat64(cfg["tolerance"])
		soft := cast.ToFloat64(cfg["soft_tolerance"])
		if soft < tolerance {
			soft = defaultSoftTolerance(tolerance)
		}
		spec.Kind = NumericCheck{Tolerance: tolerance, SoftTolerance: soft}
	case "presence":
		spec.Kind = PresenceCheck{}
	case "categorical":
		spec.Kind = CategoricalCheck{}
	case "expression":
		expr := cast.ToString(cfg["expression"])
		if expr == "" {
			return nil, fmt.Errorf("rule %s: expression check without expression", rule.Name)
		}
		spec.Kind = ExpressionCheck{Expression: expr}
	default:
		return nil, fmt.Errorf("rule %s: unknown check type %q", rule.Name, checkType)
	}

	if _, twoSided := spec.Kind.(PresenceCheck); !twoSided && spec.SourceB == "" {
		return nil, fmt.Errorf("rule %s: config is missing source_b", rule.Name)
	}

	return spec, nil
}

// defaultSoftTolerance derives the "close but not exact" band used by the
// consistency score when a rule does not configure one.
func defaultSoftTolerance(tolerance float64) float64 {
	if tolerance == 0 {
		return 1.0
	}
	return tolerance * 3
}

// ReconciliationCheck is one evaluation outcome, the unit persisted as a
// ValidationResult and the input to discrepancy recording.
type ReconciliationCheck struct {
	RuleName      string
	EntityType    string
	EntityID      string
	FieldName     string
	SourceA       string
	SourceAValue  *facts.Fact
	SourceB       string
	SourceBValue  *facts.Fact
	Difference    *float64
	Passed        bool
	Message       string
	Complete      bool
	Numeric       bool
	SoftTolerance float64
}

// Evaluator dispatches rule evaluation by check kind. Stateless apart from the
// compiled expression cache.
type Evaluator struct {
	scripts *expressionCache
}

// NewEvaluator creates an evaluator instance.
func NewEvaluator() *Evaluator {
	return &Evaluator{scripts: newExpressionCache()}
}

// Evaluate compares the resolved source values under one rule. Pure: no
// clocks, no storage, no randomness.
func (e *Evaluator) Evaluate(rule *models.ValidationRule, spec *RuleSpec, ref facts.EntityRef, valueA, valueB *facts.Fact) *ReconciliationCheck {
	check := &ReconciliationCheck{
		RuleName:     rule.Name,
		EntityType:   spec.EntityType,
		EntityID:     ref.EntityID,
		FieldName:    spec.Field,
		SourceA:      spec.SourceA,
		SourceAValue: valueA,
		SourceB:      spec.SourceB,
		SourceBValue: valueB,
	}

	switch kind := spec.Kind.(type) {
	case PresenceCheck:
		check.Complete = valueA != nil
		check.Passed = valueA != nil
		if !check.Passed {
			check.Message = fmt.Sprintf("%s has no record of %s for %s %s",
				spec.SourceA, spec.Field, spec.EntityType, ref.EntityID)
		}

	case NumericCheck:
		check.Numeric = true
		check.SoftTolerance = kind.SoftTolerance
		check.Complete = valueA != nil && valueB != nil
		if !check.Complete {
			check.Passed = false
			check.Message = missingSourceMessage(spec, valueA, valueB)
			return check
		}
		if !valueA.IsNumeric() || !valueB.IsNumeric() {
			check.Passed = false
			check.Message = fmt.Sprintf("non-numeric value for %s (%s=%s, %s=%s)",
				spec.Field, spec.SourceA, valueA.String(), spec.SourceB, valueB.String())
			return check
		}
		diff := *valueA.Numeric - *valueB.Numeric
		if diff < 0 {
			diff = -diff
		}
		check.Difference = &diff
		check.Passed = diff <= kind.Tolerance
		if !check.Passed {
			check.Message = fmt.Sprintf("%s disagrees: %s=%s vs %s=%s (diff %g, tolerance %g)",
				spec.Field, spec.SourceA, valueA.String(), spec.SourceB, valueB.String(), diff, kind.Tolerance)
		}

	case CategoricalCheck:
		check.Complete = valueA != nil && valueB != nil
		if !check.Complete {
			check.Passed = false
			check.Message = missingSourceMessage(spec, valueA, valueB)
			return check
		}
		check.Passed = valueA.String() == valueB.String()
		if !check.Passed {
			check.Message = fmt.Sprintf("%s disagrees: %s=%q vs %s=%q",
				spec.Field, spec.SourceA, valueA.String(), spec.SourceB, valueB.String())
		}

	case ExpressionCheck:
		check.Numeric = valueA.IsNumeric() && valueB.IsNumeric()
		check.Complete = valueA != nil && valueB != nil
		var a, b float64
		if valueA.IsNumeric() {
			a = *valueA.Numeric
		}
		if valueB.IsNumeric() {
			b = *valueB.Numeric
		}
		if check.Numeric {
			diff := a - b
			if diff < 0 {
				diff = -diff
			}
			check.Difference = &diff
		}
		passed, err := e.scripts.run(kind.Expression, a, b, valueA != nil, valueB != nil)
		if err != nil {
			check.Passed = false
			check.Message = fmt.Sprintf("expression error: %v", err)
			return check
		}
		check.Passed = passed
		if !passed {
			check.Message = fmt.Sprintf("%s failed expression check (%s=%s, %s=%s)",
				spec.Field, spec.SourceA, valueA.String(), spec.SourceB, valueB.String())
		}
	}

	return check
}

func missingSourceMessage(spec *RuleSpec, valueA, valueB *facts.Fact) string {
	switch {
	case valueA == nil && valueB == nil:
		return fmt.Sprintf("neither %s nor %s reported %s", spec.SourceA, spec.SourceB, spec.Field)
	case valueA == nil:
		return fmt.Sprintf("%s reported no %s (%s=%s)", spec.SourceA, spec.Field, spec.SourceB, valueB.String())
	default:
		return fmt.Sprintf("%s reported no %s (%s=%s)", spec.SourceB, spec.Field, spec.SourceA, valueA.String())
	}
}

// compiledExpression wraps an interpreted check function. yaegi interpreters
// are not safe for concurrent use, so each compiled script serializes calls.
type compiledExpression struct {
	mu sync.Mutex
	fn func(a, b float64, aSet, bSet bool) bool
}

type expressionCache struct {
	mu    sync.RWMutex
	cache map[string]*compiledExpression
}

func newExpressionCache() *expressionCache {
	return &expressionCache{cache: make(map[string]*compiledExpression)}
}

// run executes the expression with the source values injected, compiling and
// caching on first use (content-hash keyed, as scripts repeat per rule).
func (c *expressionCache) run(expression string, a, b float64, aSet, bSet bool) (bool, error) {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(expression)))

	c.mu.RLock()
	compiled, ok := c.cache[hash]
	c.mu.RUnlock()

	if !ok {
		var err error
		compiled, err = compileExpression(expression)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.cache[hash] = compiled
		c.mu.Unlock()
	}

	compiled.mu.Lock()
	defer compiled.mu.Unlock()
	return compiled.fn(a, b, aSet, bSet), nil
}

func compileExpression(expression string) (*compiledExpression, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols failed: %w", err)
	}

	// The expression must evaluate to bool; it sees the numeric values and
	// their presence flags.
	wrapped := fmt.Sprintf(`
package main

import "math"

var _ = math.Abs

func Check(a, b float64, aSet, bSet bool) bool {
	return %s
}
`, expression)

	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("compiling expression failed: %w", err)
	}

	v, err := i.Eval("main.Check")
	if err != nil {
		return nil, fmt.Errorf("resolving expression entrypoint failed: %w", err)
	}

	fn, ok := v.Interface().(func(float64, float64, bool, bool) bool)
	if !ok {
		return nil, fmt.Errorf("expression did not compile to a check function")
	}

	return &compiledExpression{fn: fn}, nil
}
