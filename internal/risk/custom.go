package risk

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL expressions against a payout
// candidate. Rules are compiled once at construction; evaluation order follows
// configuration order so repeated assessments of the same candidate produce
// identical evidence.
type CustomEngine struct {
	env      *cel.Env
	compiled []compiledRule
}

type compiledRule struct {
	rule    domain.CustomRule
	program cel.Program
}

// NewCustomEngine compiles the configured rules. A rule that fails to compile
// or returns a non-numeric, non-bool type is a startup error, not a runtime
// one.
func NewCustomEngine(rules []domain.CustomRule) (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("destination_method", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("business_id", cel.StringType),
		cel.Variable("network_id", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("instrument_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &CustomEngine{env: env}
	for _, rule := range rules {
		compiled, err := e.compile(rule)
		if err != nil {
			return nil, err
		}
		e.compiled = append(e.compiled, compiled)
	}
	return e, nil
}

func (e *CustomEngine) compile(rule domain.CustomRule) (compiledRule, error) {
	if rule.ID == "" {
		return compiledRule{}, fmt.Errorf("custom rule id is required")
	}
	if rule.Points <= 0 {
		return compiledRule{}, fmt.Errorf("custom rule %s: points must be positive", rule.ID)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledRule{}, fmt.Errorf("failed to compile custom rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return compiledRule{}, fmt.Errorf("custom rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return compiledRule{}, fmt.Errorf("failed to create program for custom rule %s: %w", rule.ID, err)
	}

	return compiledRule{rule: rule, program: program}, nil
}

// Count returns the number of compiled rules.
func (e *CustomEngine) Count() int {
	return len(e.compiled)
}

// Evaluate runs every rule against the candidate. Returns the summed points
// capped at 100, the evidence entries, and the IDs of rules that contributed.
// An expression that errors at runtime contributes zero rather than failing
// the whole assessment.
func (e *CustomEngine) Evaluate(candidate *domain.PayoutCandidate) (float64, []domain.Evidence, []string) {
	if len(e.compiled) == 0 {
		return 0, nil, nil
	}

	activation := map[string]any{
		"amount":             candidate.Amount,
		"currency":           candidate.Currency,
		"priority":           string(candidate.Priority),
		"destination_method": candidate.Destination.Method,
		"customer_id":        "",
		"business_id":        "",
		"network_id":         "",
		"device_id":          "",
		"instrument_id":      "",
	}
	for _, key := range candidate.Entities {
		activation[string(key.Kind)+"_id"] = key.ID
	}

	var (
		total     float64
		evidence  []domain.Evidence
		triggered []string
	)
	for _, compiled := range e.compiled {
		out, _, err := compiled.program.Eval(activation)
		if err != nil {
			continue
		}

		score := toScore(out)
		if score <= 0 {
			continue
		}
		if score > 1 {
			score = 1
		}

		points := score * compiled.rule.Points
		total += points
		triggered = append(triggered, compiled.rule.ID)
		evidence = append(evidence, domain.Evidence{
			Category: domain.CategoryCustom,
			Custom: &domain.CustomEvidence{
				RuleID: compiled.rule.ID,
				Points: points,
			},
		})
	}

	if total > 100 {
		total = 100
	}
	return total, evidence, triggered
}

// toScore converts a CEL value to a fraction in [0, 1].
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
