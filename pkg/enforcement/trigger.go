package enforcement

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/mnemom/aip/pkg/types"
)

// TriggerContext is the variable set an escalation trigger's CEL
// condition is evaluated against.
type TriggerContext struct {
	Verdict           string
	Severity          string
	ConcernCategories []string
	ConsecutiveViolations int
	IntegrityRatio    float64
}

func triggerEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("verdict", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("concern_categories", cel.ListType(cel.StringType)),
		cel.Variable("consecutive_violations", cel.IntType),
		cel.Variable("integrity_ratio", cel.DoubleType),
	)
}

// TriggerEvaluator compiles and runs an alignment card's
// escalation_triggers against a checkpoint's outcome. Conditions are
// compiled afresh on every Evaluate call; no compiled program is
// cached between calls.
type TriggerEvaluator struct {
	env *cel.Env
}

func NewTriggerEvaluator() (*TriggerEvaluator, error) {
	env, err := triggerEnv()
	if err != nil {
		return nil, fmt.Errorf("enforcement: build trigger CEL env: %w", err)
	}
	return &TriggerEvaluator{env: env}, nil
}

// FiredTrigger is one escalation trigger whose condition evaluated
// true, paired with the index it came from so callers can report which
// card entry fired.
type FiredTrigger struct {
	Trigger types.EscalationTrigger
	Index   int
}

// Evaluate runs every trigger in triggers against ctx in order and
// returns those whose condition is true. A trigger with an
// uncompilable or erroring condition is skipped rather than aborting
// the whole evaluation — a malformed card entry must not block every
// other trigger on the same card.
func (e *TriggerEvaluator) Evaluate(triggers []types.EscalationTrigger, ctx TriggerContext) []FiredTrigger {
	vars := map[string]any{
		"verdict":                ctx.Verdict,
		"severity":               ctx.Severity,
		"concern_categories":     ctx.ConcernCategories,
		"consecutive_violations": int64(ctx.ConsecutiveViolations),
		"integrity_ratio":        ctx.IntegrityRatio,
	}

	var fired []FiredTrigger
	for i, t := range triggers {
		ast, issues := e.env.Compile(t.Condition)
		if issues != nil && issues.Err() != nil {
			continue
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			continue
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			fired = append(fired, FiredTrigger{Trigger: t, Index: i})
		}
	}
	return fired
}
