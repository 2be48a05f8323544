// Package policy evaluates a proposed agent action against an
// AlignmentCard's forbidden and bounded action lists using a small
// embedded rego module, rather than hand-rolled string matching. This
// gives the same forbidden/bounded distinction the card's static shape
// already expresses a real decision engine operators can extend
// without a code change.
package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/mnemom/aip/pkg/types"
)

//go:embed policy.rego
var module string

// Decision is the evaluator's verdict on one proposed action.
type Decision struct {
	// Allow is false only for a forbidden action.
	Allow bool
	// Bounded is true when the action matched the card's bounded list,
	// meaning it is allowed but should be surfaced for escalation.
	Bounded bool
	Reason  string
}

// Evaluator holds a single prepared rego query, compiled once and
// reused across requests.
type Evaluator struct {
	query rego.PreparedEvalQuery
}

// NewEvaluator compiles the embedded policy module. Compilation failure
// here means the shipped module itself is broken, not caller input, so
// callers construct an Evaluator once at startup and treat an error as
// fatal rather than per-request.
func NewEvaluator(ctx context.Context) (*Evaluator, error) {
	q, err := rego.New(
		rego.Query("data.alignmentcard.decision"),
		rego.Module("policy.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile: %w", err)
	}
	return &Evaluator{query: q}, nil
}

// Evaluate checks action (a tool/function call name extracted from a
// provider response) against card's forbidden and bounded action
// lists. A card with neither list populated always allows.
func (e *Evaluator) Evaluate(ctx context.Context, card types.AlignmentCard, action string) (Decision, error) {
	input := map[string]any{
		"action":            action,
		"forbidden_actions": card.ForbiddenActions,
		"bounded_actions":   card.BoundedActions,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("policy: eval: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}
	raw, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{Allow: true}, nil
	}
	d := Decision{}
	if allow, ok := raw["allow"].(bool); ok {
		d.Allow = allow
	}
	if bounded, ok := raw["bounded"].(bool); ok {
		d.Bounded = bounded
	}
	if reason, ok := raw["reason"].(string); ok {
		d.Reason = reason
	}
	return d, nil
}

// EvaluateToolCalls runs Evaluate over every tool call name the
// gateway's response-path extraction surfaced for a turn, returning the
// first forbidden decision it finds, or the last bounded decision if
// none were forbidden, or an allow decision if the card imposed no
// restriction on any of them.
func (e *Evaluator) EvaluateToolCalls(ctx context.Context, card types.AlignmentCard, calls []string) (Decision, error) {
	result := Decision{Allow: true}
	for _, call := range calls {
		d, err := e.Evaluate(ctx, card, call)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allow {
			return d, nil
		}
		if d.Bounded {
			result = d
		}
	}
	return result, nil
}
