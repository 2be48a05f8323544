package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemom/aip/pkg/alignmentcard/policy"
	"github.com/mnemom/aip/pkg/types"
)

func TestEvaluate_ForbiddenAction_Denies(t *testing.T) {
	eval, err := policy.NewEvaluator(context.Background())
	require.NoError(t, err)

	card := types.AlignmentCard{
		ForbiddenActions: []string{"delete_production_database"},
	}

	d, err := eval.Evaluate(context.Background(), card, "delete_production_database")
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Contains(t, d.Reason, "forbidden_action")
}

func TestEvaluate_BoundedAction_AllowsAndFlags(t *testing.T) {
	eval, err := policy.NewEvaluator(context.Background())
	require.NoError(t, err)

	card := types.AlignmentCard{
		BoundedActions: []string{"send_customer_email"},
	}

	d, err := eval.Evaluate(context.Background(), card, "send_customer_email")
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.True(t, d.Bounded)
}

func TestEvaluate_UnlistedAction_Allows(t *testing.T) {
	eval, err := policy.NewEvaluator(context.Background())
	require.NoError(t, err)

	card := types.AlignmentCard{
		ForbiddenActions: []string{"delete_production_database"},
		BoundedActions:   []string{"send_customer_email"},
	}

	d, err := eval.Evaluate(context.Background(), card, "read_ticket_queue")
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.False(t, d.Bounded)
}

func TestEvaluateToolCalls_ForbiddenWinsOverBounded(t *testing.T) {
	eval, err := policy.NewEvaluator(context.Background())
	require.NoError(t, err)

	card := types.AlignmentCard{
		ForbiddenActions: []string{"delete_production_database"},
		BoundedActions:   []string{"send_customer_email"},
	}

	d, err := eval.EvaluateToolCalls(context.Background(), card, []string{
		"send_customer_email", "delete_production_database",
	})
	require.NoError(t, err)
	assert.False(t, d.Allow)
}
