package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client), mr
}

type fakeQuotaContext struct {
	AccountID string `json:"account_id"`
	PlanID    string `json:"plan_id"`
}

func TestCache_SetGetQuotaContextByAgent_RoundTrips(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	want := fakeQuotaContext{AccountID: "acct-1", PlanID: "team"}
	require.NoError(t, c.SetQuotaContextByAgent(ctx, "agent-1", want))

	var got fakeQuotaContext
	ok := c.GetQuotaContextByAgent(ctx, "agent-1", &got)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestCache_GetQuotaContextByAgent_MissReturnsFalse(t *testing.T) {
	c, _ := newTestCache(t)
	var got fakeQuotaContext
	ok := c.GetQuotaContextByAgent(context.Background(), "no-such-agent", &got)
	require.False(t, ok)
}

func TestCache_PurgeQuotaContext_ForcesSubsequentMiss(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetQuotaContextByAgent(ctx, "agent-1", fakeQuotaContext{AccountID: "acct-1"}))
	require.NoError(t, c.PurgeQuotaContext(ctx, "agent-1"))

	var got fakeQuotaContext
	ok := c.GetQuotaContextByAgent(ctx, "agent-1", &got)
	require.False(t, ok)
}

func TestCache_SetQuotaContext_ExpiresAfterTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetQuotaContextByAgent(ctx, "agent-1", fakeQuotaContext{AccountID: "acct-1"}))
	mr.FastForward(DefaultTTL + time.Second)

	var got fakeQuotaContext
	ok := c.GetQuotaContextByAgent(ctx, "agent-1", &got)
	require.False(t, ok)
}

func TestCache_ClaimTraceForReconciliation_FirstCallerWins(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	claimed, err := c.ClaimTraceForReconciliation(ctx, "trace-1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	claimedAgain, err := c.ClaimTraceForReconciliation(ctx, "trace-1", time.Minute)
	require.NoError(t, err)
	require.False(t, claimedAgain)
}

func TestCache_ClaimTraceForReconciliation_DistinctTracesBothClaim(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	claimedA, err := c.ClaimTraceForReconciliation(ctx, "trace-a", time.Minute)
	require.NoError(t, err)
	require.True(t, claimedA)

	claimedB, err := c.ClaimTraceForReconciliation(ctx, "trace-b", time.Minute)
	require.NoError(t, err)
	require.True(t, claimedB)
}
