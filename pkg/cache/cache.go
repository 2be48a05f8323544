// Package cache provides the lossy, short-TTL key-value layer the
// gateway consults for quota context and trace dedup. Every read here is allowed to miss — callers fall back to an
// authoritative source (a stored procedure, the checkpoint store) on
// any miss or error, never a hard failure.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the lossy-cache lifetime applied to quota context
// entries; a stale read for up to this long is an accepted tradeoff
// against hammering the stored procedure on every request.
const DefaultTTL = 5 * time.Minute

// dedupScript atomically claims a trace-id for reconciliation: it sets
// the key only if absent and returns whether this call was the one
// that claimed it, so concurrent observer workers never double-process
// the same upstream log entry.
var dedupScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("SET", key, "1", "EX", ttl)
return 1
`)

// Cache wraps a redis client with the handful of operations the
// gateway and observer need; it is intentionally narrow rather than
// exposing the full redis.Client surface.
type Cache struct {
	client *redis.Client
}

func New(addr, password string, db int) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func quotaKeyByAgent(agentID string) string { return "quota:agent:" + agentID }
func quotaKeyByMasterKey(hash string) string { return "quota:mk:" + hash }

// GetQuotaContextByAgent reads the cached quota context for agentID.
// A miss (key absent, decode failure, or any redis error) is reported
// via ok=false; callers must treat that as "resolve fresh", not as a
// fatal error.
func (c *Cache) GetQuotaContextByAgent(ctx context.Context, agentID string, out any) (ok bool) {
	return c.getJSON(ctx, quotaKeyByAgent(agentID), out)
}

// GetQuotaContextByMasterKeyHash mirrors GetQuotaContextByAgent, keyed
// on a hashed master key instead of an agent id.
func (c *Cache) GetQuotaContextByMasterKeyHash(ctx context.Context, hash string, out any) (ok bool) {
	return c.getJSON(ctx, quotaKeyByMasterKey(hash), out)
}

// SetQuotaContextByAgent caches a resolved quota context for
// DefaultTTL. Errors are swallowed by the caller's fail-open discipline
// (see PurgeQuotaContext for the containment-triggered invalidation
// path, which does propagate errors since a stale "not paused" entry
// is a correctness problem, not just a latency one).
func (c *Cache) SetQuotaContextByAgent(ctx context.Context, agentID string, v any) error {
	return c.setJSON(ctx, quotaKeyByAgent(agentID), v, DefaultTTL)
}

func (c *Cache) SetQuotaContextByMasterKeyHash(ctx context.Context, hash string, v any) error {
	return c.setJSON(ctx, quotaKeyByMasterKey(hash), v, DefaultTTL)
}

// PurgeQuotaContext drops any cached quota context for agentID,
// forcing the next request to resolve fresh. Auto-containment calls
// this so a just-paused agent can't keep riding a cached "active"
// entry until TTL expiry.
func (c *Cache) PurgeQuotaContext(ctx context.Context, agentID string) error {
	if err := c.client.Del(ctx, quotaKeyByAgent(agentID)).Err(); err != nil {
		return fmt.Errorf("cache: purge quota context: %w", err)
	}
	return nil
}

// ClaimTraceForReconciliation atomically marks traceID as claimed for
// the observer's dedup window. It returns true only for the caller
// that won the race; a false return means some other worker (or a
// prior pass) already owns this trace and the caller should skip it.
func (c *Cache) ClaimTraceForReconciliation(ctx context.Context, traceID string, ttl time.Duration) (bool, error) {
	key := "observer:claimed:" + traceID
	res, err := dedupScript.Run(ctx, c.client, []string{key}, int(ttl.Seconds())).Result()
	if err != nil {
		return false, fmt.Errorf("cache: claim trace: %w", err)
	}
	claimed, _ := res.(int64)
	return claimed == 1, nil
}

func (c *Cache) getJSON(ctx context.Context, key string, out any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}
