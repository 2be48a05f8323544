// Package gateway implements the transparent reverse proxy that sits
// in front of the Anthropic, OpenAI, and Gemini APIs: it identifies
// the calling agent, enforces quota, forwards the request upstream,
// and on the way back extracts any reasoning block, runs it through
// the integrity engine, attests the resulting checkpoint, and acts on
// the verdict — all without the caller changing anything but its base
// URL.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mnemom/aip/pkg/alignmentcard"
	"github.com/mnemom/aip/pkg/alignmentcard/policy"
	"github.com/mnemom/aip/pkg/attestation"
	"github.com/mnemom/aip/pkg/cache"
	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/enforcement"
	"github.com/mnemom/aip/pkg/gateway/identity"
	"github.com/mnemom/aip/pkg/integrity"
	"github.com/mnemom/aip/pkg/metrics"
	"github.com/mnemom/aip/pkg/observability"
	"github.com/mnemom/aip/pkg/ops"
	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/quota"
	"github.com/mnemom/aip/pkg/resilience"
	aipcrypto "github.com/mnemom/aip/pkg/crypto"
	"github.com/mnemom/aip/pkg/types"
	"github.com/mnemom/aip/pkg/webhook"
)

// ProviderTarget describes one upstream the gateway proxies to.
type ProviderTarget struct {
	Name provider.Name
	// BaseURL is the upstream origin, e.g. https://api.anthropic.com.
	BaseURL *url.URL
	// CredentialHeader is the header the provider expects its API key
	// on: "x-api-key" for Anthropic, "Authorization" for OpenAI,
	// "x-goog-api-key" for Gemini.
	CredentialHeader string
}

// QuotaResolver looks up billing/quota state for an account on a cache
// miss. A nil resolver (or one that errors) means every cache miss
// falls back to the free-tier default, matching the pipeline's
// never-hard-fail-on-billing-lookup requirement.
type QuotaResolver interface {
	Resolve(ctx context.Context, accountID string) (types.QuotaContext, error)
}

// Config is everything the gateway needs beyond its wired dependencies.
type Config struct {
	Providers map[provider.Name]ProviderTarget

	// JWTSecret verifies billing-identity JWTs; blank disables JWT
	// parsing and every request authenticates via its raw provider key.
	JWTSecret string

	// CFAIGToken, when set, is forwarded as cf-aig-authorization and
	// every request also carries a cf-aig-metadata header identifying
	// the account, so a Cloudflare AI Gateway fronting the upstream can
	// attribute spend per account without this process calling its API.
	CFAIGToken string

	// DefaultEnforcementMode governs newly-seen agents.
	DefaultEnforcementMode types.EnforcementMode

	// AutoContainmentThreshold, when non-nil, is the default applied to
	// newly-seen agents (individual agents may override via their own
	// AutoContainmentThreshold once an operator sets one explicitly).
	AutoContainmentThreshold *int

	// NudgeStrategy configures how aggressively nudges are injected
	// after a boundary_violation checkpoint.
	NudgeStrategy enforcement.StrategyParams
}

// Deps bundles the gateway's wired dependencies. Agents and Cards are
// required; every other field may be nil, and its absence degrades the
// matching feature (no analysis, attestation, persistence, nudges,
// webhooks, metrics or Slack alerts) rather than failing requests.
type Deps struct {
	Cache        *cache.Cache
	Agents       checkpointstore.AgentStore
	Cards        alignmentcard.Store
	Quota        QuotaResolver
	Engine       *integrity.Engine
	Signer       aipcrypto.Signer
	Attestor     *attestation.Attestor
	Checkpoints  checkpointstore.Store
	Nudges       *enforcement.Manager
	Containment  *enforcement.Containment
	Dispatcher   *webhook.Dispatcher
	Policy       *policy.Evaluator
	Metrics      *metrics.Registry
	Notifier     *ops.Notifier
	Breakers     *resilience.Breakers
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Gateway wires a Config and Deps into a set of per-provider
// http.Handlers.
type Gateway struct {
	cfg      Config
	deps     Deps
	identity *identity.Resolver
	logger   *slog.Logger
	clock    func() time.Time
}

func New(cfg Config, deps Deps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Gateway{
		cfg:      cfg,
		deps:     deps,
		identity: identity.NewResolver(cfg.JWTSecret),
		logger:   deps.Logger,
		clock:    deps.Clock,
	}
}

// HandlerFor returns the http.Handler proxying to the named provider,
// or nil if that provider has no configured target.
func (g *Gateway) HandlerFor(name provider.Name) http.Handler {
	target, ok := g.cfg.Providers[name]
	if !ok {
		return nil
	}
	proxy := g.newReverseProxy(target)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		g.serve(w, req, target, proxy)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, req *http.Request, target ProviderTarget, proxy http.Handler) {
	ctx := req.Context()

	ident, err := g.identity.Resolve(req, target.CredentialHeader)
	if err != nil {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	agent, err := g.identifyAgent(ctx, ident.Credential)
	if err != nil {
		g.logger.Error("gateway: identify agent failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	qctx := g.resolveQuota(ctx, ident.AccountID, agent)
	decision := quota.Evaluate(qctx, g.clock())

	for k, v := range decision.Headers {
		w.Header().Set(k, v)
	}

	switch decision.Outcome {
	case types.QuotaReject:
		if g.deps.Metrics != nil {
			g.deps.Metrics.ObserveQuotaRejection(decision.Reason)
		}
		status := http.StatusPaymentRequired
		if decision.Reason == "agent_paused" || decision.Reason == "agent_killed" {
			status = http.StatusForbidden
		}
		http.Error(w, fmt.Sprintf("quota: %s", decision.Reason), status)
		return
	case types.QuotaWarn:
		w.Header().Set(HeaderQuotaWarn, "true")
	}

	card, err := alignmentcard.Resolve(ctx, g.deps.Cards, agent.ID)
	if err != nil {
		g.logger.Warn("gateway: resolve alignment card failed", "agent_id", agent.ID, "error", err)
	}

	ctx, span := observability.StartProviderSpan(ctx, string(target.Name), agent.ID)
	defer span.End()

	st := &requestState{
		Provider:   target.Name,
		Agent:      agent,
		AccountID:  ident.AccountID,
		Card:       card,
		Quota:      decision,
		SessionID:  types.SessionID(agent.AgentHash, g.clock().Unix()),
		Disabled:   g.deps.Engine == nil,
		Credential: ident.Credential,
		Span:       span,
	}

	req = withRequestState(req.WithContext(ctx), st)
	start := g.clock()
	proxy.ServeHTTP(w, req)
	if g.deps.Metrics != nil {
		g.deps.Metrics.ObserveRequest(string(target.Name), "", time.Since(start))
	}
}

// identifyAgent hashes credential into an agent ID, creating the
// lazily-materialized default agent record on first sight.
func (g *Gateway) identifyAgent(ctx context.Context, credential string) (types.Agent, error) {
	hash := types.AgentHash(credential, 16)
	agent, err := g.deps.Agents.GetByHash(ctx, hash)
	if err == nil {
		return agent, nil
	}
	if err != checkpointstore.ErrNotFound {
		return types.Agent{}, fmt.Errorf("gateway: lookup agent: %w", err)
	}

	fresh := types.NewAgent(credential)
	fresh.EnforcementMode = g.cfg.DefaultEnforcementMode
	fresh.AutoContainmentThreshold = g.cfg.AutoContainmentThreshold
	if err := g.deps.Agents.Create(ctx, *fresh); err != nil {
		return types.Agent{}, fmt.Errorf("gateway: create agent: %w", err)
	}
	return *fresh, nil
}

// resolveQuota reads through the 5-minute cache in front of the
// billing backend; on a cache miss it asks the resolver, falling back
// to the free-tier default when no resolver is set or it fails, so a
// billing outage never blocks requests.
func (g *Gateway) resolveQuota(ctx context.Context, accountID string, agent types.Agent) types.QuotaContext {
	var qctx types.QuotaContext
	if g.deps.Cache != nil && g.deps.Cache.GetQuotaContextByAgent(ctx, agent.ID, &qctx) {
		qctx.AgentSettings.ContainmentStatus = agent.ContainmentStatus
		return qctx
	}

	qctx = types.FreeDefault()
	if g.deps.Quota != nil {
		if resolved, err := g.deps.Quota.Resolve(ctx, accountID); err == nil {
			qctx = resolved
		} else {
			g.logger.Warn("gateway: quota resolver failed, falling back to free default", "account_id", accountID, "error", err)
		}
	}
	qctx.AccountID = accountID
	qctx.AgentSettings.ContainmentStatus = agent.ContainmentStatus

	if g.deps.Cache != nil {
		_ = g.deps.Cache.SetQuotaContextByAgent(ctx, agent.ID, qctx)
	}
	return qctx
}
