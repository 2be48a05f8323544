package types

import "time"

// BillingModel distinguishes plans that have no usage-based component
// from ones that do.
type BillingModel string

const (
	BillingModelNone    BillingModel = "none"
	BillingModelMetered BillingModel = "metered"
)

// PlanID is a closed-ish set of named plans; treated as an opaque
// string at the edges and compared by value internally.
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanDeveloper  PlanID = "developer"
	PlanTeam       PlanID = "team"
	PlanEnterprise PlanID = "enterprise"
)

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// AgentQuotaSettings carries per-agent overrides relevant to quota
// evaluation (currently just containment, surfaced redundantly here so
// the decision function needs only a single input struct).
type AgentQuotaSettings struct {
	ContainmentStatus ContainmentStatus `json:"containment_status"`
}

// QuotaContext is the full input the quota decision function consumes.
// It is resolved once per request (with a lossy cache in front of it)
// and never mutated by the decision function itself.
type QuotaContext struct {
	AccountID            string             `json:"account_id"`
	PlanID               PlanID             `json:"plan_id"`
	BillingModel         BillingModel       `json:"billing_model"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	IncludedChecks       int                `json:"included_checks"`
	CheckCountThisPeriod int                `json:"check_count_this_period"`
	OverageThreshold     float64            `json:"overage_threshold"`
	PerCheckPrice        float64            `json:"per_check_price"`
	FeatureFlags         map[string]bool    `json:"feature_flags"`
	Limits               map[string]int     `json:"limits"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	PastDueSince         *time.Time         `json:"past_due_since,omitempty"`
	IsSuspended          bool               `json:"is_suspended"`
	AgentSettings        AgentQuotaSettings `json:"agent_settings"`
}

// QuotaOutcome is the closed set of decision outcomes.
type QuotaOutcome string

const (
	QuotaAllow  QuotaOutcome = "allow"
	QuotaWarn   QuotaOutcome = "warn"
	QuotaReject QuotaOutcome = "reject"
)

// QuotaDecision is the pure output of evaluating a QuotaContext.
type QuotaDecision struct {
	Outcome      QuotaOutcome      `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	UsagePercent *float64          `json:"usage_percent,omitempty"`
	Headers      map[string]string `json:"headers"`
}

// FreeDefault is the never-hard-fail fallback used whenever quota
// resolution is unavailable or fails: always allow.
func FreeDefault() QuotaContext {
	return QuotaContext{
		PlanID:       PlanFree,
		BillingModel: BillingModelNone,
	}
}
