// Package quota implements the pure decision function the gateway
// consults before forwarding a request. It has no side effects and no
// knowledge of persistence — callers resolve a types.QuotaContext
// elsewhere (cache, stored procedure, or a free-tier default) and pass
// it here.
package quota

import (
	"fmt"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// PastDueGracePeriod is how long a developer-plan account may remain
// past_due before the decision flips to reject.
const PastDueGracePeriod = 7 * 24 * time.Hour

// Evaluate applies the precedence-ordered decision table over ctx as
// of now. The table is evaluated top-to-bottom; the first matching
// condition decides the outcome.
func Evaluate(ctx types.QuotaContext, now time.Time) types.QuotaDecision {
	headers := map[string]string{}

	if ctx.IsSuspended {
		return reject("account_suspended", headers)
	}

	switch ctx.AgentSettings.ContainmentStatus {
	case types.ContainmentPaused, types.ContainmentKilled:
		return reject(fmt.Sprintf("agent_%s", ctx.AgentSettings.ContainmentStatus), headers)
	}

	if ctx.PlanID == types.PlanFree || ctx.BillingModel == types.BillingModelNone {
		return allow(headers)
	}

	if ctx.PlanID == types.PlanEnterprise {
		return allow(headers)
	}

	if ctx.SubscriptionStatus == types.SubscriptionCanceled {
		return reject("subscription_canceled", headers)
	}

	if ctx.SubscriptionStatus == types.SubscriptionPastDue {
		switch ctx.PlanID {
		case types.PlanTeam:
			return reject("past_due", headers)
		case types.PlanDeveloper:
			if ctx.PastDueSince != nil && now.Sub(*ctx.PastDueSince) > PastDueGracePeriod {
				return reject("past_due_grace_expired", headers)
			}
			return allow(headers)
		}
	}

	if ctx.IncludedChecks > 0 {
		percent := float64(ctx.CheckCountThisPeriod) / float64(ctx.IncludedChecks) * 100
		headers["X-Mnemom-Usage-Percent"] = fmt.Sprintf("%.1f", percent)

		if ctx.OverageThreshold > 0 && percent >= ctx.OverageThreshold {
			return withPercent(reject("overage_threshold_exceeded", headers), percent)
		}
		if percent >= 100 {
			headers["X-Mnemom-Usage-Warning"] = "quota_exceeded"
			return withPercent(warn("quota_exceeded", headers), percent)
		}
		if percent >= 80 {
			headers["X-Mnemom-Usage-Warning"] = "approaching_quota"
			return withPercent(warn("approaching_quota", headers), percent)
		}
	}

	return allow(headers)
}

func allow(headers map[string]string) types.QuotaDecision {
	return types.QuotaDecision{Outcome: types.QuotaAllow, Headers: headers}
}

func warn(reason string, headers map[string]string) types.QuotaDecision {
	return types.QuotaDecision{Outcome: types.QuotaWarn, Reason: reason, Headers: headers}
}

func reject(reason string, headers map[string]string) types.QuotaDecision {
	return types.QuotaDecision{Outcome: types.QuotaReject, Reason: reason, Headers: headers}
}

func withPercent(d types.QuotaDecision, percent float64) types.QuotaDecision {
	d.UsagePercent = &percent
	return d
}
