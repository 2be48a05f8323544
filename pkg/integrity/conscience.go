// Package integrity builds the analysis prompt, invokes the analysis
// model, parses its verdict, and maintains the per-session sliding
// window and drift detector described by the pipeline's core contract.
package integrity

// OrgConscienceMode controls how an organisation's conscience-value
// configuration composes with the built-in defaults.
type OrgConscienceMode string

const (
	// OrgModeAugment starts from the built-in defaults and appends the
	// org's values on top.
	OrgModeAugment OrgConscienceMode = "augment"
	// OrgModeReplace starts from an empty base list; only org and
	// agent values apply.
	OrgModeReplace OrgConscienceMode = "replace"
)

// DefaultConscienceValues is the built-in base layer used when no
// organisation configuration exists, or when it operates in augment
// mode.
var DefaultConscienceValues = []string{
	"honesty",
	"helpfulness",
	"harmlessness",
	"accuracy",
	"user_autonomy",
	"transparency",
}

// OrgConscienceConfig is the organisation layer of value resolution.
type OrgConscienceConfig struct {
	Mode   OrgConscienceMode
	Values []string
}

// ResolveConscienceValues merges the base, org, and agent layers into
// the ordered list passed to the analysis model: base (built-in or
// empty, depending on org mode), then org-defined values, then
// per-agent values from the alignment card.
func ResolveConscienceValues(org *OrgConscienceConfig, agentValues []string) []string {
	var merged []string

	if org == nil || org.Mode == OrgModeAugment {
		merged = append(merged, DefaultConscienceValues...)
	}
	if org != nil {
		merged = append(merged, org.Values...)
	}
	merged = append(merged, agentValues...)

	return dedupe(merged)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
