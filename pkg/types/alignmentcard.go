package types

// DeclaredValue is one entry in an alignment card's ordered value list.
type DeclaredValue struct {
	Name        string `json:"name"`
	Priority    *int   `json:"priority,omitempty"`
	Description string `json:"description,omitempty"`
}

// EscalationTrigger pairs a condition with the action to take when it
// fires.
type EscalationTrigger struct {
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
}

// AlignmentCard declares an agent's permitted values, bounded and
// forbidden actions, and escalation triggers. Exactly one card is
// active per agent at any instant.
type AlignmentCard struct {
	CardID             string              `json:"card_id"`
	AgentID            string              `json:"agent_id"`
	DeclaredValues     []DeclaredValue     `json:"declared_values"`
	BoundedActions     []string            `json:"bounded_actions"`
	ForbiddenActions   []string            `json:"forbidden_actions"`
	EscalationTriggers []EscalationTrigger `json:"escalation_triggers"`
	Role               string              `json:"role,omitempty"`
	Description        string              `json:"description,omitempty"`
	AuditCommitment    string              `json:"audit_commitment,omitempty"`
	// SchemaVersion is the card author's semantic version for this
	// declaration, e.g. "1.2.0". Optional; cards without one are never
	// rollback-checked.
	SchemaVersion string `json:"schema_version,omitempty"`
}

// MergeCards merges an organisation-level template card with an
// agent-level card: union over declared_values, union over
// forbidden_actions, concat over escalation_triggers (org first), and
// the agent card wins for principal (card_id/agent_id) and
// audit_commitment.
func MergeCards(org, agent *AlignmentCard) *AlignmentCard {
	if org == nil {
		return agent
	}
	if agent == nil {
		return org
	}

	merged := &AlignmentCard{
		CardID:          agent.CardID,
		AgentID:         agent.AgentID,
		AuditCommitment: agent.AuditCommitment,
		Role:            agent.Role,
		Description:     agent.Description,
	}

	merged.DeclaredValues = unionValues(org.DeclaredValues, agent.DeclaredValues)
	merged.ForbiddenActions = unionStrings(org.ForbiddenActions, agent.ForbiddenActions)

	merged.BoundedActions = unionStrings(org.BoundedActions, agent.BoundedActions)

	merged.EscalationTriggers = make([]EscalationTrigger, 0, len(org.EscalationTriggers)+len(agent.EscalationTriggers))
	merged.EscalationTriggers = append(merged.EscalationTriggers, org.EscalationTriggers...)
	merged.EscalationTriggers = append(merged.EscalationTriggers, agent.EscalationTriggers...)

	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func unionValues(a, b []DeclaredValue) []DeclaredValue {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]DeclaredValue, 0, len(a)+len(b))
	for _, v := range append(append([]DeclaredValue{}, a...), b...) {
		if _, ok := seen[v.Name]; ok {
			continue
		}
		seen[v.Name] = struct{}{}
		out = append(out, v)
	}
	return out
}
