package types

// EnforcementMode governs how a boundary violation is acted upon.
type EnforcementMode string

const (
	EnforcementObserve EnforcementMode = "observe"
	EnforcementNudge   EnforcementMode = "nudge"
	EnforcementEnforce EnforcementMode = "enforce"
)

// ContainmentStatus tracks whether an agent may still place requests.
type ContainmentStatus string

const (
	ContainmentActive ContainmentStatus = "active"
	ContainmentPaused ContainmentStatus = "paused"
	ContainmentKilled ContainmentStatus = "killed"
)

// Agent is identified by the first 8-16 hex characters of
// SHA-256(api_key) and is created lazily on first sight of an unseen
// key. Agents are never deleted, only contained.
type Agent struct {
	ID                       string            `json:"id"`
	AgentHash                string            `json:"agent_hash"`
	EnforcementMode          EnforcementMode   `json:"enforcement_mode"`
	ContainmentStatus        ContainmentStatus `json:"containment_status"`
	AutoContainmentThreshold *int              `json:"auto_containment_threshold,omitempty"`
}

// NewAgent builds the default lazily-created agent record for a
// previously unseen API key.
func NewAgent(apiKey string) *Agent {
	hash := AgentHash(apiKey, 16)
	return &Agent{
		ID:                "smolt-" + hash[:8],
		AgentHash:         hash,
		EnforcementMode:   EnforcementObserve,
		ContainmentStatus: ContainmentActive,
	}
}

// Contained reports whether the agent is disallowed from placing
// further requests.
func (a *Agent) Contained() bool {
	return a.ContainmentStatus == ContainmentPaused || a.ContainmentStatus == ContainmentKilled
}
