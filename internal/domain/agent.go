package domain

import "strings"

// AgentRole classifies what kind of work an agent is built for. The engine
// looks agents up by role when it needs "the planning agent" or "the
// implementation agent" rather than a specific id.
type AgentRole string

const (
	RoleImplementation AgentRole = "implementation"
	RolePlanning       AgentRole = "planning"
	RoleSecurity       AgentRole = "security"
	RoleOther          AgentRole = "other"
)

// Valid reports whether r is a known role.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleImplementation, RolePlanning, RoleSecurity, RoleOther:
		return true
	}
	return false
}

// KeywordGroup is a domain-tagged subset of an agent's keywords.
// Weight scales every match inside the group (1.0 when unset).
type KeywordGroup struct {
	Domain   string   `json:"domain"   yaml:"domain"   toml:"domain"`
	Weight   float64  `json:"weight,omitempty" yaml:"weight,omitempty" toml:"weight"`
	Keywords []string `json:"keywords" yaml:"keywords" toml:"keywords"`
}

// EffectiveWeight returns the group weight, defaulting to 1.
func (g KeywordGroup) EffectiveWeight() float64 {
	if g.Weight <= 0 {
		return 1
	}
	return g.Weight
}

// Agent describes a specialist a task can be routed to.
// Agents are configuration data; once loaded into a registry snapshot they
// are never mutated.
type Agent struct {
	ID                 string          `json:"id"                  yaml:"id"                  toml:"id"`
	Name               string          `json:"name"                yaml:"name"                toml:"name"`
	Description        string          `json:"description"         yaml:"description"         toml:"description"`
	Role               AgentRole       `json:"role"                yaml:"role"                toml:"role"`
	KeywordGroups      []KeywordGroup  `json:"keyword_groups"      yaml:"keyword_groups"      toml:"keyword_groups"`
	Tags               []string        `json:"tags,omitempty"      yaml:"tags,omitempty"      toml:"tags"`
	CostPer1KTokens    float64         `json:"cost_per_1k_tokens"  yaml:"cost_per_1k_tokens"  toml:"cost_per_1k_tokens"`
	MaxOutputTokens    int             `json:"max_output_tokens"   yaml:"max_output_tokens"   toml:"max_output_tokens"`
	BaselineComplexity ComplexityLevel `json:"baseline_complexity,omitempty" yaml:"baseline_complexity,omitempty" toml:"baseline_complexity"`
	Enabled            bool            `json:"enabled"             yaml:"enabled"             toml:"enabled"`
}

// PricePerMillionTokens converts the per-thousand price used in agent
// records to the per-million price the cost estimator expects.
func (a Agent) PricePerMillionTokens() float64 {
	return a.CostPer1KTokens * 1000
}

// HasDomain reports whether any of the agent's keyword groups is tagged with domain.
func (a Agent) HasDomain(domain string) bool {
	for _, g := range a.KeywordGroups {
		if strings.EqualFold(g.Domain, domain) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never share slices with their source.
func (a Agent) Clone() Agent {
	out := a
	out.Tags = append([]string(nil), a.Tags...)
	out.KeywordGroups = make([]KeywordGroup, len(a.KeywordGroups))
	for i, g := range a.KeywordGroups {
		g.Keywords = append([]string(nil), g.Keywords...)
		out.KeywordGroups[i] = g
	}
	return out
}

// SkillFile is a reference document attached to an agent. Routing decisions
// cite skill files whose keywords overlap the matched keywords.
type SkillFile struct {
	ID          string   `json:"id"          yaml:"id"          toml:"id"`
	Name        string   `json:"name"        yaml:"name"        toml:"name"`
	AgentID     string   `json:"agent_id"    yaml:"agent_id"    toml:"agent_id"`
	Description string   `json:"description" yaml:"description" toml:"description"`
	Keywords    []string `json:"keywords"    yaml:"keywords"    toml:"keywords"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty" toml:"path"`
}

// Clone returns a deep copy of the skill file.
func (s SkillFile) Clone() SkillFile {
	out := s
	out.Keywords = append([]string(nil), s.Keywords...)
	return out
}

// AgentStatus is a read-only view of an agent for listing endpoints.
type AgentStatus struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       AgentRole `json:"role"`
	Enabled    bool      `json:"enabled"`
	SkillFiles int       `json:"skill_files"`
}
