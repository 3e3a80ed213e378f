package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// Snapshot is an immutable view of the agent and skill-file set. Routing
// calls hold one snapshot for their whole duration; reloads publish a new one.
type Snapshot struct {
	agents   []domain.Agent
	byID     map[string]int
	skills   map[string][]domain.SkillFile
	status   domain.LoadStatus
	reason   string
	source   string
	loadedAt time.Time

	fingerprint string
}

func newSnapshot(agents []domain.Agent, skills []domain.SkillFile, status domain.LoadStatus, reason, source string, now time.Time) *Snapshot {
	s := &Snapshot{
		agents:   make([]domain.Agent, 0, len(agents)),
		byID:     make(map[string]int, len(agents)),
		skills:   make(map[string][]domain.SkillFile),
		status:   status,
		reason:   reason,
		source:   source,
		loadedAt: now,
	}
	for _, a := range agents {
		s.byID[a.ID] = len(s.agents)
		s.agents = append(s.agents, a.Clone())
	}
	for _, sf := range skills {
		if _, ok := s.byID[sf.AgentID]; !ok {
			continue
		}
		s.skills[sf.AgentID] = append(s.skills[sf.AgentID], sf.Clone())
	}
	s.fingerprint = s.computeFingerprint()
	return s
}

// computeFingerprint hashes agents and their skill files in load order.
// Status, source and load time are left out: two snapshots with the same
// content route identically.
func (s *Snapshot) computeFingerprint() string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, a := range s.agents {
		if err := enc.Encode(a); err != nil {
			return "t" + s.loadedAt.Format(time.RFC3339Nano)
		}
		if err := enc.Encode(s.skills[a.ID]); err != nil {
			return "t" + s.loadedAt.Format(time.RFC3339Nano)
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// Agents returns every agent in load order, enabled or not.
func (s *Snapshot) Agents() []domain.Agent {
	out := make([]domain.Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

// Enabled returns the enabled agents in load order.
func (s *Snapshot) Enabled() []domain.Agent {
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

// Agent looks an agent up by id.
func (s *Snapshot) Agent(id string) (domain.Agent, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Agent{}, false
	}
	return s.agents[i], true
}

// IsEnabled reports whether id names an enabled agent.
func (s *Snapshot) IsEnabled(id string) bool {
	a, ok := s.Agent(id)
	return ok && a.Enabled
}

// ByRole returns the first enabled agent with role.
func (s *Snapshot) ByRole(role domain.AgentRole) (domain.Agent, bool) {
	for _, a := range s.agents {
		if a.Enabled && a.Role == role {
			return a, true
		}
	}
	return domain.Agent{}, false
}

// SkillFiles returns the skill files owned by agentID.
func (s *Snapshot) SkillFiles(agentID string) []domain.SkillFile {
	return append([]domain.SkillFile(nil), s.skills[agentID]...)
}

// SkillFileCount returns the total number of skill files in the snapshot.
func (s *Snapshot) SkillFileCount() int {
	n := 0
	for _, v := range s.skills {
		n += len(v)
	}
	return n
}

// Status reports whether the snapshot came from the source or the built-in set.
func (s *Snapshot) Status() domain.LoadStatus { return s.status }

// Reason is the fallback reason; empty for loaded snapshots.
func (s *Snapshot) Reason() string { return s.reason }

// Source names where the snapshot came from.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is when the snapshot was published.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Fingerprint identifies the snapshot's routing-relevant content. It is
// stable across processes, so it can scope durable cache entries.
func (s *Snapshot) Fingerprint() string { return s.fingerprint }

// Statuses lists the agents for status endpoints, in load order.
func (s *Snapshot) Statuses() []domain.AgentStatus {
	out := make([]domain.AgentStatus, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, domain.AgentStatus{
			ID:         a.ID,
			Name:       a.Name,
			Role:       a.Role,
			Enabled:    a.Enabled,
			SkillFiles: len(s.skills[a.ID]),
		})
	}
	return out
}
