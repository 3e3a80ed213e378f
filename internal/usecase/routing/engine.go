package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/tracer"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/registry"
)

// SnapshotSource supplies the registry snapshot a routing call works on.
type SnapshotSource interface {
	Snapshot() *registry.Snapshot
}

// EngineConfig names the agents the engine falls back or escalates to.
// Empty ids are resolved by role.
type EngineConfig struct {
	FallbackAgent       string
	ImplementationAgent string
	PlanningAgent       string
	EscalationMinScore  float64
}

// Engine computes routing decisions. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	registry SnapshotSource
	catalog  *Catalog
	matcher  *KeywordMatcher
	cfg      EngineConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an engine over reg using catalog's keyword tables.
func NewEngine(reg SnapshotSource, catalog *Catalog, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.EscalationMinScore <= 0 {
		cfg.EscalationMinScore = catalog.Tunables.EscalationMinScore
	}
	return &Engine{
		registry: reg,
		catalog:  catalog,
		matcher:  NewKeywordMatcher(catalog),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Matcher exposes the engine's keyword matcher.
func (e *Engine) Matcher() *KeywordMatcher { return e.matcher }

// Route implements domain.Router without caching or auditing.
func (e *Engine) Route(ctx context.Context, req domain.RouteRequest) (domain.RoutingDecision, error) {
	start := time.Now()
	_, span := tracer.StartSpan(ctx, "routing.engine.route")
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		err := domain.NewDomainError("Engine.Route", domain.ErrInvalidInput, "message is empty")
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, err
	}

	snap := e.registry.Snapshot()
	enabled := snap.Enabled()
	if len(enabled) == 0 {
		err := domain.NewDomainError("Engine.Route", domain.ErrConfiguration, "registry has no enabled agents")
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, err
	}

	hintDomain := e.catalog.HintedDomain(req.Context.Channel, req.Context.ChannelTopic, req.Context.ChannelCategory)
	scores := e.matcher.ScoreWithHint(text, enabled, hintDomain)
	confidence := e.matcher.Confidence(scores)
	top := scores[0]

	impl := e.resolve(snap, e.cfg.ImplementationAgent, domain.RoleImplementation)
	plan := e.resolve(snap, e.cfg.PlanningAgent, domain.RolePlanning)

	var hint *domain.Agent
	if top.Score > 0 {
		if a, ok := snap.Agent(top.AgentID); ok {
			hint = &a
		}
	}
	assessment := NewComplexityAssessor(e.catalog, impl, plan).Assess(text, hint)

	selected := top
	var note string
	switch {
	case top.Score <= 0:
		selected = scoreFor(scores, e.fallbackAgent(snap, enabled))
		note = "fallback"
	case len(top.Matches) == 0:
		note = "channel"
	}

	if assessment.Level == domain.ComplexityComplex && plan != "" && selected.AgentID != plan && note != "fallback" {
		ps := scoreFor(scores, plan)
		if ps.Score > e.cfg.EscalationMinScore {
			e.logger.Debug("escalating complex task to planning agent",
				"from", selected.AgentID, "to", plan, "planning_score", ps.Score)
			selected = ps
			confidence = min(confidence, ps.Score/100)
			note = "escalated"
		}
	}

	agent, ok := snap.Agent(selected.AgentID)
	if !ok || !agent.Enabled {
		err := domain.NewSubSystemError("agent", "Engine.Route", domain.ErrConfiguration,
			fmt.Sprintf("selected agent %q is not enabled", selected.AgentID))
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, err
	}

	keywords := selected.Keywords()
	if len(keywords) > e.catalog.Tunables.MaxKeywords {
		keywords = keywords[:e.catalog.Tunables.MaxKeywords]
	}

	decision := domain.RoutingDecision{
		Agent:           agent.ID,
		Confidence:      clamp01(confidence),
		Reason:          e.reason(agent, keywords, confidence, assessment.Level, note),
		SkillFilesUsed:  e.skillFiles(snap.SkillFiles(agent.ID), keywords),
		EstimatedCost:   EstimateCost(assessment, agent.PricePerMillionTokens()),
		Complexity:      assessment.Level,
		MatchedKeywords: keywords,
		Timestamp:       e.now().UTC(),
	}
	decision.LatencyMS = float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(
		tracer.StringAttr("routing.agent", decision.Agent),
		tracer.StringAttr("routing.complexity", string(decision.Complexity)),
		tracer.FloatAttr("routing.confidence", decision.Confidence),
	)
	tracer.SetOK(span)
	e.logger.Debug("routing decision",
		"agent", decision.Agent,
		"confidence", decision.Confidence,
		"complexity", decision.Complexity,
		"keywords", decision.MatchedKeywords,
		"request_id", domain.RequestIDFromContext(ctx),
	)
	return decision, nil
}

// resolve returns the configured agent id if it is enabled, else the first
// enabled agent with role, else "".
func (e *Engine) resolve(snap *registry.Snapshot, id string, role domain.AgentRole) string {
	if id != "" && snap.IsEnabled(id) {
		return id
	}
	if a, ok := snap.ByRole(role); ok {
		return a.ID
	}
	return ""
}

func (e *Engine) fallbackAgent(snap *registry.Snapshot, enabled []domain.Agent) string {
	if e.cfg.FallbackAgent != "" && snap.IsEnabled(e.cfg.FallbackAgent) {
		return e.cfg.FallbackAgent
	}
	if id := e.resolve(snap, "", domain.RolePlanning); id != "" {
		return id
	}
	return enabled[0].ID
}

func scoreFor(scores []domain.AgentScore, id string) domain.AgentScore {
	for _, s := range scores {
		if s.AgentID == id {
			return s
		}
	}
	return domain.AgentScore{AgentID: id}
}

// skillFiles picks up to MaxSkillFiles files whose keywords overlap the
// matched keywords, most overlap first, ties by id.
func (e *Engine) skillFiles(files []domain.SkillFile, keywords []string) []string {
	out := []string{}
	if len(keywords) == 0 {
		return out
	}
	matched := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		matched[k] = struct{}{}
	}

	type ranked struct {
		id      string
		overlap int
	}
	var candidates []ranked
	for _, f := range files {
		n := 0
		for _, k := range f.Keywords {
			if _, ok := matched[strings.ToLower(k)]; ok {
				n++
			}
		}
		if n > 0 {
			candidates = append(candidates, ranked{id: f.ID, overlap: n})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].id < candidates[j].id
	})
	for i := 0; i < len(candidates) && i < e.catalog.Tunables.MaxSkillFiles; i++ {
		out = append(out, candidates[i].id)
	}
	return out
}

func (e *Engine) reason(agent domain.Agent, keywords []string, confidence float64, level domain.ComplexityLevel, note string) string {
	name := agent.Name
	if name == "" {
		name = agent.ID
	}
	switch note {
	case "fallback":
		return fmt.Sprintf("No keywords matched; routed to %s (%s) as fallback (complexity: %s)", name, agent.ID, level)
	case "channel":
		return fmt.Sprintf("No keywords matched; routed to %s (%s) from channel context (complexity: %s)", name, agent.ID, level)
	}

	shown := keywords
	if len(shown) > e.catalog.Tunables.MaxReasonKeywords {
		shown = shown[:e.catalog.Tunables.MaxReasonKeywords]
	}
	r := fmt.Sprintf("Matched %s; selected %s (%s) with %s confidence (complexity: %s)",
		strings.Join(shown, ", "), name, agent.ID, ConfidenceLabel(confidence), level)
	if note == "escalated" {
		r += "; escalated to planning for a complex task"
	}
	return r
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
