package domain

import (
	"context"
	"time"
)

// ComplexityLevel is the coarse difficulty classification of a task.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
)

// Valid reports whether c is one of the three known levels.
func (c ComplexityLevel) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// KeywordMatch is a single keyword hit produced while scoring one request.
type KeywordMatch struct {
	Keyword    string  `json:"keyword"`
	AgentID    string  `json:"agent_id"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
}

// AgentScore aggregates every keyword hit for one agent.
// Score is normalized to 0..100.
type AgentScore struct {
	AgentID       string         `json:"agent_id"`
	Score         float64        `json:"score"`
	Matches       []KeywordMatch `json:"matches"`
	PrimaryDomain string         `json:"primary_domain"`
}

// Keywords returns the matched keyword strings in match order.
func (s AgentScore) Keywords() []string {
	out := make([]string, 0, len(s.Matches))
	for _, m := range s.Matches {
		out = append(out, m.Keyword)
	}
	return out
}

// ComplexityAssessment is the assessor's verdict for one request.
type ComplexityAssessment struct {
	Level           ComplexityLevel `json:"level"`
	Score           int             `json:"score"`
	Factors         []string        `json:"factors"`
	EstimatedTokens int             `json:"estimated_tokens"`
	SuggestedAgent  string          `json:"suggested_agent"`
}

// RouteContext carries optional caller-side hints. All fields may be empty.
type RouteContext struct {
	Channel         string            `json:"channel,omitempty"`
	ChannelTopic    string            `json:"channel_topic,omitempty"`
	ChannelCategory string            `json:"channel_category,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsZero reports whether no hint is set.
func (c RouteContext) IsZero() bool {
	return c.Channel == "" && c.ChannelTopic == "" && c.ChannelCategory == "" && len(c.Metadata) == 0
}

// RouteRequest is one routing call.
type RouteRequest struct {
	Message  string       `json:"message"`
	CallerID string       `json:"user_id,omitempty"`
	Context  RouteContext `json:"context,omitempty"`
}

// RoutingDecision is the externally visible result of a routing call.
type RoutingDecision struct {
	Agent           string          `json:"agent"`
	Confidence      float64         `json:"confidence"`
	Reason          string          `json:"reason"`
	SkillFilesUsed  []string        `json:"skillFilesUsed"`
	EstimatedCost   float64         `json:"estimatedCost"`
	Complexity      ComplexityLevel `json:"complexity"`
	LatencyMS       float64         `json:"latency"`
	Timestamp       time.Time       `json:"timestamp"`
	MatchedKeywords []string        `json:"matchedKeywords"`
	Cached          bool            `json:"cached"`
}

// Router routes a request to an agent. Implemented by the cached router
// service and, without caching or audit, by the engine.
type Router interface {
	Route(ctx context.Context, req RouteRequest) (RoutingDecision, error)
}
