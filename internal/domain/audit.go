package domain

import (
	"context"
	"time"
)

// AuditRecord is one routing decision as persisted to the audit trail.
// Records are append-only. Routing never updates or deletes them; retention
// is applied by the recent store's size bound and the scheduled prune job.
type AuditRecord struct {
	ID         string            `json:"id"`
	RecordedAt time.Time         `json:"recorded_at"`
	InputHash  string            `json:"input_hash"`
	Text       string            `json:"text"`
	CallerID   string            `json:"caller_id,omitempty"`
	Channel    string            `json:"channel,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Cached     bool              `json:"cached"`
	Decision   RoutingDecision   `json:"decision"`
}

// AuditFilter selects records from a sink. Zero fields match everything.
type AuditFilter struct {
	Since    time.Time
	Until    time.Time
	AgentID  string
	CallerID string
	Limit    int
}

// Matches reports whether rec satisfies every set field of the filter.
// Limit is applied by the caller.
func (f AuditFilter) Matches(rec AuditRecord) bool {
	if !f.Since.IsZero() && rec.RecordedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.RecordedAt.Before(f.Until) {
		return false
	}
	if f.AgentID != "" && rec.Decision.Agent != f.AgentID {
		return false
	}
	if f.CallerID != "" && rec.CallerID != f.CallerID {
		return false
	}
	return true
}

// AuditSink persists audit records. Query returns matches newest first,
// truncated to filter.Limit when it is positive.
type AuditSink interface {
	Append(ctx context.Context, rec AuditRecord) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
	Name() string
	Close() error
}

// AuditPruner is implemented by sinks that enforce time-based retention.
type AuditPruner interface {
	Prune(ctx context.Context, before time.Time) (removed int, err error)
}

// AgentStats aggregates audit records for one agent.
type AgentStats struct {
	AgentID            string  `json:"agent"`
	Count              int     `json:"count"`
	CachedCount        int     `json:"cached_count"`
	AvgConfidence      float64 `json:"avg_confidence"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	TotalEstimatedCost float64 `json:"total_estimated_cost"`
	AvgEstimatedCost   float64 `json:"avg_estimated_cost"`
}
