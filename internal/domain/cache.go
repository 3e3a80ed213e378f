package domain

import (
	"context"
	"time"
)

// CacheEntry is a memoized routing decision keyed by input hash.
type CacheEntry struct {
	Hash            string          `json:"hash"`
	Agent           string          `json:"agent"`
	Confidence      float64         `json:"confidence"`
	Reason          string          `json:"reason"`
	Complexity      ComplexityLevel `json:"complexity"`
	MatchedKeywords []string        `json:"matched_keywords,omitempty"`
	SkillFilesUsed  []string        `json:"skill_files_used,omitempty"`
	EstimatedCost   float64         `json:"estimated_cost"`
	CreatedAt       time.Time       `json:"created_at"`
	TTL             time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is older than its TTL at now.
func (e CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CreatedAt.Add(e.TTL))
}

// NewCacheEntry captures the cacheable subset of a decision.
func NewCacheEntry(hash string, d RoutingDecision, ttl time.Duration, now time.Time) CacheEntry {
	return CacheEntry{
		Hash:            hash,
		Agent:           d.Agent,
		Confidence:      d.Confidence,
		Reason:          d.Reason,
		Complexity:      d.Complexity,
		MatchedKeywords: append([]string(nil), d.MatchedKeywords...),
		SkillFilesUsed:  append([]string(nil), d.SkillFilesUsed...),
		EstimatedCost:   d.EstimatedCost,
		CreatedAt:       now,
		TTL:             ttl,
	}
}

// Decision rebuilds a decision from the entry. Latency and timestamp are the
// caller's to stamp.
func (e CacheEntry) Decision() RoutingDecision {
	return RoutingDecision{
		Agent:           e.Agent,
		Confidence:      e.Confidence,
		Reason:          e.Reason,
		Complexity:      e.Complexity,
		MatchedKeywords: append([]string{}, e.MatchedKeywords...),
		SkillFilesUsed:  append([]string{}, e.SkillFilesUsed...),
		EstimatedCost:   e.EstimatedCost,
		Cached:          true,
	}
}

// KVStore is the durable key-value tier behind the routing cache.
// Get returns found=false for absent keys; an error means the store itself failed.
type KVStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Name() string
	Close() error
}

// KVSweeper is implemented by stores that do not expire keys on their own.
type KVSweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	RollingRate float64 `json:"rolling_hit_rate"`
	LocalSize   int     `json:"local_size"`
	Durable     string  `json:"durable,omitempty"`
}
