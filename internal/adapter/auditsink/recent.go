// Package auditsink provides the stores behind the audit log: a bounded
// in-memory recent window and durable SQLite and JSONL sinks.
package auditsink

import (
	"context"
	"sync"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// DefaultRecentSize bounds the recent store when no size is given.
const DefaultRecentSize = 1000

// RecentStore keeps the last N records in a ring, and with a max age only
// those recorded within that window. Nothing is persisted.
type RecentStore struct {
	mu     sync.RWMutex
	ring   []domain.AuditRecord
	next   int
	full   bool
	maxAge time.Duration
	now    func() time.Time
}

// NewRecentStore creates a store holding up to size records no older than
// maxAge. A zero maxAge bounds by count only.
func NewRecentStore(size int, maxAge time.Duration) *RecentStore {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &RecentStore{ring: make([]domain.AuditRecord, size), maxAge: maxAge, now: time.Now}
}

func (s *RecentStore) Append(_ context.Context, rec domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Query walks the ring newest first.
func (s *RecentStore) Query(_ context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if s.maxAge > 0 {
		cutoff = s.now().Add(-s.maxAge)
	}
	var out []domain.AuditRecord
	for i := 1; i <= s.held(); i++ {
		rec := s.ring[(s.next-i+len(s.ring))%len(s.ring)]
		if rec.RecordedAt.Before(cutoff) || !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Prune drops records recorded before the given time and compacts the ring.
func (s *RecentStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.held()
	kept := make([]domain.AuditRecord, 0, n)
	for i := n; i >= 1; i-- {
		rec := s.ring[(s.next-i+len(s.ring))%len(s.ring)]
		if !rec.RecordedAt.Before(before) {
			kept = append(kept, rec)
		}
	}
	ring := make([]domain.AuditRecord, len(s.ring))
	copy(ring, kept)
	s.ring = ring
	s.next = len(kept) % len(ring)
	s.full = len(kept) == len(ring)
	return n - len(kept), nil
}

// Len returns the number of records held, including any past the max age
// that have not been pruned yet.
func (s *RecentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.held()
}

func (s *RecentStore) held() int {
	if s.full {
		return len(s.ring)
	}
	return s.next
}

func (s *RecentStore) Name() string { return "recent" }

func (s *RecentStore) Close() error { return nil }

var (
	_ domain.AuditSink   = (*RecentStore)(nil)
	_ domain.AuditPruner = (*RecentStore)(nil)
)
