// Package audit records every routing decision to a fast recent-window store
// with time-based retention and, when configured, a durable append-only sink
// that keeps records until an operator opts into pruning it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/tracer"
)

const (
	DefaultTextLimit    = 200
	DefaultWriteTimeout = 5 * time.Second
	DefaultRetention    = 30 * 24 * time.Hour
)

// Config tunes the log. Zero values take the defaults above, except
// DurableRetention where zero keeps durable records indefinitely.
type Config struct {
	TextLimit        int
	WriteTimeout     time.Duration
	Retention        time.Duration // recent store
	DurableRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.TextLimit <= 0 {
		c.TextLimit = DefaultTextLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// Log fans each record out to its sinks in the background. Sink failures
// are logged and counted, never returned to the caller.
type Log struct {
	cfg     Config
	recent  domain.AuditSink
	durable domain.AuditSink
	logger  *slog.Logger
	now     func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	dropped atomic.Uint64

	writeMu sync.RWMutex
	writes  sync.WaitGroup
	closed  bool
}

// Option configures a Log.
type Option func(*Log)

// WithDurable adds a durable sink next to the recent store.
func WithDurable(sink domain.AuditSink) Option {
	return func(l *Log) { l.durable = sink }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a log over the recent store.
func New(cfg Config, recent domain.AuditSink, logger *slog.Logger, opts ...Option) *Log {
	l := &Log{
		cfg:    cfg.withDefaults(),
		recent: recent,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	t := l.now()
	l.entropy = ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return l
}

func (l *Log) newID(t time.Time) string {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), l.entropy).String()
}

// Record stamps rec with an id and time, truncates its text and queues it
// for every sink. It returns the assigned id.
func (l *Log) Record(ctx context.Context, rec domain.AuditRecord) string {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.now().UTC()
	}
	rec.ID = l.newID(rec.RecordedAt)
	rec.Text = truncate(rec.Text, l.cfg.TextLimit)
	rec.Metadata = copyMetadata(rec.Metadata)
	rec.Decision.MatchedKeywords = append([]string(nil), rec.Decision.MatchedKeywords...)
	rec.Decision.SkillFilesUsed = append([]string(nil), rec.Decision.SkillFilesUsed...)

	tracer.AddEvent(ctx, "audit.record",
		tracer.StringAttr("audit.id", rec.ID),
		tracer.StringAttr("audit.agent", rec.Decision.Agent),
		tracer.BoolAttr("audit.cached", rec.Cached),
	)

	l.writeMu.RLock()
	defer l.writeMu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return rec.ID
	}
	base := context.WithoutCancel(ctx)
	l.writes.Add(1)
	go func() {
		defer l.writes.Done()
		if err := l.fanOut(base, rec); err != nil {
			l.dropped.Add(1)
		}
	}()
	return rec.ID
}

func (l *Log) fanOut(ctx context.Context, rec domain.AuditRecord) error {
	var g errgroup.Group
	for _, sink := range l.sinks() {
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
			defer cancel()
			if err := sink.Append(wctx, rec); err != nil {
				l.logger.Warn("audit write dropped", "sink", sink.Name(), "id", rec.ID, "error", err)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (l *Log) sinks() []domain.AuditSink {
	out := make([]domain.AuditSink, 0, 2)
	if l.recent != nil {
		out = append(out, l.recent)
	}
	if l.durable != nil {
		out = append(out, l.durable)
	}
	return out
}

// Query reads from the durable sink when there is one, falling back to the
// recent store if it fails.
func (l *Log) Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	if l.durable != nil {
		recs, err := l.durable.Query(ctx, filter)
		if err == nil {
			return recs, nil
		}
		l.logger.Warn("durable audit query failed, using recent store", "sink", l.durable.Name(), "error", err)
	}
	if l.recent == nil {
		return nil, nil
	}
	recs, err := l.recent.Query(ctx, filter)
	if err != nil {
		return nil, domain.WrapOp("audit.Query", err)
	}
	return recs, nil
}

// StatsSince aggregates per-agent statistics over the last d.
// A non-positive d covers everything the sinks still hold.
func (l *Log) StatsSince(ctx context.Context, d time.Duration) ([]domain.AgentStats, error) {
	var filter domain.AuditFilter
	if d > 0 {
		filter.Since = l.now().Add(-d)
	}
	recs, err := l.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Aggregate(recs), nil
}

// TopAgents returns the limit most frequently routed-to agents.
func (l *Log) TopAgents(ctx context.Context, limit int) ([]domain.AgentStats, error) {
	stats, err := l.StatsSince(ctx, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// Prune enforces Retention on the recent store and, only when
// DurableRetention is set, on the durable sink.
func (l *Log) Prune(ctx context.Context) error {
	now := l.now()
	if err := l.prune(ctx, l.recent, now.Add(-l.cfg.Retention)); err != nil {
		return err
	}
	if l.cfg.DurableRetention <= 0 {
		return nil
	}
	return l.prune(ctx, l.durable, now.Add(-l.cfg.DurableRetention))
}

func (l *Log) prune(ctx context.Context, sink domain.AuditSink, cutoff time.Time) error {
	p, ok := sink.(domain.AuditPruner)
	if !ok {
		return nil
	}
	removed, err := p.Prune(ctx, cutoff)
	if err != nil {
		return domain.WrapOp("audit.Prune", err)
	}
	l.logger.Info("audit retention enforced", "sink", sink.Name(), "removed", removed, "before", cutoff)
	return nil
}

// Dropped reports how many records failed to reach at least one sink.
func (l *Log) Dropped() uint64 {
	return l.dropped.Load()
}

// Flush waits for in-flight writes.
func (l *Log) Flush() {
	l.writes.Wait()
}

// Close waits for pending writes and closes both sinks.
func (l *Log) Close() error {
	l.writeMu.Lock()
	if l.closed {
		l.writeMu.Unlock()
		return nil
	}
	l.closed = true
	l.writeMu.Unlock()

	l.writes.Wait()
	var errs []error
	for _, s := range l.sinks() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Aggregate groups records by agent, ordered by count descending then id.
func Aggregate(recs []domain.AuditRecord) []domain.AgentStats {
	byAgent := make(map[string]*domain.AgentStats)
	var order []string
	for _, r := range recs {
		id := r.Decision.Agent
		s, ok := byAgent[id]
		if !ok {
			s = &domain.AgentStats{AgentID: id}
			byAgent[id] = s
			order = append(order, id)
		}
		s.Count++
		if r.Cached {
			s.CachedCount++
		}
		s.AvgConfidence += r.Decision.Confidence
		s.AvgLatencyMS += r.Decision.LatencyMS
		s.TotalEstimatedCost += r.Decision.EstimatedCost
	}

	out := make([]domain.AgentStats, 0, len(order))
	for _, id := range order {
		s := byAgent[id]
		n := float64(s.Count)
		s.AvgConfidence /= n
		s.AvgLatencyMS /= n
		s.AvgEstimatedCost = s.TotalEstimatedCost / n
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
