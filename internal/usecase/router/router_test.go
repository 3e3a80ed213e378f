package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/audit"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/registry"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/routecache"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/routing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memSink struct {
	mu   sync.Mutex
	recs []domain.AuditRecord
}

func (m *memSink) Append(_ context.Context, rec domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memSink) Query(_ context.Context, f domain.AuditFilter) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		if f.Matches(m.recs[i]) {
			out = append(out, m.recs[i])
		}
	}
	return out, nil
}

func (m *memSink) Name() string { return "memory" }
func (m *memSink) Close() error { return nil }

type countingEngine struct {
	inner domain.Router
	calls atomic.Int32
	err   error
}

func (c *countingEngine) Route(ctx context.Context, req domain.RouteRequest) (domain.RoutingDecision, error) {
	c.calls.Add(1)
	if c.err != nil {
		return domain.RoutingDecision{}, c.err
	}
	return c.inner.Route(ctx, req)
}

// swapSource serves the built-in agents with a replaceable skill-file set.
type swapSource struct {
	mu     sync.Mutex
	skills []domain.SkillFile
}

func (s *swapSource) ListAgents(context.Context) ([]domain.Agent, error) {
	return registry.BuiltinAgents(), nil
}

func (s *swapSource) ListSkillFiles(context.Context) ([]domain.SkillFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SkillFile(nil), s.skills...), nil
}

func (s *swapSource) Name() string { return "swap" }

func (s *swapSource) set(skills []domain.SkillFile) {
	s.mu.Lock()
	s.skills = skills
	s.mu.Unlock()
}

type fixture struct {
	router *Router
	engine *countingEngine
	cache  *routecache.Cache
	audit  *audit.Log
	sink   *memSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New(nil, testLogger())
	require.Equal(t, domain.LoadStatusLoaded, reg.Load(context.Background()).Status)

	catalog := routing.DefaultCatalog()
	engine := &countingEngine{inner: routing.NewEngine(reg, catalog, routing.EngineConfig{
		FallbackAgent:       registry.ProjectManager,
		ImplementationAgent: registry.CoderAgent,
		PlanningAgent:       registry.ProjectManager,
	}, testLogger())}

	cache := routecache.New(routecache.Config{}, testLogger(),
		routecache.WithAgentCheck(func(id string) bool { return reg.Snapshot().IsEnabled(id) }))
	sink := &memSink{}
	log := audit.New(audit.Config{}, sink, testLogger())

	r := New(engine, catalog, testLogger())
	r.SetRegistry(reg)
	r.SetCache(cache)
	r.SetAudit(log)
	t.Cleanup(func() {
		_ = log.Close()
		_ = cache.Close()
	})
	return &fixture{router: r, engine: engine, cache: cache, audit: log, sink: sink}
}

func TestRouteCachesDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.router.Route(ctx, domain.RouteRequest{Message: "Fix the login bug"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, registry.CoderAgent, first.Agent)

	second, err := f.router.Route(ctx, domain.RouteRequest{Message: "  fix the LOGIN bug  "})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), f.engine.calls.Load(), "normalized text hits the cache")
	assert.False(t, second.Timestamp.IsZero())
	assert.GreaterOrEqual(t, second.LatencyMS, 0.0)

	ignore := cmpopts.IgnoreFields(domain.RoutingDecision{}, "Cached", "LatencyMS", "Timestamp")
	if diff := cmp.Diff(first, second, ignore); diff != "" {
		t.Errorf("cached decision differs (-first +second):\n%s", diff)
	}

	s := f.cache.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
}

func TestRouteChannelHintBypassesPlainEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Route(ctx, domain.RouteRequest{Message: "review the login flow"})
	require.NoError(t, err)
	d, err := f.router.Route(ctx, domain.RouteRequest{
		Message: "review the login flow",
		Context: domain.RouteContext{Channel: "slack", ChannelTopic: "security"},
	})
	require.NoError(t, err)
	assert.False(t, d.Cached)
	assert.Equal(t, int32(2), f.engine.calls.Load())
}

func TestRouteEmptyInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Route(context.Background(), domain.RouteRequest{Message: " \n "})
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidInput, domain.ErrorCodeOf(err))
	assert.Zero(t, f.engine.calls.Load())

	f.audit.Flush()
	assert.Empty(t, f.sink.recs, "rejected requests are not audited")
}

func TestRouteEngineErrorNotCached(t *testing.T) {
	f := newFixture(t)
	f.engine.err = domain.NewDomainError("Engine.Route", domain.ErrConfiguration, "registry has no enabled agents")

	_, err := f.router.Route(context.Background(), domain.RouteRequest{Message: "Fix the login bug"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Zero(t, f.cache.Stats().LocalSize)
}

func TestRouteRecordsAudit(t *testing.T) {
	f := newFixture(t)
	ctx := domain.ContextWithRequestID(context.Background(), "req-1")

	req := domain.RouteRequest{
		Message:  "Fix the login bug",
		CallerID: "u-42",
		Context: domain.RouteContext{
			Channel:  "discord",
			Metadata: map[string]string{"guild": "eng"},
		},
	}
	_, err := f.router.Route(ctx, req)
	require.NoError(t, err)
	f.audit.Flush()
	_, err = f.router.Route(ctx, req)
	require.NoError(t, err)
	f.audit.Flush()

	require.Len(t, f.sink.recs, 2)
	rec := f.sink.recs[0]
	assert.Equal(t, "u-42", rec.CallerID)
	assert.Equal(t, "discord", rec.Channel)
	assert.Equal(t, "Fix the login bug", rec.Text)
	assert.Equal(t, routecache.Key("Fix the login bug", "", ""), rec.InputHash)
	assert.Equal(t, map[string]string{"guild": "eng", "request_id": "req-1"}, rec.Metadata)
	assert.False(t, rec.Cached)
	assert.True(t, f.sink.recs[1].Cached)
	assert.NotEqual(t, rec.ID, f.sink.recs[1].ID)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, msg := range []string{"Fix the login bug", "Fix the login bug", "Design a secure payment API with caching"} {
		_, err := f.router.Route(ctx, domain.RouteRequest{Message: msg})
		require.NoError(t, err)
	}
	f.audit.Flush()

	s, err := f.router.Stats(ctx, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, s.Cache)
	assert.InDelta(t, 1.0/3.0, s.Cache.HitRate, 1e-9)
	require.Len(t, s.Agents, 2)
	assert.Equal(t, registry.CoderAgent, s.Agents[0].AgentID)
	assert.Equal(t, 2, s.Agents[0].Count)
	assert.Equal(t, 1, s.Agents[0].CachedCount)
	assert.Zero(t, s.AuditDropped)
}

func TestStatsWithoutCacheOrAudit(t *testing.T) {
	reg := registry.New(nil, testLogger())
	reg.Load(context.Background())
	catalog := routing.DefaultCatalog()
	r := New(routing.NewEngine(reg, catalog, routing.EngineConfig{}, testLogger()), catalog, testLogger())

	d, err := r.Route(context.Background(), domain.RouteRequest{Message: "Fix the login bug"})
	require.NoError(t, err)
	assert.False(t, d.Cached)

	s, err := r.Stats(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, s.Cache)
	assert.Empty(t, s.Agents)
}

func TestConcurrentRoutes(t *testing.T) {
	f := newFixture(t)
	msgs := []string{"Fix the login bug", "Design a secure payment API with caching", "Plan the roadmap"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := f.router.Route(context.Background(), domain.RouteRequest{Message: msgs[(i+j)%len(msgs)]})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	f.audit.Flush()

	s := f.cache.Stats()
	assert.Equal(t, uint64(320), s.Hits+s.Misses)
	assert.Len(t, f.sink.recs, 320)
}

func TestRouteAfterReloadUsesCurrentSkillFiles(t *testing.T) {
	ctx := context.Background()
	src := &swapSource{skills: registry.BuiltinSkillFiles()}
	reg := registry.New(src, testLogger())
	require.Equal(t, domain.LoadStatusLoaded, reg.Load(ctx).Status)

	catalog := routing.DefaultCatalog()
	engine := &countingEngine{inner: routing.NewEngine(reg, catalog, routing.EngineConfig{
		FallbackAgent:       registry.ProjectManager,
		ImplementationAgent: registry.CoderAgent,
		PlanningAgent:       registry.ProjectManager,
	}, testLogger())}
	cache := routecache.New(routecache.Config{}, testLogger(),
		routecache.WithAgentCheck(func(id string) bool { return reg.Snapshot().IsEnabled(id) }))
	t.Cleanup(func() { _ = cache.Close() })

	r := New(engine, catalog, testLogger())
	r.SetRegistry(reg)
	r.SetCache(cache)

	owned := func(d domain.RoutingDecision) {
		t.Helper()
		ids := make(map[string]bool)
		for _, sf := range reg.SkillFiles(d.Agent) {
			ids[sf.ID] = true
		}
		for _, id := range d.SkillFilesUsed {
			assert.True(t, ids[id], "skill file %q not owned by %q in the current snapshot", id, d.Agent)
		}
	}

	first, err := r.Route(ctx, domain.RouteRequest{Message: "Fix the login bug"})
	require.NoError(t, err)
	require.Equal(t, registry.CoderAgent, first.Agent)
	require.Contains(t, first.SkillFilesUsed, "debugging")

	src.set(nil)
	require.Equal(t, domain.LoadStatusLoaded, reg.Load(ctx).Status)

	second, err := r.Route(ctx, domain.RouteRequest{Message: "Fix the login bug"})
	require.NoError(t, err)
	assert.False(t, second.Cached, "entry from the previous snapshot must not be served")
	assert.Empty(t, second.SkillFilesUsed)
	assert.Equal(t, int32(2), engine.calls.Load())
	owned(second)

	src.set(registry.BuiltinSkillFiles())
	require.Equal(t, domain.LoadStatusLoaded, reg.Load(ctx).Status)

	third, err := r.Route(ctx, domain.RouteRequest{Message: "Fix the login bug"})
	require.NoError(t, err)
	assert.True(t, third.Cached, "identical content maps back to the original entry")
	assert.Equal(t, first.SkillFilesUsed, third.SkillFilesUsed)
	assert.Equal(t, int32(2), engine.calls.Load())
	owned(third)
}
