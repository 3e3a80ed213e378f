package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	agents    []domain.Agent
	skills    []domain.SkillFile
	agentErr  error
	skillErr  error
	calls     atomic.Int32
	lastCtxOK atomic.Bool
}

func (f *fakeSource) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	f.calls.Add(1)
	_, hasDeadline := ctx.Deadline()
	f.lastCtxOK.Store(hasDeadline)
	return f.agents, f.agentErr
}

func (f *fakeSource) ListSkillFiles(context.Context) ([]domain.SkillFile, error) {
	return f.skills, f.skillErr
}

func (f *fakeSource) Name() string { return "fake" }

type rejectValidator struct{ id string }

func (v rejectValidator) ValidateAgent(a domain.Agent) error {
	if a.ID == v.id {
		return domain.ErrSchemaInvalid
	}
	return nil
}

func (v rejectValidator) ValidateSkillFile(domain.SkillFile) error { return nil }

func customAgents() []domain.Agent {
	return []domain.Agent{
		{ID: "writer", Name: "Writer", Role: domain.RoleOther, Enabled: true,
			KeywordGroups: []domain.KeywordGroup{{Domain: "docs", Keywords: []string{"docs", "readme"}}}},
		{ID: "builder", Name: "Builder", Role: domain.RoleImplementation, Enabled: true,
			KeywordGroups: []domain.KeywordGroup{{Domain: "development", Keywords: []string{"build"}}}},
		{ID: "retired", Name: "Retired", Role: domain.RoleImplementation, Enabled: false},
	}
}

func TestNewServesBuiltinBeforeLoad(t *testing.T) {
	r := New(&fakeSource{}, testLogger())
	snap := r.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, domain.LoadStatusFallback, snap.Status())
	assert.Len(t, snap.Enabled(), 3)
}

func TestLoadFromSource(t *testing.T) {
	src := &fakeSource{
		agents: customAgents(),
		skills: []domain.SkillFile{
			{ID: "style", AgentID: "writer", Keywords: []string{"docs"}},
			{ID: "orphan", AgentID: "ghost"},
		},
	}
	r := New(src, testLogger())

	res := r.Load(context.Background())
	require.Equal(t, domain.LoadStatusLoaded, res.Status)
	assert.False(t, res.Fallback())
	assert.Empty(t, res.Reason)
	assert.True(t, src.lastCtxOK.Load(), "source should be called with a deadline")

	snap := r.Snapshot()
	assert.Same(t, res.Snapshot, snap)
	assert.Equal(t, "fake", snap.Source())
	assert.Len(t, snap.Agents(), 3)
	assert.Len(t, snap.Enabled(), 2)
	assert.False(t, snap.IsEnabled("retired"))

	b, ok := snap.ByRole(domain.RoleImplementation)
	require.True(t, ok)
	assert.Equal(t, "builder", b.ID, "ByRole must skip disabled agents")

	assert.Len(t, snap.SkillFiles("writer"), 1)
	assert.Empty(t, snap.SkillFiles("ghost"), "orphan skill files are dropped")
	assert.Equal(t, 1, snap.SkillFileCount())
}

func TestLoadFallsBack(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		opts []Option
	}{
		{"store unavailable", &fakeSource{agentErr: errors.New("connection refused")}, nil},
		{"empty agent list", &fakeSource{}, nil},
		{"skill listing fails", &fakeSource{agents: customAgents(), skillErr: errors.New("timeout")}, nil},
		{"duplicate agent id", &fakeSource{agents: append(customAgents(), domain.Agent{ID: "writer"})}, nil},
		{"empty agent id", &fakeSource{agents: []domain.Agent{{Name: "nameless"}}}, nil},
		{"schema rejection", &fakeSource{agents: customAgents()}, []Option{WithValidator(rejectValidator{id: "builder"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.src, testLogger(), tt.opts...)
			res := r.Load(context.Background())

			assert.True(t, res.Fallback())
			assert.NotEmpty(t, res.Reason)
			assert.Equal(t, domain.LoadStatusFallback, r.Status())

			_, ok := r.Agent(CoderAgent)
			assert.True(t, ok, "built-in agents must be served")
			assert.Len(t, r.Enabled(), len(BuiltinAgents()))
		})
	}
}

func TestLoadNilSourceIsLoadedBuiltin(t *testing.T) {
	r := New(nil, testLogger())
	res := r.Load(context.Background())
	assert.Equal(t, domain.LoadStatusLoaded, res.Status)
	assert.Equal(t, "builtin", res.Snapshot.Source())
}

func TestLoadIsIdempotent(t *testing.T) {
	src := &fakeSource{agents: customAgents()}
	r := New(src, testLogger())

	first := r.Load(context.Background())
	second := r.Load(context.Background())
	assert.Equal(t, first.Snapshot.Statuses(), second.Snapshot.Statuses())
}

func TestSnapshotIsolatedFromSourceMutation(t *testing.T) {
	agents := customAgents()
	src := &fakeSource{agents: agents}
	r := New(src, testLogger())
	r.Load(context.Background())

	agents[0].KeywordGroups[0].Keywords[0] = "mutated"
	a, _ := r.Agent("writer")
	assert.Equal(t, "docs", a.KeywordGroups[0].Keywords[0])
}

func TestConcurrentReadsDuringReload(t *testing.T) {
	src := &fakeSource{agents: customAgents()}
	r := New(src, testLogger())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := r.Snapshot()
				// A snapshot is either the builtin set or the source set, never a mix.
				enabled := snap.Enabled()
				if snap.Source() == "fake" {
					assert.Len(t, enabled, 2)
				} else {
					assert.Len(t, enabled, 3)
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		r.Load(context.Background())
	}
	close(stop)
	wg.Wait()
}

func TestBuiltinSkillFilesBelongToBuiltinAgents(t *testing.T) {
	ids := map[string]bool{}
	for _, a := range BuiltinAgents() {
		ids[a.ID] = true
		assert.True(t, a.Role.Valid(), a.ID)
		assert.True(t, a.BaselineComplexity.Valid(), a.ID)
	}
	for _, s := range BuiltinSkillFiles() {
		assert.True(t, ids[s.AgentID], "skill file %s references unknown agent %s", s.ID, s.AgentID)
	}
}

type countingLoader struct{ n atomic.Int32 }

func (c *countingLoader) Load(context.Context) LoadResult {
	c.n.Add(1)
	return LoadResult{Status: domain.LoadStatusLoaded}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "agents"), 0o755))

	loader := &countingLoader{}
	w := NewWatcher(loader, dir, 50*time.Millisecond, testLogger())
	require.NoError(t, w.Start(context.Background()))

	// A burst of writes collapses into a single reload.
	path := filepath.Join(dir, "agents", "writer.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("---\nid: writer\n---\n"), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	require.Eventually(t, func() bool { return loader.n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, loader.n.Load(), int32(3))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatcherStartMissingDir(t *testing.T) {
	w := NewWatcher(&countingLoader{}, filepath.Join(t.TempDir(), "missing"), 0, testLogger())
	assert.Error(t, w.Start(context.Background()))
}

func TestSnapshotFingerprint(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{agents: customAgents(), skills: []domain.SkillFile{
		{ID: "docs-style", AgentID: "writer", Keywords: []string{"docs"}},
	}}
	r := New(src, testLogger())

	first := r.Load(ctx).Snapshot.Fingerprint()
	if len(first) != 16 {
		t.Fatalf("fingerprint = %q, want 16 hex chars", first)
	}
	if again := r.Load(ctx).Snapshot.Fingerprint(); again != first {
		t.Errorf("reload of identical content changed fingerprint: %q -> %q", first, again)
	}

	src.skills = nil
	if got := r.Load(ctx).Snapshot.Fingerprint(); got == first {
		t.Error("dropping a skill file kept the fingerprint")
	}

	src.skills = []domain.SkillFile{{ID: "docs-style", AgentID: "writer", Keywords: []string{"docs"}}}
	src.agents = customAgents()
	src.agents[2].Enabled = true
	if got := r.Load(ctx).Snapshot.Fingerprint(); got == first {
		t.Error("enabling an agent kept the fingerprint")
	}

	// The fallback set and the configured built-in set route identically.
	builtin := New(nil, testLogger())
	before := builtin.Snapshot()
	after := builtin.Load(ctx).Snapshot
	if before.Status() == after.Status() {
		t.Fatalf("expected status change, both %s", after.Status())
	}
	if before.Fingerprint() != after.Fingerprint() {
		t.Errorf("built-in fingerprint depends on status: %q vs %q", before.Fingerprint(), after.Fingerprint())
	}
}
