// Package registry holds the active agent and skill-file set and reloads it
// from an external source, falling back to a built-in set when the source
// is unusable.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/tracer"
)

// DefaultLoadTimeout bounds a single source load.
const DefaultLoadTimeout = 10 * time.Second

const builtinSource = "builtin"

// Validator checks individual records before they are accepted.
type Validator interface {
	ValidateAgent(a domain.Agent) error
	ValidateSkillFile(s domain.SkillFile) error
}

// LoadResult is the tagged outcome of Load.
type LoadResult struct {
	Status   domain.LoadStatus
	Reason   string
	Snapshot *Snapshot
}

// Fallback reports whether the built-in set is in use because the source failed.
func (r LoadResult) Fallback() bool { return r.Status == domain.LoadStatusFallback }

// Option configures a Registry.
type Option func(*Registry)

// WithValidator validates every loaded record.
func WithValidator(v Validator) Option {
	return func(r *Registry) { r.validator = v }
}

// WithLoadTimeout overrides DefaultLoadTimeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry publishes immutable snapshots of the agent set.
type Registry struct {
	source    domain.RegistrySource
	validator Validator
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	loadMu  sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New creates a Registry reading from source. A nil source means the
// built-in set is the configured set. Until the first Load the registry
// serves the built-in set tagged as fallback.
func New(source domain.RegistrySource, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		source:  source,
		timeout: DefaultLoadTimeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.current.Store(newSnapshot(BuiltinAgents(), BuiltinSkillFiles(),
		domain.LoadStatusFallback, "not loaded", builtinSource, r.now()))
	return r
}

// Snapshot returns the current snapshot. It is never nil.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Status returns the load status of the current snapshot.
func (r *Registry) Status() domain.LoadStatus {
	return r.Snapshot().Status()
}

// Agent looks up an agent in the current snapshot.
func (r *Registry) Agent(id string) (domain.Agent, bool) { return r.Snapshot().Agent(id) }

// Enabled lists the enabled agents of the current snapshot.
func (r *Registry) Enabled() []domain.Agent { return r.Snapshot().Enabled() }

// ByRole returns the first enabled agent with role in the current snapshot.
func (r *Registry) ByRole(role domain.AgentRole) (domain.Agent, bool) {
	return r.Snapshot().ByRole(role)
}

// SkillFiles lists the skill files owned by agentID in the current snapshot.
func (r *Registry) SkillFiles(agentID string) []domain.SkillFile {
	return r.Snapshot().SkillFiles(agentID)
}

// Load reads the source and publishes a new snapshot. It never returns an
// error: any failure publishes the built-in set tagged with the reason.
// Concurrent calls are serialized.
func (r *Registry) Load(ctx context.Context) LoadResult {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "registry.load")
	defer span.End()

	if r.source == nil {
		snap := newSnapshot(BuiltinAgents(), BuiltinSkillFiles(), domain.LoadStatusLoaded, "", builtinSource, r.now())
		r.current.Store(snap)
		r.logger.Info("registry loaded", "source", builtinSource, "agents", len(snap.agents))
		tracer.SetOK(span)
		return LoadResult{Status: domain.LoadStatusLoaded, Snapshot: snap}
	}

	span.SetAttributes(tracer.StringAttr("registry.source", r.source.Name()))

	agents, skills, err := r.fetch(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return r.fallback(err.Error())
	}

	snap := newSnapshot(agents, skills, domain.LoadStatusLoaded, "", r.source.Name(), r.now())
	r.current.Store(snap)
	r.logger.Info("registry loaded",
		"source", r.source.Name(),
		"agents", len(agents),
		"enabled", len(snap.Enabled()),
		"skill_files", snap.SkillFileCount(),
	)
	span.SetAttributes(tracer.IntAttr("registry.agents", len(agents)))
	tracer.SetOK(span)
	return LoadResult{Status: domain.LoadStatusLoaded, Snapshot: snap}
}

func (r *Registry) fetch(ctx context.Context) ([]domain.Agent, []domain.SkillFile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	agents, err := r.source.ListAgents(ctx)
	if err != nil {
		return nil, nil, domain.NewSubSystemError("registry", "Registry.Load", domain.ErrRegistryLoad, "list agents: "+err.Error())
	}
	if len(agents) == 0 {
		return nil, nil, domain.NewSubSystemError("registry", "Registry.Load", domain.ErrRegistryLoad, "source returned no agents")
	}

	seen := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		if a.ID == "" {
			return nil, nil, domain.NewDomainError("Registry.Load", domain.ErrSchemaInvalid, "agent with empty id")
		}
		if _, dup := seen[a.ID]; dup {
			return nil, nil, domain.NewSubSystemError("agent", "Registry.Load", domain.ErrDuplicate, a.ID)
		}
		seen[a.ID] = struct{}{}
		if r.validator != nil {
			if err := r.validator.ValidateAgent(a); err != nil {
				return nil, nil, fmt.Errorf("agent %q: %w", a.ID, err)
			}
		}
	}

	skills, err := r.source.ListSkillFiles(ctx)
	if err != nil {
		return nil, nil, domain.NewSubSystemError("registry", "Registry.Load", domain.ErrRegistryLoad, "list skill files: "+err.Error())
	}
	kept := skills[:0:0]
	for _, s := range skills {
		if r.validator != nil {
			if err := r.validator.ValidateSkillFile(s); err != nil {
				return nil, nil, fmt.Errorf("skill file %q: %w", s.ID, err)
			}
		}
		if _, ok := seen[s.AgentID]; !ok {
			r.logger.Warn("skill file references unknown agent, dropped", "skill_file", s.ID, "agent_id", s.AgentID)
			continue
		}
		kept = append(kept, s)
	}
	return agents, kept, nil
}

func (r *Registry) fallback(reason string) LoadResult {
	snap := newSnapshot(BuiltinAgents(), BuiltinSkillFiles(), domain.LoadStatusFallback, reason, builtinSource, r.now())
	r.current.Store(snap)
	r.logger.Warn("registry source unusable, using built-in agents", "source", r.source.Name(), "reason", reason)
	return LoadResult{Status: domain.LoadStatusFallback, Reason: reason, Snapshot: snap}
}
