// Package router is the entry point for routing calls. It puts the routing
// cache in front of the engine and records every outcome to the audit log.
package router

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/tracer"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/audit"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/routecache"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/routing"
)

// Stats is the combined view served by the stats endpoint and command.
type Stats struct {
	Cache        *domain.CacheStats  `json:"cache,omitempty"`
	Agents       []domain.AgentStats `json:"agents"`
	AuditDropped uint64              `json:"audit_dropped"`
	Since        time.Duration       `json:"-"`
}

// Router is safe for concurrent use. Cache and audit are optional and set
// once during wiring, before the first call.
type Router struct {
	engine   domain.Router
	catalog  *routing.Catalog
	registry routing.SnapshotSource
	cache    *routecache.Cache
	audit    *audit.Log
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Router over engine. catalog supplies the channel hints
// folded into cache keys.
func New(engine domain.Router, catalog *routing.Catalog, logger *slog.Logger) *Router {
	return &Router{
		engine:  engine,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// SetCache enables decision caching.
func (r *Router) SetCache(c *routecache.Cache) { r.cache = c }

// SetAudit enables audit recording.
func (r *Router) SetAudit(l *audit.Log) { r.audit = l }

// SetRegistry scopes cache entries to the registry snapshot they were
// computed against.
func (r *Router) SetRegistry(src routing.SnapshotSource) { r.registry = src }

func (r *Router) generation() string {
	if r.registry == nil {
		return ""
	}
	return r.registry.Snapshot().Fingerprint()
}

// Route validates req, serves it from cache when possible and otherwise
// asks the engine. Cache and audit failures never fail the call.
func (r *Router) Route(ctx context.Context, req domain.RouteRequest) (domain.RoutingDecision, error) {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "router.route")
	defer span.End()

	text := strings.TrimSpace(req.Message)
	if text == "" {
		err := domain.NewDomainError("Router.Route", domain.ErrInvalidInput, "message is empty")
		tracer.RecordError(span, err)
		return domain.RoutingDecision{}, err
	}

	hint := r.catalog.HintedDomain(req.Context.Channel, req.Context.ChannelTopic, req.Context.ChannelCategory)
	inputHash := routecache.Key(text, hint, "")
	gen := r.generation()
	key := routecache.Key(text, hint, gen)

	if r.cache != nil {
		if d, ok := r.cache.Get(ctx, key); ok {
			d.LatencyMS = sinceMS(start)
			d.Timestamp = r.now().UTC()
			span.SetAttributes(
				tracer.StringAttr("router.agent", d.Agent),
				tracer.BoolAttr("router.cached", true),
			)
			r.record(ctx, req, inputHash, d)
			tracer.SetOK(span)
			return d, nil
		}
	}

	d, err := r.engine.Route(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		if !domain.IsClientError(err) {
			r.logger.Error("routing failed", "error", err, "request_id", domain.RequestIDFromContext(ctx))
		}
		return domain.RoutingDecision{}, err
	}
	d.Cached = false
	d.LatencyMS = sinceMS(start)

	if r.cache != nil {
		// A reload during the engine call may have routed against a newer
		// snapshot than key names.
		if cur := r.generation(); cur == gen {
			r.cache.Set(ctx, key, d)
		} else {
			r.logger.Debug("registry reloaded mid-route, decision not cached", "from", gen, "to", cur)
		}
	}
	r.record(ctx, req, inputHash, d)

	span.SetAttributes(
		tracer.StringAttr("router.agent", d.Agent),
		tracer.FloatAttr("router.confidence", d.Confidence),
		tracer.BoolAttr("router.cached", false),
	)
	tracer.SetOK(span)
	r.logger.Debug("routed",
		"agent", d.Agent,
		"confidence", d.Confidence,
		"complexity", string(d.Complexity),
		"latency_ms", d.LatencyMS,
	)
	return d, nil
}

func (r *Router) record(ctx context.Context, req domain.RouteRequest, inputHash string, d domain.RoutingDecision) {
	if r.audit == nil {
		return
	}
	meta := make(map[string]string, len(req.Context.Metadata)+1)
	for k, v := range req.Context.Metadata {
		meta[k] = v
	}
	if id := domain.RequestIDFromContext(ctx); id != "" {
		meta["request_id"] = id
	}
	r.audit.Record(ctx, domain.AuditRecord{
		RecordedAt: d.Timestamp,
		InputHash:  inputHash,
		Text:       strings.TrimSpace(req.Message),
		CallerID:   req.CallerID,
		Channel:    req.Context.Channel,
		Metadata:   meta,
		Cached:     d.Cached,
		Decision:   d,
	})
}

// Stats reports cache counters and per-agent audit statistics over the
// last since. A non-positive since covers the whole audit window.
func (r *Router) Stats(ctx context.Context, since time.Duration) (Stats, error) {
	s := Stats{Since: since, Agents: []domain.AgentStats{}}
	if r.cache != nil {
		cs := r.cache.Stats()
		s.Cache = &cs
	}
	if r.audit != nil {
		agents, err := r.audit.StatsSince(ctx, since)
		if err != nil {
			return Stats{}, domain.WrapOp("Router.Stats", err)
		}
		s.Agents = agents
		s.AuditDropped = r.audit.Dropped()
	}
	return s, nil
}

func sinceMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
