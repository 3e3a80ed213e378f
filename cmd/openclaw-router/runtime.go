package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Miles0sage/openclaw-assistant/internal/adapter/auditsink"
	"github.com/Miles0sage/openclaw-assistant/internal/adapter/breaker"
	"github.com/Miles0sage/openclaw-assistant/internal/adapter/kv"
	"github.com/Miles0sage/openclaw-assistant/internal/adapter/registrysource"
	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/config"
	"github.com/Miles0sage/openclaw-assistant/internal/infra/logger"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/audit"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/registry"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/routecache"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/router"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/routing"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/scheduling"
)

// runtime holds the wired routing components. Cache, audit and scheduler are
// nil when disabled in config.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *registry.Registry
	cache     *routecache.Cache
	audit     *audit.Log
	router    *router.Router
	scheduler *scheduling.Scheduler
	watcher   *registry.Watcher
}

// buildRuntime wires registry, cache, audit, engine and router from cfg.
// Background workers are not started; see start.
func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: log}

	reg, err := initRegistry(cfg.Registry, log)
	if err != nil {
		return nil, err
	}
	rt.registry = reg
	if res := reg.Load(ctx); res.Fallback() {
		log.Warn("starting with built-in agents", "reason", res.Reason)
	}

	if cfg.Cache.Enabled {
		rt.cache = initCache(ctx, cfg.Cache, reg, log)
	}

	if cfg.Audit.Enabled {
		rt.audit, err = initAudit(cfg.Audit, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}

	catalog := routing.DefaultCatalog()
	engine := routing.NewEngine(reg, catalog, routing.EngineConfig{
		FallbackAgent:       cfg.Routing.FallbackAgent,
		ImplementationAgent: cfg.Routing.ImplementationAgent,
		PlanningAgent:       cfg.Routing.PlanningAgent,
		EscalationMinScore:  cfg.Routing.EscalationMinScore,
	}, logger.Component(log, "engine"))

	rt.router = router.New(engine, catalog, logger.Component(log, "router"))
	rt.router.SetRegistry(reg)
	if rt.cache != nil {
		rt.router.SetCache(rt.cache)
	}
	if rt.audit != nil {
		rt.router.SetAudit(rt.audit)
	}

	if cfg.Scheduler.Enabled {
		rt.scheduler, err = initScheduler(cfg.Scheduler, rt, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func initRegistry(cfg config.RegistryConfig, log *slog.Logger) (*registry.Registry, error) {
	log = logger.Component(log, "registry")
	if cfg.Source != "file" {
		return registry.New(nil, log, registry.WithLoadTimeout(cfg.LoadTimeout)), nil
	}
	validator, err := registrysource.NewValidator(cfg.SchemaDir)
	if err != nil {
		return nil, err
	}
	return registry.New(registrysource.NewFileSource(cfg.Dir), log,
		registry.WithValidator(validator),
		registry.WithLoadTimeout(cfg.LoadTimeout),
	), nil
}

// initCache never fails: an unreachable durable tier leaves the cache
// local-only.
func initCache(ctx context.Context, cfg config.CacheConfig, reg *registry.Registry, log *slog.Logger) *routecache.Cache {
	log = logger.Component(log, "cache")
	opts := []routecache.Option{
		routecache.WithAgentCheck(func(id string) bool { return reg.Snapshot().IsEnabled(id) }),
	}
	store, err := openKV(ctx, cfg)
	switch {
	case err != nil:
		log.Warn("durable cache unavailable, using local tier only", "backend", cfg.Backend, "error", err)
	case store != nil:
		opts = append(opts, routecache.WithDurable(kv.NewBreakerStore(store, breakerSettings(cfg.Breaker), log)))
		log.Info("durable cache enabled", "backend", store.Name())
	}
	return routecache.New(routecache.Config{
		TTL:           cfg.TTL,
		LocalSize:     cfg.LocalSize,
		RollingWindow: cfg.RollingWindow,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}, log, opts...)
}

func openKV(ctx context.Context, cfg config.CacheConfig) (domain.KVStore, error) {
	switch cfg.Backend {
	case "redis":
		client, err := kv.NewGoRedisClient(ctx, kv.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return kv.NewRedisStore(client, cfg.Redis.KeyPrefix), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		return kv.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, nil
	}
}

func initAudit(cfg config.AuditConfig, log *slog.Logger) (*audit.Log, error) {
	log = logger.Component(log, "audit")
	var opts []audit.Option
	var durable domain.AuditSink
	switch cfg.Sink {
	case "sqlite":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		s, err := auditsink.NewSQLiteSink(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		durable = s
	case "jsonl":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		s, err := auditsink.NewJSONLSink(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		durable = s
	}
	if durable != nil {
		opts = append(opts, audit.WithDurable(auditsink.NewBreakerSink(durable, breakerSettings(cfg.Breaker), log)))
		retention := "indefinite"
		if cfg.DurableRetention > 0 {
			retention = cfg.DurableRetention.String()
		}
		log.Info("durable audit sink enabled", "sink", durable.Name(), "path", cfg.Path, "retention", retention)
	}
	return audit.New(audit.Config{
		TextLimit:        cfg.TextLimit,
		WriteTimeout:     cfg.WriteTimeout,
		Retention:        cfg.Retention,
		DurableRetention: cfg.DurableRetention,
	}, auditsink.NewRecentStore(cfg.RecentSize, cfg.Retention), log, opts...), nil
}

func initScheduler(cfg config.SchedulerConfig, rt *runtime, log *slog.Logger) (*scheduling.Scheduler, error) {
	s := scheduling.NewScheduler(logger.Component(log, "scheduler"))

	s.RegisterAction(scheduling.ActionRegistryRefresh, func(ctx context.Context) error {
		if res := rt.registry.Load(ctx); res.Fallback() {
			return domain.NewSubSystemError("registry", "registry_refresh", domain.ErrRegistryLoad, res.Reason)
		}
		return nil
	})
	s.RegisterAction(scheduling.ActionAuditPrune, func(ctx context.Context) error {
		if rt.audit == nil {
			return nil
		}
		return rt.audit.Prune(ctx)
	})
	s.RegisterAction(scheduling.ActionCacheSweep, func(ctx context.Context) error {
		if rt.cache == nil {
			return nil
		}
		return rt.cache.Sweep(ctx)
	})

	for _, tc := range cfg.Tasks {
		if err := s.AddTask(scheduling.Task{
			Name:     tc.Name,
			Schedule: tc.Schedule,
			Action:   scheduling.Action(tc.Action),
			Timeout:  tc.Timeout,
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// start launches the scheduler and, for file registries with watch enabled,
// the hot-reload watcher.
func (rt *runtime) start(ctx context.Context) error {
	if rt.scheduler != nil {
		if err := rt.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if rt.cfg.Registry.Source == "file" && rt.cfg.Registry.Watch {
		w := registry.NewWatcher(rt.registry, rt.cfg.Registry.Dir, rt.cfg.Registry.WatchDebounce,
			logger.Component(rt.logger, "watcher"))
		if err := w.Start(ctx); err != nil {
			rt.logger.Warn("registry watcher disabled", "dir", rt.cfg.Registry.Dir, "error", err)
		} else {
			rt.watcher = w
		}
	}
	return nil
}

// Close stops background work and flushes pending cache and audit writes.
func (rt *runtime) Close() error {
	var errs []error
	if rt.watcher != nil {
		errs = append(errs, rt.watcher.Close())
	}
	if rt.scheduler != nil {
		errs = append(errs, rt.scheduler.Stop())
	}
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if rt.audit != nil {
		errs = append(errs, rt.audit.Close())
	}
	return errors.Join(errs...)
}

func breakerSettings(c config.BreakerConfig) breaker.Settings {
	return breaker.Settings{MaxFailures: c.MaxFailures, Timeout: c.Timeout, Interval: c.Interval}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
