package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateRegistry(cfg, ve)
	validateRouting(cfg, ve)
	validateCache(cfg, ve)
	validateAudit(cfg, ve)
	validateGateway(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be within [0, 1]")
	}
}

func validateRegistry(cfg *Config, ve *ValidationError) {
	switch cfg.Registry.Source {
	case "builtin":
	case "file":
		if cfg.Registry.Dir == "" {
			ve.Add("registry.dir is required when source is file")
		}
	default:
		ve.Add("registry.source %q is invalid (want: builtin, file)", cfg.Registry.Source)
	}
	if cfg.Registry.LoadTimeout <= 0 {
		ve.Add("registry.load_timeout must be > 0")
	}
	if cfg.Registry.Watch && cfg.Registry.Source != "file" {
		ve.Add("registry.watch requires source file")
	}
}

func validateRouting(cfg *Config, ve *ValidationError) {
	if cfg.Routing.EscalationMinScore < 0 || cfg.Routing.EscalationMinScore > 100 {
		ve.Add("routing.escalation_min_score must be within [0, 100]")
	}
}

func validateCache(cfg *Config, ve *ValidationError) {
	if !cfg.Cache.Enabled {
		return
	}
	if cfg.Cache.TTL <= 0 {
		ve.Add("cache.ttl must be > 0")
	}
	if cfg.Cache.LocalSize <= 0 {
		ve.Add("cache.local_size must be > 0")
	}
	if cfg.Cache.RollingWindow <= 0 {
		ve.Add("cache.rolling_window must be > 0")
	}
	switch cfg.Cache.Backend {
	case "", "none":
		return
	case "redis":
		if _, _, err := net.SplitHostPort(cfg.Cache.Redis.Addr); err != nil {
			ve.Add("cache.redis.addr %q is invalid: %v", cfg.Cache.Redis.Addr, err)
		}
	case "sqlite":
		if cfg.Cache.SQLitePath == "" {
			ve.Add("cache.sqlite_path is required when backend is sqlite")
		}
	default:
		ve.Add("cache.backend %q is invalid (want: none, redis, sqlite)", cfg.Cache.Backend)
	}
	if cfg.Cache.ReadTimeout <= 0 {
		ve.Add("cache.read_timeout must be > 0 with a durable backend")
	}
	if cfg.Cache.WriteTimeout <= 0 {
		ve.Add("cache.write_timeout must be > 0 with a durable backend")
	}
	validateBreaker("cache.breaker", cfg.Cache.Breaker, ve)
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if !cfg.Audit.Enabled {
		return
	}
	switch cfg.Audit.Sink {
	case "memory":
	case "sqlite", "jsonl":
		if cfg.Audit.Path == "" {
			ve.Add("audit.path is required when sink is %s", cfg.Audit.Sink)
		}
	default:
		ve.Add("audit.sink %q is invalid (want: memory, sqlite, jsonl)", cfg.Audit.Sink)
	}
	if cfg.Audit.Retention < 0 {
		ve.Add("audit.retention must be >= 0")
	}
	if cfg.Audit.DurableRetention < 0 {
		ve.Add("audit.durable_retention must be >= 0")
	}
	if cfg.Audit.RecentSize <= 0 {
		ve.Add("audit.recent_size must be > 0")
	}
	if cfg.Audit.WriteTimeout <= 0 {
		ve.Add("audit.write_timeout must be > 0")
	}
	if cfg.Audit.TextLimit <= 0 {
		ve.Add("audit.text_limit must be > 0")
	}
	validateBreaker("audit.breaker", cfg.Audit.Breaker, ve)
}

func validateBreaker(prefix string, b BreakerConfig, ve *ValidationError) {
	if b.MaxFailures == 0 {
		ve.Add("%s.max_failures must be > 0", prefix)
	}
	if b.Timeout <= 0 {
		ve.Add("%s.timeout must be > 0", prefix)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is invalid: %v", cfg.Gateway.Addr, err)
	}
	if cfg.Gateway.MaxBodyBytes <= 0 {
		ve.Add("gateway.max_body_bytes must be > 0")
	}
	if cfg.Gateway.RateLimit < 0 {
		ve.Add("gateway.rate_limit must be >= 0")
	}
	if cfg.Gateway.RateLimit > 0 && cfg.Gateway.RateBurst <= 0 {
		ve.Add("gateway.rate_burst must be > 0 when rate_limit is set")
	}
	seen := make(map[string]bool)
	for i, tok := range cfg.Gateway.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
		}
		if tok.Name != "" && seen[tok.Name] {
			ve.Add("gateway.auth.tokens[%d]: duplicate token name %q", i, tok.Name)
		}
		seen[tok.Name] = true
	}
}

var validActions = map[string]bool{"registry_refresh": true, "audit_prune": true, "cache_sweep": true}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	names := make(map[string]bool)
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		} else if names[t.Name] {
			ve.Add("scheduler.tasks[%d]: duplicate task name %q", i, t.Name)
		}
		names[t.Name] = true
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		} else if d, err := time.ParseDuration(t.Schedule); err == nil && d <= 0 {
			ve.Add("scheduler.tasks[%d].schedule duration must be > 0", i)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: registry_refresh, audit_prune, cache_sweep)", i, t.Action)
		}
		if t.Timeout < 0 {
			ve.Add("scheduler.tasks[%d].timeout must be >= 0", i)
		}
	}
}
