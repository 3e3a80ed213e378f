package config

import (
	"strings"
	"testing"
	"time"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"logger level", func(c *Config) { c.Logger.Level = "loud" }, "logger.level"},
		{"logger format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"tracer exporter", func(c *Config) { c.Tracer.Enabled = true; c.Tracer.Exporter = "jaeger" }, "tracer.exporter"},
		{"tracer ratio", func(c *Config) { c.Tracer.Enabled = true; c.Tracer.SampleRatio = 2 }, "tracer.sample_ratio"},
		{"registry source", func(c *Config) { c.Registry.Source = "postgres" }, "registry.source"},
		{"registry dir", func(c *Config) { c.Registry.Source = "file"; c.Registry.Dir = "" }, "registry.dir is required"},
		{"registry timeout", func(c *Config) { c.Registry.LoadTimeout = 0 }, "registry.load_timeout"},
		{"registry watch", func(c *Config) { c.Registry.Watch = true }, "registry.watch requires source file"},
		{"escalation", func(c *Config) { c.Routing.EscalationMinScore = 120 }, "routing.escalation_min_score"},
		{"cache ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"cache size", func(c *Config) { c.Cache.LocalSize = 0 }, "cache.local_size"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Redis.Addr = "nohost" }, "cache.redis.addr"},
		{"sqlite path", func(c *Config) { c.Cache.Backend = "sqlite"; c.Cache.SQLitePath = "" }, "cache.sqlite_path"},
		{"cache read timeout", func(c *Config) { c.Cache.Backend = "sqlite"; c.Cache.ReadTimeout = 0 }, "cache.read_timeout"},
		{"cache breaker", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.Breaker.MaxFailures = 0 }, "cache.breaker.max_failures"},
		{"audit sink", func(c *Config) { c.Audit.Sink = "kafka" }, "audit.sink"},
		{"audit path", func(c *Config) { c.Audit.Sink = "jsonl"; c.Audit.Path = "" }, "audit.path is required"},
		{"audit text limit", func(c *Config) { c.Audit.TextLimit = 0 }, "audit.text_limit"},
		{"gateway addr", func(c *Config) { c.Gateway.Addr = "" }, "gateway.addr is required"},
		{"gateway host port", func(c *Config) { c.Gateway.Addr = "localhost" }, "gateway.addr"},
		{"gateway burst", func(c *Config) { c.Gateway.RateBurst = 0 }, "gateway.rate_burst"},
		{"gateway empty token", func(c *Config) { c.Gateway.Auth.Tokens = []TokenConfig{{Name: "x"}} }, "token must not be empty"},
		{"scheduler action", func(c *Config) {
			c.Scheduler.Tasks = []ScheduledTaskConfig{{Name: "a", Schedule: "1m", Action: "reboot"}}
		}, "scheduler.tasks[0].action"},
		{"scheduler duplicate", func(c *Config) {
			c.Scheduler.Tasks = []ScheduledTaskConfig{
				{Name: "a", Schedule: "1m", Action: "cache_sweep"},
				{Name: "a", Schedule: "2m", Action: "cache_sweep"},
			}
		}, "duplicate task name"},
		{"scheduler missing fields", func(c *Config) {
			c.Scheduler.Tasks = []ScheduledTaskConfig{{Action: "cache_sweep"}}
		}, "scheduler.tasks[0].schedule is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateDisabledSectionsSkipped(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.Enabled = false
	cfg.Cache.TTL = 0
	cfg.Audit.Enabled = false
	cfg.Audit.Sink = "bogus"
	cfg.Gateway.Enabled = false
	cfg.Gateway.Addr = ""
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{{}}

	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled sections should not be validated: %v", err)
	}
}

func TestValidateDurableCache(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = "10.0.0.5:6379"
	cfg.Cache.ReadTimeout = 20 * time.Millisecond
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid redis cache rejected: %v", err)
	}
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "loud"
	cfg.Registry.Source = "nope"
	cfg.Cache.TTL = 0
	cfg.Audit.Sink = "nope"

	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("first error")
	ve.Add("second %s", "error")

	msg := ve.Error()
	if !strings.HasPrefix(msg, "config validation failed:") {
		t.Errorf("unexpected prefix: %s", msg)
	}
	assertContains(t, msg, "first error")
	assertContains(t, msg, "second error")
}
