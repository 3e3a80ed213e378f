// Package routecache memoizes routing decisions by input hash, with a local
// LRU tier in front of an optional durable key-value store.
package routecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

const (
	DefaultTTL           = time.Hour
	DefaultLocalSize     = 10000
	DefaultRollingWindow = 1024
	DefaultReadTimeout   = 50 * time.Millisecond
	DefaultWriteTimeout  = 2 * time.Second
)

// Config tunes the cache. Zero values take the defaults above.
type Config struct {
	TTL           time.Duration
	LocalSize     int
	RollingWindow int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.LocalSize <= 0 {
		c.LocalSize = DefaultLocalSize
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = DefaultRollingWindow
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// AgentCheck reports whether an agent may still be served from cache.
type AgentCheck func(agentID string) bool

// Cache is safe for concurrent use. Concurrent misses on the same key may
// both compute and store; the last write wins.
type Cache struct {
	cfg     Config
	local   *lru
	durable domain.KVStore
	enabled AgentCheck
	logger  *slog.Logger
	now     func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	rolling *window

	writeMu sync.RWMutex // guards closed against writes.Add
	writes  sync.WaitGroup
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithDurable adds a durable tier behind the local LRU.
func WithDurable(kv domain.KVStore) Option {
	return func(c *Cache) { c.durable = kv }
}

// WithAgentCheck drops hits whose agent is no longer enabled.
func WithAgentCheck(fn AgentCheck) Option {
	return func(c *Cache) { c.enabled = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		cfg:     cfg,
		local:   newLRU(cfg.LocalSize),
		logger:  logger,
		now:     time.Now,
		rolling: newWindow(cfg.RollingWindow),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Normalize lowercases text and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Key hashes the normalized text. A non-empty hint domain changes scoring,
// and a non-empty registry generation changes the candidate agents and
// skill files, so both are folded into the hashed material.
func Key(text, hintDomain, generation string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(text)))
	if hintDomain != "" {
		h.Write([]byte{0x1f})
		h.Write([]byte("hint=" + hintDomain))
	}
	if generation != "" {
		h.Write([]byte{0x1f})
		h.Write([]byte("gen=" + generation))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached decision for key, with Cached set.
func (c *Cache) Get(ctx context.Context, key string) (domain.RoutingDecision, bool) {
	e, ok := c.lookup(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.rolling.record(ok)
	if !ok {
		return domain.RoutingDecision{}, false
	}
	return e.Decision(), true
}

func (c *Cache) lookup(ctx context.Context, key string) (domain.CacheEntry, bool) {
	now := c.now()
	if e, ok := c.local.get(key); ok {
		if c.usable(e, now) {
			return e, true
		}
		c.local.remove(key)
		return domain.CacheEntry{}, false
	}
	if c.durable == nil {
		return domain.CacheEntry{}, false
	}

	e, ok := c.readDurable(ctx, key)
	if !ok || !c.usable(e, now) {
		return domain.CacheEntry{}, false
	}
	c.local.put(key, e)
	return e, true
}

func (c *Cache) usable(e domain.CacheEntry, now time.Time) bool {
	if e.Expired(now) {
		return false
	}
	return c.enabled == nil || c.enabled(e.Agent)
}

// readDurable treats every failure, including the read deadline, as a miss.
func (c *Cache) readDurable(ctx context.Context, key string) (domain.CacheEntry, bool) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	raw, found, err := c.durable.Get(rctx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Debug("durable cache read timed out", "store", c.durable.Name(), "timeout", c.cfg.ReadTimeout)
		} else {
			c.logger.Warn("durable cache read failed", "store", c.durable.Name(), "error", err)
		}
		return domain.CacheEntry{}, false
	}
	if !found {
		return domain.CacheEntry{}, false
	}

	var e domain.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("discarding malformed durable cache entry", "store", c.durable.Name(), "error", err)
		return domain.CacheEntry{}, false
	}
	return e, true
}

// Set stores d under key in the local tier and, asynchronously, in the
// durable tier. Durable failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, d domain.RoutingDecision) {
	e := domain.NewCacheEntry(key, d, c.cfg.TTL, c.now())
	c.local.put(key, e)

	if c.durable == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("encode cache entry", "error", err)
		return
	}

	c.writeMu.RLock()
	defer c.writeMu.RUnlock()
	if c.closed {
		return
	}
	base := context.WithoutCancel(ctx)
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		wctx, cancel := context.WithTimeout(base, c.cfg.WriteTimeout)
		defer cancel()
		if err := c.durable.Put(wctx, key, raw, c.cfg.TTL); err != nil {
			c.logger.Warn("durable cache write failed", "store", c.durable.Name(), "error", err)
		}
	}()
}

// Sweep drops expired local entries, and expired durable entries when the
// durable store needs an explicit sweep.
func (c *Cache) Sweep(ctx context.Context) error {
	if n := c.local.sweep(c.now()); n > 0 {
		c.logger.Debug("cache sweep", "tier", "local", "removed", n)
	}
	sw, ok := c.durable.(domain.KVSweeper)
	if !ok {
		return nil
	}
	n, err := sw.Sweep(ctx)
	if err != nil {
		return domain.WrapOp("routecache.Sweep", err)
	}
	if n > 0 {
		c.logger.Debug("cache sweep", "tier", c.durable.Name(), "removed", n)
	}
	return nil
}

// Stats reports hit counters and the rolling hit rate.
func (c *Cache) Stats() domain.CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := domain.CacheStats{
		Hits:        hits,
		Misses:      misses,
		RollingRate: c.rolling.rate(),
		LocalSize:   c.local.len(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if c.durable != nil {
		s.Durable = c.durable.Name()
	}
	return s
}

// Flush waits for in-flight durable writes.
func (c *Cache) Flush() {
	c.writes.Wait()
}

// Close stops accepting durable writes, waits for pending ones and closes
// the durable store. Safe to call more than once.
func (c *Cache) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	c.writeMu.Unlock()

	c.writes.Wait()
	if c.durable != nil {
		return c.durable.Close()
	}
	return nil
}
