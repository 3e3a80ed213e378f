package kv

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Miles0sage/openclaw-assistant/internal/adapter/breaker"
	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

type getResult struct {
	value []byte
	found bool
}

// BreakerStore wraps a KVStore with circuit breaker protection. When the
// store fails repeatedly the circuit opens and calls fail fast, which the
// cache treats as a miss.
type BreakerStore struct {
	inner   domain.KVStore
	breaker *gobreaker.CircuitBreaker[getResult]
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner domain.KVStore, s breaker.Settings, logger *slog.Logger) *BreakerStore {
	return &BreakerStore{
		inner:   inner,
		breaker: breaker.New[getResult]("cache:"+inner.Name(), s, logger),
	}
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := b.breaker.Execute(func() (getResult, error) {
		v, found, err := b.inner.Get(ctx, key)
		return getResult{value: v, found: found}, err
	})
	if err != nil {
		return nil, false, breaker.Wrap("cache", "BreakerStore.Get", b.inner.Name(), err)
	}
	return r.value, r.found, nil
}

func (b *BreakerStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.breaker.Execute(func() (getResult, error) {
		return getResult{}, b.inner.Put(ctx, key, value, ttl)
	})
	return breaker.Wrap("cache", "BreakerStore.Put", b.inner.Name(), err)
}

// Sweep forwards to the inner store when it needs sweeping. Sweeps bypass
// the breaker.
func (b *BreakerStore) Sweep(ctx context.Context) (int, error) {
	if sw, ok := b.inner.(domain.KVSweeper); ok {
		return sw.Sweep(ctx)
	}
	return 0, nil
}

func (b *BreakerStore) Name() string { return b.inner.Name() }

func (b *BreakerStore) Close() error { return b.inner.Close() }

// State returns the current circuit breaker state for monitoring.
func (b *BreakerStore) State() gobreaker.State { return b.breaker.State() }

var (
	_ domain.KVStore   = (*BreakerStore)(nil)
	_ domain.KVSweeper = (*BreakerStore)(nil)
)
