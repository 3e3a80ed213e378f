package kv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Miles0sage/openclaw-assistant/internal/adapter/breaker"
	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	err    error
	closed bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeRedis) Set(_ context.Context, key string, value []byte, exp time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	f.ttls[key] = exp
	return nil
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisStorePrefixesKeys(t *testing.T) {
	client := newFakeRedis()
	s := NewRedisStore(client, "openclaw:route:")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "abc", []byte("v"), time.Hour))
	assert.Contains(t, client.data, "openclaw:route:abc")
	assert.Equal(t, time.Hour, client.ttls["openclaw:route:abc"])

	v, found, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	_, found, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, "redis", s.Name())
	require.NoError(t, s.Close())
	assert.True(t, client.closed)
}

func TestRedisStoreErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection reset")
	s := NewRedisStore(client, "p:")

	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorContains(t, err, "RedisStore.Get: connection reset")
	assert.ErrorContains(t, s.Put(context.Background(), "k", nil, time.Second), "RedisStore.Put")
}

func TestGoRedisClientUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewGoRedisClient(ctx, RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, domain.CodeCacheUnreachable, domain.ErrorCodeOf(err))
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(ctx, "k", []byte(`{"agent":"coder_agent"}`), time.Hour))
	v, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"agent":"coder_agent"}`, string(v))

	require.NoError(t, s.Put(ctx, "k", []byte(`{"agent":"hacker_agent"}`), time.Hour))
	v, _, _ = s.Get(ctx, "k")
	assert.JSONEq(t, `{"agent":"hacker_agent"}`, string(v), "put overwrites")
}

func TestSQLiteStoreExpiry(t *testing.T) {
	s := newSQLite(t)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, s.Put(ctx, "forever", []byte("b"), 0))

	now = now.Add(time.Minute)
	_, found, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found, "expired exactly at TTL")
	_, found, _ = s.Get(ctx, "forever")
	assert.True(t, found)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", []byte("v"), time.Hour))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	_, found, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
}

type flakyKV struct {
	calls int
	err   error
	swept int
}

func (f *flakyKV) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return nil, false, f.err
}

func (f *flakyKV) Put(context.Context, string, []byte, time.Duration) error {
	f.calls++
	return f.err
}

func (f *flakyKV) Sweep(context.Context) (int, error) {
	f.swept++
	return 2, nil
}

func (f *flakyKV) Name() string { return "flaky" }
func (f *flakyKV) Close() error { return nil }

func TestBreakerStoreOpens(t *testing.T) {
	inner := &flakyKV{err: errors.New("timeout")}
	b := NewBreakerStore(inner, breaker.Settings{MaxFailures: 2, Timeout: time.Minute}, testLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := b.Get(ctx, "k")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Put(ctx, "k", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls, "open breaker does not reach the store")
	assert.Equal(t, domain.CodeCacheUnreachable, domain.ErrorCodeOf(err))
}

func TestBreakerStoreMissIsNotFailure(t *testing.T) {
	inner := &flakyKV{}
	b := NewBreakerStore(inner, breaker.Settings{MaxFailures: 1}, testLogger())
	for i := 0; i < 5; i++ {
		_, found, err := b.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, "flaky", b.Name())

	n, err := b.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, inner.swept)
}
