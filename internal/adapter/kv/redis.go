// Package kv provides the durable key-value stores behind the routing cache.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// RedisClient abstracts the Redis operations RedisStore needs, so a real
// go-redis client or a fake can be used interchangeably.
type RedisClient interface {
	// Get returns found=false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value with an expiration; zero means no expiry.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Close() error
}

// RedisOptions configures NewGoRedisClient.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// goRedisClient wraps a go-redis client to implement RedisClient.
type goRedisClient struct {
	client *goredis.Client
}

// NewGoRedisClient connects to Redis and verifies the connection with a ping.
func NewGoRedisClient(ctx context.Context, opts RedisOptions) (RedisClient, error) {
	dial := opts.DialTimeout
	if dial <= 0 {
		dial = 2 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: dial,
		MaxRetries:  -1,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, domain.NewSubSystemError("cache", "kv.NewGoRedisClient", domain.ErrUnavailable,
			fmt.Sprintf("redis ping %s: %v", opts.Addr, err))
	}
	return &goRedisClient{client: rdb}, nil
}

func (r *goRedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *goRedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *goRedisClient) Close() error {
	return r.client.Close()
}

// RedisStore implements domain.KVStore over Redis. Keys are namespaced with
// a prefix and expire through Redis TTLs.
type RedisStore struct {
	client RedisClient
	prefix string
}

// NewRedisStore creates a store writing keys under prefix.
func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, found, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, false, domain.WrapOp("RedisStore.Get", err)
	}
	return v, found, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return domain.WrapOp("RedisStore.Put", s.client.Set(ctx, s.prefix+key, value, ttl))
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Close() error { return s.client.Close() }

var _ domain.KVStore = (*RedisStore)(nil)
