package mirror

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "chatmirror"

// RedisMirror stores each key as a redis string under "<prefix>:<key>".
type RedisMirror struct {
	client *redis.Client
	prefix string
}

var _ Mirror = (*RedisMirror)(nil)

func NewRedisMirror(ctx context.Context, redisURL string, prefix string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "could not reach redis")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisMirror{client: client, prefix: prefix}, nil
}

func (m *RedisMirror) key(key string) string {
	return m.prefix + ":" + key
}

func (m *RedisMirror) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := m.client.Get(ctx, m.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return nil, false, ErrClosed
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (m *RedisMirror) Put(ctx context.Context, key string, value []byte) error {
	err := m.client.Set(ctx, m.key(key), value, 0).Err()
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (m *RedisMirror) Delete(ctx context.Context, key string) error {
	err := m.client.Del(ctx, m.key(key)).Err()
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
