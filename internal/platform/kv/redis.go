package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"agentpass/pkg/platform/sentinel"
)

// RedisStore keeps values under "<namespace>:v:<key>" and tracks insertion
// order in the sorted set "<namespace>:idx", scored by a per-namespace
// sequence counter.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore builds a store over an existing client. The client lifecycle
// is managed by the caller.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "agentpass"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) valueKey(key string) string { return r.namespace + ":v:" + key }
func (r *RedisStore) indexKey() string           { return r.namespace + ":idx" }
func (r *RedisStore) seqKey() string             { return r.namespace + ":seq" }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis sequence: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.valueKey(key), value, 0)
		pipe.ZAddNX(ctx, r.indexKey(), redis.Z{Score: float64(seq), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (r *RedisStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	stored, err := r.client.SetNX(ctx, r.valueKey(key), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if !stored {
		return false, nil
	}
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return true, fmt.Errorf("redis sequence: %w", err)
	}
	if err := r.client.ZAddNX(ctx, r.indexKey(), redis.Z{Score: float64(seq), Member: key}).Err(); err != nil {
		return true, fmt.Errorf("redis index: %w", err)
	}
	return true, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.valueKey(key))
		pipe.ZRem(ctx, r.indexKey(), key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	members, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}
	keys := make([]string, 0, len(members))
	for _, member := range members {
		if strings.HasPrefix(member, prefix) {
			keys = append(keys, member)
		}
	}
	return keys, nil
}
