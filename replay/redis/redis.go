package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ethpandaops/zkrelay/replay/types"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

// RedisEngine shares the journal between relay instances. Claims use SETNX.
type RedisEngine struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisEngine(ctx context.Context, config dtypes.RedisReplayConfig) (types.JournalEngine, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		ReadTimeout: time.Second * 20,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not reach redis at %v: %w", config.Addr, err)
	}

	return newRedisEngine(client, config), nil
}

func newRedisEngine(client *redis.Client, config dtypes.RedisReplayConfig) *RedisEngine {
	return &RedisEngine{
		client:    client,
		keyPrefix: config.Prefix,
		ttl:       config.TTL,
	}
}

func (e *RedisEngine) Close() error {
	return e.client.Close()
}

func (e *RedisEngine) key(fingerprint []byte) string {
	return fmt.Sprintf("%spayout:%s", e.keyPrefix, hex.EncodeToString(fingerprint))
}

func (e *RedisEngine) Get(ctx context.Context, fingerprint []byte) (*types.Record, error) {
	data, err := e.client.Get(ctx, e.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeRecord(data)
}

func (e *RedisEngine) Claim(ctx context.Context, record *types.Record) (bool, error) {
	data, err := types.EncodeRecord(record)
	if err != nil {
		return false, err
	}
	return e.client.SetNX(ctx, e.key(record.Fingerprint), data, e.ttl).Result()
}

func (e *RedisEngine) Update(ctx context.Context, record *types.Record) error {
	data, err := types.EncodeRecord(record)
	if err != nil {
		return err
	}
	return e.client.Set(ctx, e.key(record.Fingerprint), data, e.ttl).Err()
}

func (e *RedisEngine) Release(ctx context.Context, fingerprint []byte) error {
	return e.client.Del(ctx, e.key(fingerprint)).Err()
}
