package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	errx "github.com/ragops-session/server/internal/core/error"
	"github.com/ragops-session/server/internal/session/model"
	logx "github.com/ragops-session/server/pkg/logger"
)

// RedisHistoryCache keeps rendered histories in Redis. A zero ttl stores keys
// without expiry and relies on invalidation alone.
type RedisHistoryCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisHistoryCache(rdb redis.Cmdable, ttl time.Duration) *RedisHistoryCache {
	return &RedisHistoryCache{rdb: rdb, ttl: ttl}
}

func (r *RedisHistoryCache) historyKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:history", conversationID)
}

func (r *RedisHistoryCache) Get(ctx context.Context, conversationID string) (*model.History, bool, error) {
	key := r.historyKey(conversationID)

	b, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load history from redis")
		return nil, false, errx.WrapRedis(err)
	}

	var h model.History
	if err := json.Unmarshal(b, &h); err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to unmarshal cached history")
		return nil, false, fmt.Errorf("unmarshal history: %w", err)
	}
	return &h, true, nil
}

func (r *RedisHistoryCache) Set(ctx context.Context, conversationID string, history *model.History) error {
	b, err := json.Marshal(history)
	if err != nil {
		logx.Error().Err(err).Str("conversationID", conversationID).Msg("failed to marshal history")
		return fmt.Errorf("marshal history: %w", err)
	}
	key := r.historyKey(conversationID)

	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to store history in redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisHistoryCache) Invalidate(ctx context.Context, conversationID string) error {
	key := r.historyKey(conversationID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete history from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisHistoryCache) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// NopHistoryCache is used when Redis is not configured. Every read misses.
type NopHistoryCache struct{}

func (NopHistoryCache) Get(context.Context, string) (*model.History, bool, error) {
	return nil, false, nil
}

func (NopHistoryCache) Set(context.Context, string, *model.History) error { return nil }

func (NopHistoryCache) Invalidate(context.Context, string) error { return nil }

func (NopHistoryCache) Ping(context.Context) error { return nil }

var (
	_ model.HistoryCache = (*RedisHistoryCache)(nil)
	_ model.HistoryCache = NopHistoryCache{}
)
