package repo

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/advisor/internal/core/error"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type RedisContextCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisContextCache(rdb redis.Cmdable, ttl time.Duration) *RedisContextCache {
	return &RedisContextCache{rdb: rdb, ttl: ttl}
}

func (r *RedisContextCache) cacheKey(key string) string {
	return fmt.Sprintf("advisor:context:%s", key)
}

func (r *RedisContextCache) Get(ctx context.Context, key string) (*model.ContextResult, bool, error) {
	k := r.cacheKey(key)

	raw, err := r.rdb.Get(ctx, k).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		logx.Error().Err(err).Str("key", k).Msg("failed to read context from redis")
		return nil, false, errx.WrapRedis(err)
	}

	var res model.ContextResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		// a corrupt entry is a miss; drop it so the next lookup repopulates
		logx.Warn().Err(err).Str("key", k).Msg("discarding undecodable context cache entry")
		_ = r.rdb.Del(ctx, k).Err()
		return nil, false, nil
	}
	return &res, true, nil
}

func (r *RedisContextCache) Set(ctx context.Context, key string, result model.ContextResult) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal context result: %w", err)
	}
	k := r.cacheKey(key)
	if err := r.rdb.Set(ctx, k, b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", k).Msg("failed to write context to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisContextCache) Invalidate(ctx context.Context, key string) error {
	k := r.cacheKey(key)
	if err := r.rdb.Del(ctx, k).Err(); err != nil {
		logx.Error().Err(err).Str("key", k).Msg("failed to delete context from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// CacheKey derives a stable key from the normalized query and lookup options.
func CacheKey(query string, prioritizeExact bool) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha1.Sum([]byte(fmt.Sprintf("%t|%s", prioritizeExact, norm)))
	return hex.EncodeToString(sum[:])
}

var _ model.ContextCache = (*RedisContextCache)(nil)
