package repo

import (
	"context"
	"time"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/patrickmn/go-cache"
)

// MemoryContextCache keeps context results in process memory. It is used
// when no Redis URL is configured.
type MemoryContextCache struct {
	cache *cache.Cache
}

func NewMemoryContextCache(ttl time.Duration) *MemoryContextCache {
	cleanup := ttl * 2
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	return &MemoryContextCache{cache: cache.New(ttl, cleanup)}
}

func (m *MemoryContextCache) Get(_ context.Context, key string) (*model.ContextResult, bool, error) {
	if x, found := m.cache.Get(key); found {
		res := x.(model.ContextResult)
		return &res, true, nil
	}
	return nil, false, nil
}

func (m *MemoryContextCache) Set(_ context.Context, key string, result model.ContextResult) error {
	m.cache.Set(key, result, cache.DefaultExpiration)
	return nil
}

func (m *MemoryContextCache) Invalidate(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryContextCache) Len() int {
	return m.cache.ItemCount()
}

var _ model.ContextCache = (*MemoryContextCache)(nil)
