package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Cache 查询向量缓存，miss 时返回错误
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedProvider 缓存 EmbedQuery 结果，文档嵌入不走缓存
type CachedProvider struct {
	Provider
	cache   Cache
	ttl     time.Duration
	prefix  string
	onCache func(hit bool)
	logger  *zap.Logger
}

// CachedOption 配置 CachedProvider
type CachedOption func(*CachedProvider)

// WithCacheObserver 命中/未命中回调（指标）
func WithCacheObserver(fn func(hit bool)) CachedOption {
	return func(c *CachedProvider) { c.onCache = fn }
}

// WithKeyPrefix 覆盖默认键前缀
func WithKeyPrefix(prefix string) CachedOption {
	return func(c *CachedProvider) { c.prefix = prefix }
}

// NewCachedProvider 包装 Provider
func NewCachedProvider(inner Provider, cache Cache, ttl time.Duration, logger *zap.Logger, opts ...CachedOption) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &CachedProvider{
		Provider: inner,
		cache:    cache,
		ttl:      ttl,
		prefix:   "groundwork:emb:",
		onCache:  func(bool) {},
		logger:   logger.With(zap.String("component", "embedding_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cacheKey 前缀 + provider + 维度 + sha256(query)
func (c *CachedProvider) cacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return c.prefix + c.Provider.Name() + ":" + strconv.Itoa(c.Provider.Dimensions()) + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	key := c.cacheKey(query)

	var vec []float64
	if err := c.cache.GetJSON(ctx, key, &vec); err == nil && len(vec) > 0 {
		c.onCache(true)
		return vec, nil
	}
	c.onCache(false)

	vec, err := c.Provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, key, vec, c.ttl); err != nil {
		// 缓存不可用不影响检索
		c.logger.Warn("failed to cache query embedding", zap.Error(err))
	}
	return vec, nil
}
