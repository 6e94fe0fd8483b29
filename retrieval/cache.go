package retrieval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CacheConfig 配置融合结果的 Redis 缓存.
type CacheConfig struct {
	// Enabled 打开缓存层, 关闭时每次检索都打到底层
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultCacheConfig 返回默认缓存配置.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:      "localhost:6379",
		TTL:       10 * time.Minute,
		KeyPrefix: "graphflow:kg:",
	}
}

// CachedRetriever 在融合检索外层加一层 Redis 缓存.
// 只缓存没有任何组合失败的完整结果, 避免把部分结果钉在缓存里.
// 缓存读写失败都只记日志, 退化为直接检索.
type CachedRetriever struct {
	inner  *FusionRetriever
	client *redis.Client
	cfg    CacheConfig
	logger *zap.Logger
}

// NewCachedRetriever 创建带缓存的检索器.
func NewCachedRetriever(inner *FusionRetriever, client *redis.Client, cfg CacheConfig, logger *zap.Logger) *CachedRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "graphflow:kg:"
	}
	return &CachedRetriever{
		inner:  inner,
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "retrieval_cache")),
	}
}

func (c *CachedRetriever) cacheKey(query string) string {
	return c.cfg.KeyPrefix + contentHash(query)
}

// RetrieveKnowledgeGraph 先查缓存, 未命中时走融合检索并回填.
func (c *CachedRetriever) RetrieveKnowledgeGraph(ctx context.Context, query string) (*KnowledgeGraphResult, error) {
	key := c.cacheKey(query)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached KnowledgeGraphResult
		if uerr := json.Unmarshal(raw, &cached); uerr == nil {
			c.logger.Debug("cache hit", zap.String("key", key))
			return &cached, nil
		}
		// 缓存里的坏数据直接丢弃
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.Warn("cache read failed", zap.Error(err))
	}

	result, err := c.inner.RetrieveKnowledgeGraph(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(result.Errors) == 0 {
		raw, merr := json.Marshal(result)
		if merr == nil {
			if serr := c.client.Set(ctx, key, raw, c.cfg.TTL).Err(); serr != nil {
				c.logger.Warn("cache write failed", zap.Error(serr))
			}
		}
	}
	return result, nil
}

// Invalidate 删除一条查询的缓存.
func (c *CachedRetriever) Invalidate(ctx context.Context, query string) error {
	return c.client.Del(ctx, c.cacheKey(query)).Err()
}
