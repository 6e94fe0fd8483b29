// Package graphflow provides a top-level convenience entry point for
// multi-knowledge-base graph retrieval with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/graphflow"
//
//	engine, err := graphflow.New(cfg,
//		graphflow.WithEmbedder(embedder),
//		graphflow.WithLLMProvider(provider),
//	)
//	err = engine.AddKnowledgeBase(ctx, kb.KnowledgeBase{ID: "docs", VectorDimension: 1536})
//	result, err := engine.RetrieveKnowledgeGraph(ctx, "how does ingestion dedup entities?")
package graphflow

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/graphflow/chunkstore"
	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/graphstore"
	"github.com/BaSui01/graphflow/internal/database"
	workerpool "github.com/BaSui01/graphflow/internal/pool"
	"github.com/BaSui01/graphflow/kb"
	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/retrieval"
	"github.com/BaSui01/graphflow/search"
	"github.com/BaSui01/graphflow/types"
)

// Option configures the engine created by [New].
type Option func(*Engine)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEmbedder sets the embedding provider used by all stores.
func WithEmbedder(embedder embedding.Provider) Option {
	return func(e *Engine) { e.embedder = embedder }
}

// WithLLMProvider sets the completion provider used for query
// decomposition and knowledge base selection.
func WithLLMProvider(provider llm.Provider) Option {
	return func(e *Engine) { e.llm = provider }
}

// WithDB injects a pre-built gorm DB, bypassing the DSN in the config.
func WithDB(db *gorm.DB) Option {
	return func(e *Engine) { e.db = db }
}

// WithMemoryStores makes the engine use in-memory stores instead of SQL.
// Intended for tests and small embedded scenarios.
func WithMemoryStores() Option {
	return func(e *Engine) { e.memoryOnly = true }
}

// kbRuntime 是一个已注册知识库的运行时对象集合.
type kbRuntime struct {
	base       kb.KnowledgeBase
	graphStore graphstore.GraphStore
	chunkStore chunkstore.ChunkStore
	searcher   *search.WeightedGraphSearcher
}

// Engine 把注册表, 存储层, 图搜索与融合检索装配成一个入口.
type Engine struct {
	cfg        config.Config
	logger     *zap.Logger
	db         *gorm.DB
	poolMgr    *database.PoolManager
	registry   *kb.Registry
	embedder   embedding.Provider
	llm        llm.Provider
	workers    *workerpool.GoroutinePool
	cache      *redis.Client
	memoryOnly bool

	mu       sync.RWMutex
	runtimes map[string]*kbRuntime
	order    []string
}

// New creates an engine from the given configuration.
// An embedding provider is required; the completion provider is
// optional and only needed for decomposition and non-ALL selection.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, runtimes: make(map[string]*kbRuntime)}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		logger, err := cfg.BuildLogger()
		if err != nil {
			return nil, err
		}
		e.logger = logger
	}
	if e.embedder == nil {
		if cfg.Embedding.BaseURL == "" {
			return nil, types.NewError(types.ErrConfiguration, "an embedding provider is required")
		}
		e.embedder = embedding.NewOpenAIProvider(cfg.Embedding)
		if cfg.Embedding.RPS > 0 {
			e.embedder = embedding.NewRateLimited(e.embedder, cfg.Embedding.RPS, cfg.Embedding.Burst)
		}
	}
	if e.llm == nil && cfg.LLM.BaseURL != "" {
		e.llm = llm.NewOpenAIProvider(cfg.LLM)
	}

	if !e.memoryOnly {
		if e.db == nil {
			if cfg.Database.DSN == "" {
				return nil, types.NewError(types.ErrConfiguration, "database dsn is empty; use WithMemoryStores for non-SQL usage")
			}
			db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Silent),
			})
			if err != nil {
				return nil, types.NewError(types.ErrUpstream, "open database").WithCause(err)
			}
			e.db = db
		}
		poolMgr, err := database.NewPoolManager(e.db, cfg.Database.Pool, e.logger)
		if err != nil {
			return nil, types.NewError(types.ErrConfiguration, "configure database pool").WithCause(err)
		}
		e.poolMgr = poolMgr
		e.registry = kb.NewRegistry(graphstore.NewSchemaManager(e.db, e.logger), e.logger)
	} else {
		e.registry = kb.NewRegistry(nil, e.logger)
	}

	if cfg.Cache.Enabled {
		e.cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
	}

	e.workers = workerpool.NewGoroutinePool(workerpool.DefaultGoroutinePoolConfig())
	e.logger.Info("graphflow engine initialized",
		zap.Bool("memory_only", e.memoryOnly),
		zap.String("select_mode", e.cfg.SelectMode))
	return e, nil
}

// AddKnowledgeBase 注册一个知识库: 绑定表结构并装配其存储与搜索器.
// 重复注册同一 ID 返回校验错误.
func (e *Engine) AddKnowledgeBase(ctx context.Context, base kb.KnowledgeBase) error {
	if err := base.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.runtimes[base.ID]; exists {
		return types.NewErrorf(types.ErrValidation, "knowledge base %s already registered", base.ID)
	}

	binding, err := e.registry.Bind(ctx, base)
	if err != nil {
		return err
	}

	rt := &kbRuntime{base: base}
	if e.memoryOnly {
		rt.graphStore = graphstore.NewMemoryGraphStore(e.embedder, e.cfg.DedupThreshold, e.logger)
		rt.chunkStore = chunkstore.NewMemoryChunkStore(e.embedder, e.logger)
	} else {
		rt.graphStore = graphstore.NewSQLGraphStore(e.db, binding, e.embedder, e.cfg.DedupThreshold, e.logger)
		rt.chunkStore = chunkstore.NewSQLChunkStore(e.db, binding, e.embedder, e.logger)
	}
	rt.searcher = search.NewWeightedGraphSearcher(rt.graphStore, e.embedder, e.cfg.Search, e.logger)

	e.runtimes[base.ID] = rt
	e.order = append(e.order, base.ID)
	e.logger.Info("knowledge base registered",
		zap.String("kb_id", base.ID),
		zap.String("namespace", binding.Namespace),
		zap.Int("dimension", binding.Dimension))
	return nil
}

// GraphStore 返回知识库的图谱存储.
func (e *Engine) GraphStore(kbID string) (graphstore.GraphStore, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.runtimes[kbID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "knowledge base %s not registered", kbID)
	}
	return rt.graphStore, nil
}

// ChunkStore 返回知识库的分块存储.
func (e *Engine) ChunkStore(kbID string) (chunkstore.ChunkStore, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.runtimes[kbID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "knowledge base %s not registered", kbID)
	}
	return rt.chunkStore, nil
}

// SaveGraph 把一次图谱抽取结果落库到指定知识库.
func (e *Engine) SaveGraph(ctx context.Context, kbID string, payload graphstore.GraphPayload) error {
	store, err := e.GraphStore(kbID)
	if err != nil {
		return err
	}
	return store.SaveGraph(ctx, payload)
}

// SaveChunks 把分块写入指定知识库.
func (e *Engine) SaveChunks(ctx context.Context, kbID string, creates []chunkstore.ChunkCreate) ([]chunkstore.Chunk, error) {
	store, err := e.ChunkStore(kbID)
	if err != nil {
		return nil, err
	}
	return store.SaveChunks(ctx, creates)
}

// Retriever 装配当前已注册知识库上的融合检索器.
func (e *Engine) Retriever() *retrieval.FusionRetriever {
	e.mu.RLock()
	defer e.mu.RUnlock()

	graphSources := make([]retrieval.GraphSource, 0, len(e.order))
	chunkSources := make([]retrieval.ChunkSource, 0, len(e.order))
	for _, id := range e.order {
		rt := e.runtimes[id]
		graphSources = append(graphSources, &retrieval.KBGraphSource{Base: rt.base, Searcher: rt.searcher})
		chunkSources = append(chunkSources, &retrieval.KBChunkSource{Base: rt.base, Store: rt.chunkStore})
	}

	var decomposer *retrieval.QueryDecomposer
	if e.llm != nil {
		decomposer = retrieval.NewQueryDecomposer(e.llm, e.logger)
	}
	selector := retrieval.NewSelector(e.llm, retrieval.SelectMode(e.cfg.SelectMode), e.logger)
	return retrieval.NewFusionRetriever(decomposer, selector, graphSources, chunkSources, e.workers, e.cfg.Fusion, e.logger)
}

// RetrieveKnowledgeGraph 在已注册知识库上执行融合图谱检索.
// 缓存开启时结果经过 Redis 缓存层.
func (e *Engine) RetrieveKnowledgeGraph(ctx context.Context, query string) (*retrieval.KnowledgeGraphResult, error) {
	retriever := e.Retriever()
	if e.cache != nil {
		return retrieval.NewCachedRetriever(retriever, e.cache, e.cfg.Cache, e.logger).RetrieveKnowledgeGraph(ctx, query)
	}
	return retriever.RetrieveKnowledgeGraph(ctx, query)
}

// RetrieveChunks 在已注册知识库上执行融合分块检索.
func (e *Engine) RetrieveChunks(ctx context.Context, query string) (*retrieval.ChunksResult, error) {
	return e.Retriever().RetrieveChunks(ctx, query)
}

// Close 释放引擎持有的资源.
func (e *Engine) Close() error {
	e.workers.Close()
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Warn("close cache client", zap.Error(err))
		}
	}
	if e.poolMgr != nil {
		return e.poolMgr.Close()
	}
	return nil
}
