package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/chunkstore"
	"github.com/BaSui01/graphflow/internal/pool"
	"github.com/BaSui01/graphflow/kb"
	"github.com/BaSui01/graphflow/search"
	"github.com/BaSui01/graphflow/types"
)

// GraphSource 是单个知识库上的图谱检索入口.
type GraphSource interface {
	Descriptor() kb.Descriptor
	Search(ctx context.Context, query string) (*search.Result, error)
}

// ChunkSource 是单个知识库上的分块检索入口.
type ChunkSource interface {
	Descriptor() kb.Descriptor
	Search(ctx context.Context, query string) ([]chunkstore.ScoredChunk, error)
}

// KBGraphSource 把加权图搜索器绑定到一个知识库.
type KBGraphSource struct {
	Base     kb.KnowledgeBase
	Searcher *search.WeightedGraphSearcher
}

func (s *KBGraphSource) Descriptor() kb.Descriptor { return s.Base.ToDescriptor() }

func (s *KBGraphSource) Search(ctx context.Context, query string) (*search.Result, error) {
	return s.Searcher.Search(ctx, query)
}

// KBChunkSource 把分块存储绑定到一个知识库.
type KBChunkSource struct {
	Base  kb.KnowledgeBase
	Store chunkstore.ChunkStore
	Opts  chunkstore.SearchOptions
}

func (s *KBChunkSource) Descriptor() kb.Descriptor { return s.Base.ToDescriptor() }

func (s *KBChunkSource) Search(ctx context.Context, query string) ([]chunkstore.ScoredChunk, error) {
	return s.Store.SearchSimilarChunks(ctx, query, s.Opts)
}

// FusionConfig 配置融合检索器.
type FusionConfig struct {
	// PairTimeout 是单个 (子查询, 知识库) 对的超时
	PairTimeout time.Duration `yaml:"pair_timeout" json:"pair_timeout"`
	// KeepSubGraphs 保留每个对的未融合子图
	KeepSubGraphs bool `yaml:"keep_sub_graphs" json:"keep_sub_graphs"`
}

// DefaultFusionConfig 返回默认融合配置.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{PairTimeout: 30 * time.Second}
}

// FusionRetriever 把一次查询扇出到 (子查询 x 知识库) 的每个组合,
// 并把各组合的结果确定性地融合为一个产出. 部分组合失败只记录
// 注解, 全部失败才返回错误.
type FusionRetriever struct {
	decomposer   *QueryDecomposer
	selector     *Selector
	graphSources []GraphSource
	chunkSources []ChunkSource
	workers      *pool.GoroutinePool
	cfg          FusionConfig
	logger       *zap.Logger
}

// NewFusionRetriever 创建融合检索器. decomposer 为 nil 时不做分解,
// workers 为 nil 时内部创建默认并发池.
func NewFusionRetriever(
	decomposer *QueryDecomposer,
	selector *Selector,
	graphSources []GraphSource,
	chunkSources []ChunkSource,
	workers *pool.GoroutinePool,
	cfg FusionConfig,
	logger *zap.Logger,
) *FusionRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers == nil {
		workers = pool.NewGoroutinePool(pool.DefaultGoroutinePoolConfig())
	}
	if cfg.PairTimeout <= 0 {
		cfg.PairTimeout = 30 * time.Second
	}
	return &FusionRetriever{
		decomposer:   decomposer,
		selector:     selector,
		graphSources: graphSources,
		chunkSources: chunkSources,
		workers:      workers,
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "fusion_retriever")),
	}
}

func (f *FusionRetriever) subQueries(ctx context.Context, query string) []SubQuestion {
	if f.decomposer == nil {
		return []SubQuestion{{Question: query}}
	}
	return f.decomposer.Decompose(ctx, query)
}

// selectPerSubQuery 逐个子查询路由知识库, 相同文本的子查询只路由一次.
func (f *FusionRetriever) selectPerSubQuery(ctx context.Context, subQueries []SubQuestion, descriptors []kb.Descriptor) (map[string][]int, error) {
	selections := make(map[string][]int, len(subQueries))
	for _, sq := range subQueries {
		if _, ok := selections[sq.Question]; ok {
			continue
		}
		selected, err := f.selector.Select(ctx, sq.Question, descriptors)
		if err != nil {
			return nil, err
		}
		selections[sq.Question] = selected
	}
	return selections, nil
}

// RetrieveKnowledgeGraph 在选中的知识库上并发执行图谱检索并融合.
func (f *FusionRetriever) RetrieveKnowledgeGraph(ctx context.Context, query string) (*KnowledgeGraphResult, error) {
	if query == "" {
		return nil, types.NewError(types.ErrValidation, "query is empty")
	}
	descriptors := make([]kb.Descriptor, len(f.graphSources))
	for i, src := range f.graphSources {
		descriptors[i] = src.Descriptor()
	}
	subQueries := f.subQueries(ctx, query)
	// 分解出的子问题可能指向不同的库, 路由按子查询分别决策
	selections, err := f.selectPerSubQuery(ctx, subQueries, descriptors)
	if err != nil {
		return nil, err
	}

	type graphPair struct {
		query  string
		source GraphSource
	}
	pairs := make([]graphPair, 0, len(subQueries)*len(descriptors))
	seenKB := make(map[string]struct{})
	selectedKBs := make([]kb.Descriptor, 0, len(descriptors))
	for _, sq := range subQueries {
		for _, idx := range selections[sq.Question] {
			pairs = append(pairs, graphPair{query: sq.Question, source: f.graphSources[idx]})
			if _, seen := seenKB[descriptors[idx].ID]; !seen {
				seenKB[descriptors[idx].ID] = struct{}{}
				selectedKBs = append(selectedKBs, descriptors[idx])
			}
		}
	}

	subGraphs := make([]*SubGraphResult, len(pairs))
	pairErrs := make([]*PairError, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		i, p := i, p
		task := func(taskCtx context.Context) error {
			defer wg.Done()
			pairCtx, cancel := context.WithTimeout(taskCtx, f.cfg.PairTimeout)
			defer cancel()
			result, err := p.source.Search(pairCtx, p.query)
			if err != nil {
				pairErrs[i] = &PairError{
					Query:           p.query,
					KnowledgeBaseID: p.source.Descriptor().ID,
					Message:         err.Error(),
				}
				return nil
			}
			subGraphs[i] = toSubGraph(p.query, p.source.Descriptor(), result)
			return nil
		}
		if err := f.workers.Submit(ctx, task); err != nil {
			pairErrs[i] = &PairError{
				Query:           p.query,
				KnowledgeBaseID: p.source.Descriptor().ID,
				Message:         err.Error(),
			}
			wg.Done()
		}
	}
	wg.Wait()

	collected := make([]SubGraphResult, 0, len(pairs))
	errs := make([]PairError, 0)
	for i := range pairs {
		if subGraphs[i] != nil {
			collected = append(collected, *subGraphs[i])
		}
		if pairErrs[i] != nil {
			errs = append(errs, *pairErrs[i])
		}
	}
	if len(collected) == 0 && len(errs) > 0 {
		return nil, types.NewErrorf(types.ErrUpstream,
			"all %d retrieval pairs failed, first: %s", len(errs), errs[0].Message)
	}

	entities, relationships := FuseSubGraphs(collected)
	result := &KnowledgeGraphResult{
		Query:          query,
		KnowledgeBases: selectedKBs,
		Entities:       entities,
		Relationships:  relationships,
		Errors:         errs,
	}
	if f.cfg.KeepSubGraphs {
		result.SubGraphs = collected
	}
	f.logger.Debug("knowledge graph retrieval fused",
		zap.Int("pairs", len(pairs)),
		zap.Int("failed_pairs", len(errs)),
		zap.Int("entities", len(entities)),
		zap.Int("relationships", len(relationships)))
	return result, nil
}

// RetrieveChunks 在选中的知识库上并发执行分块检索并融合.
func (f *FusionRetriever) RetrieveChunks(ctx context.Context, query string) (*ChunksResult, error) {
	if query == "" {
		return nil, types.NewError(types.ErrValidation, "query is empty")
	}
	descriptors := make([]kb.Descriptor, len(f.chunkSources))
	for i, src := range f.chunkSources {
		descriptors[i] = src.Descriptor()
	}
	subQueries := f.subQueries(ctx, query)
	selections, err := f.selectPerSubQuery(ctx, subQueries, descriptors)
	if err != nil {
		return nil, err
	}

	type chunkPair struct {
		query  string
		source ChunkSource
	}
	pairs := make([]chunkPair, 0, len(subQueries)*len(descriptors))
	seenKB := make(map[string]struct{})
	selectedKBs := make([]kb.Descriptor, 0, len(descriptors))
	for _, sq := range subQueries {
		for _, idx := range selections[sq.Question] {
			pairs = append(pairs, chunkPair{query: sq.Question, source: f.chunkSources[idx]})
			if _, seen := seenKB[descriptors[idx].ID]; !seen {
				seenKB[descriptors[idx].ID] = struct{}{}
				selectedKBs = append(selectedKBs, descriptors[idx])
			}
		}
	}

	results := make([][]RetrievedChunk, len(pairs))
	pairErrs := make([]*PairError, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		i, p := i, p
		task := func(taskCtx context.Context) error {
			defer wg.Done()
			pairCtx, cancel := context.WithTimeout(taskCtx, f.cfg.PairTimeout)
			defer cancel()
			scored, err := p.source.Search(pairCtx, p.query)
			if err != nil {
				pairErrs[i] = &PairError{
					Query:           p.query,
					KnowledgeBaseID: p.source.Descriptor().ID,
					Message:         err.Error(),
				}
				return nil
			}
			chunks := make([]RetrievedChunk, 0, len(scored))
			for _, sc := range scored {
				chunks = append(chunks, RetrievedChunk{
					Chunk:         sc.Chunk,
					KnowledgeBase: p.source.Descriptor(),
					Score:         sc.Similarity,
				})
			}
			results[i] = chunks
			return nil
		}
		if err := f.workers.Submit(ctx, task); err != nil {
			pairErrs[i] = &PairError{
				Query:           p.query,
				KnowledgeBaseID: p.source.Descriptor().ID,
				Message:         err.Error(),
			}
			wg.Done()
		}
	}
	wg.Wait()

	errs := make([]PairError, 0)
	groups := make([][]RetrievedChunk, 0, len(pairs))
	succeeded := 0
	for i := range pairs {
		if pairErrs[i] != nil {
			errs = append(errs, *pairErrs[i])
			continue
		}
		succeeded++
		groups = append(groups, results[i])
	}
	if succeeded == 0 && len(errs) > 0 {
		return nil, types.NewErrorf(types.ErrUpstream,
			"all %d retrieval pairs failed, first: %s", len(errs), errs[0].Message)
	}

	return &ChunksResult{
		Query:          query,
		KnowledgeBases: selectedKBs,
		Chunks:         FuseChunks(groups),
		Errors:         errs,
	}, nil
}

func toSubGraph(query string, descriptor kb.Descriptor, result *search.Result) *SubGraphResult {
	sub := &SubGraphResult{Query: query, KnowledgeBase: descriptor}
	for _, e := range result.Entities {
		sub.Entities = append(sub.Entities, RetrievedEntity{
			Entity:        e,
			GlobalID:      GlobalEntityID(descriptor.ID, e.ID),
			KnowledgeBase: descriptor,
		})
	}
	for _, r := range result.Relationships {
		sub.Relationships = append(sub.Relationships, RetrievedRelationship{
			Relationship:   r.Relationship,
			GlobalID:       GlobalRelationshipID(descriptor.ID, r.Relationship.ID),
			SourceGlobalID: GlobalEntityID(descriptor.ID, r.Relationship.SourceEntityID),
			TargetGlobalID: GlobalEntityID(descriptor.ID, r.Relationship.TargetEntityID),
			KnowledgeBase:  descriptor,
			Score:          r.Score,
		})
	}
	return sub
}

// FuseSubGraphs 把多个子图融合为一个: 实体按全局 ID 并集去重,
// 关系按 (源, 目标, 描述) 分组, 合并副本上累加权重并保留最高分.
// 融合对子图顺序交换与结合封闭, 结果与并发完成顺序无关.
func FuseSubGraphs(subs []SubGraphResult) ([]RetrievedEntity, []RetrievedRelationship) {
	entityByID := make(map[string]RetrievedEntity)
	entityOrder := make([]string, 0)
	for _, sub := range subs {
		for _, e := range sub.Entities {
			if _, seen := entityByID[e.GlobalID]; !seen {
				entityByID[e.GlobalID] = e
				entityOrder = append(entityOrder, e.GlobalID)
			}
		}
	}

	type relKey struct {
		source, target, description string
	}
	relByKey := make(map[relKey]RetrievedRelationship)
	relOrder := make([]relKey, 0)
	for _, sub := range subs {
		for _, r := range sub.Relationships {
			key := relKey{source: r.SourceGlobalID, target: r.TargetGlobalID, description: r.Description}
			existing, seen := relByKey[key]
			if !seen {
				relByKey[key] = r
				relOrder = append(relOrder, key)
				continue
			}
			existing.Weight += r.Weight
			if r.Score > existing.Score {
				existing.Score = r.Score
			}
			relByKey[key] = existing
		}
	}

	sort.Strings(entityOrder)
	sort.Slice(relOrder, func(i, j int) bool {
		a, b := relOrder[i], relOrder[j]
		if a.source != b.source {
			return a.source < b.source
		}
		if a.target != b.target {
			return a.target < b.target
		}
		return a.description < b.description
	})

	entities := make([]RetrievedEntity, 0, len(entityOrder))
	for _, id := range entityOrder {
		entities = append(entities, entityByID[id])
	}
	relationships := make([]RetrievedRelationship, 0, len(relOrder))
	for _, key := range relOrder {
		relationships = append(relationships, relByKey[key])
	}
	return entities, relationships
}

// FuseChunks 按内容哈希去重, 同内容保留最高分, 结果按分数降序.
// 分数相同时按哈希定序, 保证输出确定.
func FuseChunks(groups [][]RetrievedChunk) []RetrievedChunk {
	type entry struct {
		chunk RetrievedChunk
		hash  string
	}
	byHash := make(map[string]entry)
	for _, group := range groups {
		for _, c := range group {
			h := contentHash(c.Content)
			existing, seen := byHash[h]
			if !seen || c.Score > existing.chunk.Score {
				byHash[h] = entry{chunk: c, hash: h}
			}
		}
	}
	out := make([]entry, 0, len(byHash))
	for _, e := range byHash {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].chunk.Score != out[j].chunk.Score {
			return out[i].chunk.Score > out[j].chunk.Score
		}
		return out[i].hash < out[j].hash
	})
	chunks := make([]RetrievedChunk, 0, len(out))
	for _, e := range out {
		chunks = append(chunks, e.chunk)
	}
	return chunks
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
