// Package search 实现知识图谱上的加权多跳扩展检索.
// 第一跳在全距离区间取最相关的关系, 后续每跳按距离分段逐段扩展,
// 候选按 语义距离 + 边权重 + 端点度数 的复合分数重排.
package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/graphstore"
	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/types"
)

// WeightBand 给一段边权重区间指定计分系数.
type WeightBand struct {
	Min         float64
	Max         float64
	Coefficient float64
}

// RangeBand 给一段向量距离区间指定搜索配额比例.
// 比例为 1 的段不计入进度, 表示在该段尽量多取.
type RangeBand struct {
	Range graphstore.DistanceRange
	Ratio float64
}

// DefaultWeightCoefficients 是边权重的递减计分段.
func DefaultWeightCoefficients() []WeightBand {
	return []WeightBand{
		{Min: 0, Max: 100, Coefficient: 0.01},
		{Min: 100, Max: 1000, Coefficient: 0.001},
		{Min: 1000, Max: 10000, Coefficient: 0.0001},
		{Min: 10000, Max: maxWeightBound, Coefficient: 0.00001},
	}
}

const maxWeightBound = 1e18

// DefaultRangeSearchConfig 是逐跳扩展的距离分段.
// 除比例为 1 的段外, 其余比例之和应为 1.
func DefaultRangeSearchConfig() []RangeBand {
	return []RangeBand{
		{Range: graphstore.DistanceRange{Min: 0, Max: 0.25}, Ratio: 1},
		{Range: graphstore.DistanceRange{Min: 0.25, Max: 0.35}, Ratio: 0.7},
		{Range: graphstore.DistanceRange{Min: 0.35, Max: 0.45}, Ratio: 0.2},
		{Range: graphstore.DistanceRange{Min: 0.45, Max: 0.55}, Ratio: 0.1},
	}
}

// Config 配置加权图搜索.
type Config struct {
	// Depth 是扩展的总跳数, 最小 1
	Depth int `yaml:"depth" json:"depth"`
	// MaxNeighbors 是每跳接受的关系数上限
	MaxNeighbors int `yaml:"max_neighbors" json:"max_neighbors"`
	// Alpha 是语义距离项 1/distance 的系数
	Alpha float64 `yaml:"alpha" json:"alpha"`
	// WithDegree 打开端点度数计分, 会触发批量度数查询
	WithDegree bool `yaml:"with_degree" json:"with_degree"`
	// DegreeCoefficient 是 (入度 - 出度) 的系数
	DegreeCoefficient float64 `yaml:"degree_coefficient" json:"degree_coefficient"`
	// SynopsisCount 是注入的概要实体数量, 0 关闭注入
	SynopsisCount int `yaml:"synopsis_count" json:"synopsis_count"`

	WeightCoefficients []WeightBand   `yaml:"-" json:"-"`
	RangeSearchConfig  []RangeBand    `yaml:"-" json:"-"`
	MetadataFilters    map[string]any `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认搜索配置.
func DefaultConfig() Config {
	return Config{
		Depth:              2,
		MaxNeighbors:       10,
		Alpha:              1,
		WithDegree:         false,
		DegreeCoefficient:  0.001,
		SynopsisCount:      2,
		WeightCoefficients: DefaultWeightCoefficients(),
		RangeSearchConfig:  DefaultRangeSearchConfig(),
	}
}

func (c *Config) normalize() {
	if c.Depth < 1 {
		c.Depth = 1
	}
	if c.MaxNeighbors <= 0 {
		c.MaxNeighbors = 10
	}
	if c.Alpha == 0 {
		c.Alpha = 1
	}
	if c.DegreeCoefficient == 0 {
		c.DegreeCoefficient = 0.001
	}
	if len(c.WeightCoefficients) == 0 {
		c.WeightCoefficients = DefaultWeightCoefficients()
	}
	if len(c.RangeSearchConfig) == 0 {
		c.RangeSearchConfig = DefaultRangeSearchConfig()
	}
}

// RelationshipWithScore 是一条扩展结果, Score 是复合重排分数而非原始相似度.
type RelationshipWithScore struct {
	Relationship graphstore.Relationship `json:"relationship"`
	Score        float64                 `json:"score"`
}

// Result 是一次图搜索的产出.
type Result struct {
	Relationships []RelationshipWithScore `json:"relationships"`
	Entities      []graphstore.Entity     `json:"entities"`
}

// WeightedGraphSearcher 在单个知识库上执行加权多跳搜索.
type WeightedGraphSearcher struct {
	store    graphstore.GraphStore
	embedder embedding.Provider
	cfg      Config
	logger   *zap.Logger
}

// NewWeightedGraphSearcher 创建搜索器.
func NewWeightedGraphSearcher(store graphstore.GraphStore, embedder embedding.Provider, cfg Config, logger *zap.Logger) *WeightedGraphSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.normalize()
	return &WeightedGraphSearcher{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "weighted_graph_search")),
	}
}

// Search 向量化查询后执行多跳扩展. 查询只向量化一次, 逐跳复用.
func (s *WeightedGraphSearcher) Search(ctx context.Context, query string) (*Result, error) {
	if query == "" {
		return nil, types.NewError(types.ErrValidation, "query is empty")
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchByVector(ctx, vec)
}

// SearchByVector 用已计算的查询向量执行多跳扩展.
func (s *WeightedGraphSearcher) SearchByVector(ctx context.Context, queryVec types.Vector) (*Result, error) {
	visitedRels := make(map[int64]struct{})
	visitedEntities := make(map[int64]struct{})
	accepted := make([]RelationshipWithScore, 0, s.cfg.MaxNeighbors*s.cfg.Depth)

	record := func(rels []RelationshipWithScore) {
		for _, r := range rels {
			visitedRels[r.Relationship.ID] = struct{}{}
			visitedEntities[r.Relationship.SourceEntityID] = struct{}{}
			visitedEntities[r.Relationship.TargetEntityID] = struct{}{}
			accepted = append(accepted, r)
		}
	}

	// 第一跳: 全距离区间, 不限制源实体
	first, err := s.expand(ctx, queryVec, nil, nil, nil, s.cfg.MaxNeighbors)
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return &Result{}, nil
	}
	record(first)

	for hop := 1; hop < s.cfg.Depth; hop++ {
		actual := 0
		progress := 0.0
		for _, band := range s.cfg.RangeSearchConfig {
			remaining := s.cfg.MaxNeighbors - actual
			if remaining <= 0 {
				break
			}
			// 累积式配额: 前面分段取不满时, 后面的分段补齐差额
			var expected int
			if progress*float64(s.cfg.MaxNeighbors) > float64(actual) {
				expected = int((band.Ratio+progress)*float64(s.cfg.MaxNeighbors) - float64(actual))
			} else {
				expected = int(band.Ratio * float64(s.cfg.MaxNeighbors))
			}
			if expected > remaining {
				expected = remaining
			}
			if expected <= 0 {
				continue
			}

			distRange := band.Range
			rels, err := s.expand(ctx, queryVec, &distRange, idSetToSlice(visitedEntities), idSetToSlice(visitedRels), expected)
			if err != nil {
				return nil, err
			}
			record(rels)

			actual += len(rels)
			// 比例为 1 的段表示尽量多取, 不推进进度
			if band.Ratio != 1 {
				progress += band.Ratio
			}
		}
	}

	entities, err := s.collectEntities(ctx, visitedEntities)
	if err != nil {
		return nil, err
	}

	// 概要实体与跳数无关, 按同一个查询向量取最相关的几个注入
	if s.cfg.SynopsisCount > 0 {
		synopsis, err := s.store.SearchSynopsisEntitiesByVector(ctx, queryVec, s.cfg.SynopsisCount)
		if err != nil {
			return nil, err
		}
		for _, e := range synopsis {
			if _, seen := visitedEntities[e.ID]; !seen {
				entities = append(entities, e)
			}
		}
	}

	s.logger.Debug("graph search completed",
		zap.Int("relationships", len(accepted)),
		zap.Int("entities", len(entities)),
		zap.Int("depth", s.cfg.Depth))
	return &Result{Relationships: accepted, Entities: entities}, nil
}

// expand 执行一次受限搜索并重排. sourceIDs 为 nil 时不限制扩展源.
func (s *WeightedGraphSearcher) expand(
	ctx context.Context,
	queryVec types.Vector,
	distRange *graphstore.DistanceRange,
	sourceIDs, excludeIDs []int64,
	topK int,
) ([]RelationshipWithScore, error) {
	if distRange == nil {
		distRange = &graphstore.DistanceRange{Min: 0, Max: 1}
	}
	scored, err := s.store.SearchSimilarRelationshipsByVector(ctx, queryVec, graphstore.RelationshipSearchOptions{
		TopK:            s.cfg.MaxNeighbors,
		DistanceRange:   distRange,
		SourceEntityIDs: sourceIDs,
		ExcludeIDs:      excludeIDs,
		MetadataFilters: s.cfg.MetadataFilters,
	})
	if err != nil {
		return nil, err
	}
	return s.rerank(ctx, scored, topK)
}

// rerank 按复合分数重排并截断.
func (s *WeightedGraphSearcher) rerank(ctx context.Context, scored []graphstore.ScoredRelationship, topK int) ([]RelationshipWithScore, error) {
	degrees := map[int64]*graphstore.EntityDegree{}
	if s.cfg.WithDegree && len(scored) > 0 {
		idSet := make(map[int64]struct{}, len(scored)*2)
		for _, sr := range scored {
			idSet[sr.Relationship.SourceEntityID] = struct{}{}
			idSet[sr.Relationship.TargetEntityID] = struct{}{}
		}
		var err error
		degrees, err = s.store.BulkCalcEntitiesDegrees(ctx, idSetToSlice(idSet))
		if err != nil {
			return nil, err
		}
	}

	out := make([]RelationshipWithScore, 0, len(scored))
	for _, sr := range scored {
		distance := 1 - sr.Similarity
		var inDeg, outDeg int
		if d := degrees[sr.Relationship.SourceEntityID]; d != nil {
			inDeg = d.InDegree
		}
		if d := degrees[sr.Relationship.TargetEntityID]; d != nil {
			outDeg = d.OutDegree
		}
		out = append(out, RelationshipWithScore{
			Relationship: sr.Relationship,
			Score:        s.compositeScore(distance, sr.Relationship.Weight, inDeg, outDeg),
		})
	}
	sortByScoreDesc(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// compositeScore = alpha * (1/distance) + weightScore + degreeScore.
// 距离为 0 时钳制到一个极小值, 避免除零.
func (s *WeightedGraphSearcher) compositeScore(distance float64, weight, inDegree, outDegree int) float64 {
	const minDistance = 1e-6
	if distance < minDistance {
		distance = minDistance
	}
	score := s.cfg.Alpha * (1 / distance)
	score += s.weightScore(float64(weight))
	if s.cfg.WithDegree {
		score += float64(inDegree-outDegree) * s.cfg.DegreeCoefficient
	}
	return score
}

// weightScore 分段递减计分: 每段只对落入该段的权重量乘以段系数.
func (s *WeightedGraphSearcher) weightScore(weight float64) float64 {
	score := 0.0
	remaining := weight
	for _, band := range s.cfg.WeightCoefficients {
		if remaining <= 0 {
			break
		}
		applicable := band.Max - band.Min
		if remaining < applicable {
			applicable = remaining
		}
		score += applicable * band.Coefficient
		remaining -= applicable
	}
	return score
}

func (s *WeightedGraphSearcher) collectEntities(ctx context.Context, idSet map[int64]struct{}) ([]graphstore.Entity, error) {
	if len(idSet) == 0 {
		return nil, nil
	}
	return s.store.ListEntities(ctx, graphstore.EntityFilters{IDs: idSetToSlice(idSet)}, 0, 0)
}

func sortByScoreDesc(rels []RelationshipWithScore) {
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].Score > rels[j].Score })
}

func idSetToSlice(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
