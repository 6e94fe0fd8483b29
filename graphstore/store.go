// Package graphstore 持久化知识图谱的实体与关系, 并提供基于向量
// 相似度的两阶段搜索. 每个存储实例服务一个知识库.
package graphstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GraphStore 是单个知识库的图谱读写入口.
//
// 写路径上 FindOrCreateEntity 通过向量近邻做语义去重, 同一概念的
// 不同措辞会收敛到同一个实体节点. 搜索方法都遵循两阶段协议:
// 阶段一只按向量距离取 NumCandidates 个候选, 阶段二在候选内做
// 标量过滤与截断.
type GraphStore interface {
	// CreateEntity 无条件创建实体, 自动计算描述与元数据向量.
	CreateEntity(ctx context.Context, create EntityCreate) (*Entity, error)

	// FindOrCreateEntity 语义去重创建: 完全相同则复用, 近似措辞
	// (相似度达到去重阈值)也复用, 否则创建新实体.
	FindOrCreateEntity(ctx context.Context, create EntityCreate) (*Entity, error)

	GetEntity(ctx context.Context, id int64) (*Entity, error)
	ListEntities(ctx context.Context, filters EntityFilters, limit, offset int) ([]Entity, error)

	// UpdateEntity 应用部分更新; 描述或元数据变化时重算对应向量.
	UpdateEntity(ctx context.Context, id int64, update EntityUpdate) (*Entity, error)

	// DeleteEntity 删除实体及其关联的所有关系.
	DeleteEntity(ctx context.Context, id int64) error

	CreateRelationship(ctx context.Context, create RelationshipCreate) (*Relationship, error)
	GetRelationship(ctx context.Context, id int64) (*Relationship, error)
	ListRelationships(ctx context.Context, filters RelationshipFilters, limit, offset int) ([]Relationship, error)
	UpdateRelationship(ctx context.Context, id int64, update RelationshipUpdate) (*Relationship, error)
	DeleteRelationship(ctx context.Context, id int64) error

	// ListEntityRelationships 返回以该实体为任一端的全部关系.
	ListEntityRelationships(ctx context.Context, entityID int64) ([]Relationship, error)

	// SaveGraph 在单个事务里落库一次抽取结果. 同一 ChunkID 已有
	// 关系时整个载荷跳过, 保证重复摄入幂等.
	SaveGraph(ctx context.Context, payload GraphPayload) error

	// SearchSimilarEntities 两阶段实体搜索, 结果按相似度降序.
	SearchSimilarEntities(ctx context.Context, query string, opts EntitySearchOptions) ([]ScoredEntity, error)

	// SearchSimilarRelationships 两阶段关系搜索, 支持距离区间与
	// 端点/排除/元数据过滤, 结果按相似度降序.
	SearchSimilarRelationships(ctx context.Context, query string, opts RelationshipSearchOptions) ([]ScoredRelationship, error)

	// SearchSimilarRelationshipsByVector 同上, 但复用已计算的查询向量,
	// 多跳扩展逐跳调用时避免重复向量化.
	SearchSimilarRelationshipsByVector(ctx context.Context, queryVec []float32, opts RelationshipSearchOptions) ([]ScoredRelationship, error)

	// SearchSynopsisEntitiesByVector 按查询向量给概要实体排序后取前
	// limit 个. 概要实体数量很少, 走类型过滤全量扫描而非向量索引.
	SearchSynopsisEntitiesByVector(ctx context.Context, queryVec []float32, limit int) ([]Entity, error)

	// CalcEntityDegree 统计单个实体的出入度.
	CalcEntityDegree(ctx context.Context, entityID int64) (*EntityDegree, error)

	// BulkCalcEntitiesDegrees 批量统计出入度, 重排序阶段只用这一个入口.
	BulkCalcEntitiesDegrees(ctx context.Context, entityIDs []int64) (map[int64]*EntityDegree, error)

	// HasChunkRelationships 报告某分块是否已有落库关系.
	HasChunkRelationships(ctx context.Context, chunkID uuid.UUID) (bool, error)
}

// entityEmbedText 是实体向量化的规范文本. 去重依赖同一份文本在
// 相同向量模型下得到稳定的嵌入.
func entityEmbedText(name, description string) string {
	return fmt.Sprintf("%s: %s", name, description)
}

// relationshipEmbedText 把边连同两端实体的语境一起向量化.
func relationshipEmbedText(source, target *Entity, description string) string {
	return fmt.Sprintf("%s(%s) -> %s -> %s(%s)",
		source.Name, source.Description, description, target.Name, target.Description)
}
