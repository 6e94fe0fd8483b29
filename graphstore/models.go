package graphstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/graphflow/types"
)

// EntityType 区分原始实体与概要实体.
type EntityType string

const (
	// EntityTypeOriginal 由知识图谱抽取产生, 绑定到具体来源
	EntityTypeOriginal EntityType = "original"
	// EntityTypeSynopsis 是预先计算的主题级概要实体, 数量很少
	EntityTypeSynopsis EntityType = "synopsis"
)

// Entity 是知识图谱中的命名概念节点, 只属于一个知识库.
type Entity struct {
	ID             int64          `json:"id"`
	EntityType     EntityType     `json:"entity_type"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	DescriptionVec types.Vector   `json:"-"`
	Meta           map[string]any `json:"meta,omitempty"`
	MetaVec        types.Vector   `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Relationship 是两个实体之间的有向加权边.
// Weight 只在融合合并时累加, 单路径检索与存储写入都不修改它.
type Relationship struct {
	ID             int64          `json:"id"`
	SourceEntityID int64          `json:"source_entity_id"`
	TargetEntityID int64          `json:"target_entity_id"`
	Description    string         `json:"description"`
	DescriptionVec types.Vector   `json:"-"`
	Weight         int            `json:"weight"`
	Meta           map[string]any `json:"meta,omitempty"`
	DocumentID     int64          `json:"document_id,omitempty"`
	ChunkID        uuid.UUID      `json:"chunk_id,omitempty"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
}

// EntityDegree 是一个实体的出入度统计.
type EntityDegree struct {
	InDegree  int `json:"in_degree"`
	OutDegree int `json:"out_degree"`
	Degrees   int `json:"degrees"`
}

// ScoredEntity 是带相似度的实体搜索结果.
type ScoredEntity struct {
	Entity     Entity  `json:"entity"`
	Similarity float64 `json:"similarity"`
}

// ScoredRelationship 是带相似度的关系搜索结果.
type ScoredRelationship struct {
	Relationship Relationship `json:"relationship"`
	Similarity   float64      `json:"similarity"`
}

// EntityCreate 是创建实体的请求.
type EntityCreate struct {
	EntityType  EntityType     `json:"entity_type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// EntityUpdate 是部分更新, nil 字段保持不变.
type EntityUpdate struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// RelationshipCreate 是创建关系的请求, 两端实体必须已存在于同一知识库.
type RelationshipCreate struct {
	SourceEntityID int64          `json:"source_entity_id"`
	TargetEntityID int64          `json:"target_entity_id"`
	Description    string         `json:"description"`
	Meta           map[string]any `json:"meta,omitempty"`
	DocumentID     int64          `json:"document_id,omitempty"`
	ChunkID        uuid.UUID      `json:"chunk_id,omitempty"`
}

// RelationshipUpdate 是部分更新, nil 字段保持不变.
type RelationshipUpdate struct {
	Description *string        `json:"description,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// EntityFilters 过滤实体列表.
type EntityFilters struct {
	EntityType EntityType `json:"entity_type,omitempty"`
	// Search 对 name/description 做子串匹配
	Search string `json:"search,omitempty"`
	IDs    []int64 `json:"ids,omitempty"`
}

// RelationshipFilters 过滤关系列表.
type RelationshipFilters struct {
	SourceEntityID int64       `json:"source_entity_id,omitempty"`
	TargetEntityID int64       `json:"target_entity_id,omitempty"`
	EntityID       int64       `json:"entity_id,omitempty"` // 任一端匹配
	IDs            []int64     `json:"ids,omitempty"`
	ChunkIDs       []uuid.UUID `json:"chunk_ids,omitempty"`
	Search         string      `json:"search,omitempty"`
}

// DistanceRange 限定向量距离区间 [Min, Max].
type DistanceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// EntitySearchOptions 配置两阶段实体搜索.
type EntitySearchOptions struct {
	TopK int `json:"top_k"`
	// NumCandidates 是阶段一从 ANN 索引取回的候选数, 默认 TopK*10
	NumCandidates int        `json:"num_candidates"`
	EntityType    EntityType `json:"entity_type"`
	// SimilarityThreshold <= 0 表示不过滤; 阈值语义是相似度而非距离
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// RelationshipSearchOptions 配置两阶段关系搜索.
type RelationshipSearchOptions struct {
	TopK                int            `json:"top_k"`
	NumCandidates       int            `json:"num_candidates"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	DistanceRange       *DistanceRange `json:"distance_range,omitempty"`
	SourceEntityIDs     []int64        `json:"source_entity_ids,omitempty"`
	TargetEntityIDs     []int64        `json:"target_entity_ids,omitempty"`
	ExcludeIDs          []int64        `json:"exclude_ids,omitempty"`
	// MetadataFilters 按键做等值匹配, 值为切片时做包含匹配
	MetadataFilters map[string]any `json:"metadata_filters,omitempty"`
}

func (o *EntitySearchOptions) normalize() {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.NumCandidates <= 0 {
		o.NumCandidates = o.TopK * 10
	}
	if o.EntityType == "" {
		o.EntityType = EntityTypeOriginal
	}
}

func (o *RelationshipSearchOptions) normalize() {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.NumCandidates <= 0 {
		o.NumCandidates = o.TopK * 10
	}
}

// GraphPayload 是一次图谱抽取调用要落库的实体与关系.
// 同一 ChunkID 的载荷只会生效一次.
type GraphPayload struct {
	ChunkID       uuid.UUID          `json:"chunk_id"`
	DocumentID    int64              `json:"document_id,omitempty"`
	Meta          map[string]any     `json:"meta,omitempty"`
	Entities      []EntityCreate     `json:"entities"`
	Relationships []RelationshipSpec `json:"relationships"`
}

// RelationshipSpec 以实体名引用两端, 落库时解析为实体 ID.
type RelationshipSpec struct {
	SourceName  string         `json:"source_name"`
	TargetName  string         `json:"target_name"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
}
