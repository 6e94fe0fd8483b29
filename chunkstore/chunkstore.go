// Package chunkstore 持久化文档分块并提供向量相似度检索.
// 分块与图谱实体/关系共享同一套两阶段搜索协议.
package chunkstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/graphflow/types"
)

// Chunk 是一段带向量的文档切片.
type Chunk struct {
	ID         uuid.UUID      `json:"id"`
	DocumentID int64          `json:"document_id,omitempty"`
	Content    string         `json:"content"`
	ContentVec types.Vector   `json:"-"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ChunkCreate 是写入请求, ID 为空时自动生成.
type ChunkCreate struct {
	ID         uuid.UUID      `json:"id,omitempty"`
	DocumentID int64          `json:"document_id,omitempty"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ScoredChunk 是带相似度的检索结果.
type ScoredChunk struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// SearchOptions 配置两阶段分块搜索.
type SearchOptions struct {
	TopK          int `json:"top_k"`
	NumCandidates int `json:"num_candidates"`
	// SimilarityThreshold <= 0 表示不过滤
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

func (o *SearchOptions) normalize() {
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.NumCandidates <= 0 {
		o.NumCandidates = o.TopK * 10
	}
}

// ChunkStore 是单个知识库的分块读写入口.
type ChunkStore interface {
	// SaveChunks 批量写入分块并计算内容向量, 同 ID 重复写入覆盖旧值.
	SaveChunks(ctx context.Context, creates []ChunkCreate) ([]Chunk, error)

	GetChunk(ctx context.Context, id uuid.UUID) (*Chunk, error)

	// SearchSimilarChunks 两阶段分块搜索, 结果按相似度降序.
	SearchSimilarChunks(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error)

	DeleteChunk(ctx context.Context, id uuid.UUID) error
}
