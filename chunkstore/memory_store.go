package chunkstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/graphstore"
	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/types"
)

// MemoryChunkStore 是 ChunkStore 的内存实现, 向量检索为全量线性扫描.
type MemoryChunkStore struct {
	mu       sync.RWMutex
	chunks   map[uuid.UUID]*Chunk
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewMemoryChunkStore 创建内存分块存储.
func NewMemoryChunkStore(embedder embedding.Provider, logger *zap.Logger) *MemoryChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryChunkStore{
		chunks:   make(map[uuid.UUID]*Chunk),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "memory_chunk_store")),
	}
}

// SaveChunks 批量写入分块.
func (s *MemoryChunkStore) SaveChunks(ctx context.Context, creates []ChunkCreate) ([]Chunk, error) {
	if len(creates) == 0 {
		return nil, nil
	}
	texts := make([]string, len(creates))
	for i, c := range creates {
		if c.Content == "" {
			return nil, types.NewError(types.ErrValidation, "chunk content is empty")
		}
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, 0, len(creates))
	for i, c := range creates {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		chunk := &Chunk{
			ID:         id,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			ContentVec: vecs[i],
			Meta:       c.Meta,
			CreatedAt:  time.Now(),
		}
		s.chunks[id] = chunk
		out = append(out, *chunk)
	}
	return out, nil
}

// GetChunk 按 ID 取分块.
func (s *MemoryChunkStore) GetChunk(ctx context.Context, id uuid.UUID) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "chunk %s not found", id)
	}
	clone := *c
	return &clone, nil
}

// SearchSimilarChunks 两阶段分块搜索.
func (s *MemoryChunkStore) SearchSimilarChunks(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error) {
	opts.normalize()
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(s.chunks))
	cands := make([]graphstore.Candidate, 0, len(s.chunks))
	for _, c := range s.chunks {
		cands = append(cands, graphstore.Candidate{
			Index:    len(ids),
			Distance: graphstore.CosineDistance(vec, c.ContentVec),
		})
		ids = append(ids, c.ID)
	}
	ranked := graphstore.RankTwoPhase(cands, opts.NumCandidates, opts.TopK, opts.SimilarityThreshold)

	out := make([]ScoredChunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, ScoredChunk{Chunk: *s.chunks[ids[r.Index]], Similarity: r.Similarity})
	}
	return out, nil
}

// DeleteChunk 删除单个分块.
func (s *MemoryChunkStore) DeleteChunk(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[id]; !ok {
		return types.NewErrorf(types.ErrNotFound, "chunk %s not found", id)
	}
	delete(s.chunks, id)
	return nil
}
