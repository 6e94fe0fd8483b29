package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/graphflow/kb"
	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/types"
)

// SQLChunkStore 是基于 PostgreSQL + pgvector 的 ChunkStore 实现.
type SQLChunkStore struct {
	db       *gorm.DB
	binding  *kb.TableBinding
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewSQLChunkStore 创建 SQL 分块存储.
func NewSQLChunkStore(db *gorm.DB, binding *kb.TableBinding, embedder embedding.Provider, logger *zap.Logger) *SQLChunkStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLChunkStore{
		db:       db,
		binding:  binding,
		embedder: embedder,
		logger: logger.With(
			zap.String("component", "sql_chunk_store"),
			zap.String("namespace", binding.Namespace)),
	}
}

type chunkRow struct {
	ID         uuid.UUID       `gorm:"column:id;primaryKey"`
	DocumentID int64           `gorm:"column:document_id"`
	Content    string          `gorm:"column:content"`
	ContentVec pgvector.Vector `gorm:"column:content_vec"`
	Meta       []byte          `gorm:"column:meta"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

type chunkSearchRow struct {
	chunkRow
	Distance float64 `gorm:"column:distance"`
}

func (r *chunkRow) toChunk() (*Chunk, error) {
	var meta map[string]any
	if len(r.Meta) > 0 {
		if err := json.Unmarshal(r.Meta, &meta); err != nil {
			return nil, types.NewError(types.ErrUpstream, "malformed meta column").WithCause(err)
		}
	}
	return &Chunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Content:    r.Content,
		ContentVec: r.ContentVec.Slice(),
		Meta:       meta,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func (s *SQLChunkStore) table(tx *gorm.DB) *gorm.DB {
	return tx.Table(s.binding.ChunksTable)
}

// SaveChunks 在单个事务里批量写入分块, 同 ID 覆盖旧值.
func (s *SQLChunkStore) SaveChunks(ctx context.Context, creates []ChunkCreate) ([]Chunk, error) {
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

	out := make([]Chunk, 0, len(creates))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, c := range creates {
			id := c.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			var metaRaw []byte
			if len(c.Meta) > 0 {
				metaRaw, err = json.Marshal(c.Meta)
				if err != nil {
					return types.NewError(types.ErrValidation, "chunk meta is not serializable").WithCause(err)
				}
			}
			row := chunkRow{
				ID:         id,
				DocumentID: c.DocumentID,
				Content:    c.Content,
				ContentVec: pgvector.NewVector(vecs[i]),
				Meta:       metaRaw,
				CreatedAt:  time.Now(),
			}
			if err := s.table(tx).Where("id = ?", id).Delete(nil).Error; err != nil {
				return types.NewError(types.ErrUpstream, "replace chunk").WithCause(err)
			}
			if err := s.table(tx).Create(&row).Error; err != nil {
				return types.NewError(types.ErrUpstream, "insert chunk").WithCause(err)
			}
			chunk, cerr := row.toChunk()
			if cerr != nil {
				return cerr
			}
			out = append(out, *chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetChunk 按 ID 取分块.
func (s *SQLChunkStore) GetChunk(ctx context.Context, id uuid.UUID) (*Chunk, error) {
	var row chunkRow
	err := s.table(s.db.WithContext(ctx)).Where("id = ?", id).Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.NewErrorf(types.ErrNotFound, "chunk %s not found", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrUpstream, "query chunk").WithCause(err)
	}
	return row.toChunk()
}

// SearchSimilarChunks 两阶段分块搜索.
func (s *SQLChunkStore) SearchSimilarChunks(ctx context.Context, query string, opts SearchOptions) ([]ScoredChunk, error) {
	opts.normalize()
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx)

	sub := s.table(tx.Session(&gorm.Session{NewDB: true})).
		Select("id, content_vec <=> ? AS distance", pgvector.NewVector(vec)).
		Order("distance ASC").
		Limit(opts.NumCandidates)

	q := tx.Table("(?) AS c", sub).
		Select("k.*, c.distance").
		Joins(fmt.Sprintf("JOIN %s AS k ON k.id = c.id", s.binding.ChunksTable))
	if opts.SimilarityThreshold > 0 {
		q = q.Where("c.distance <= ?", 1-opts.SimilarityThreshold)
	}

	var rows []chunkSearchRow
	if err := q.Order("c.distance ASC").Limit(opts.TopK).Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "search chunks").WithCause(err)
	}

	out := make([]ScoredChunk, 0, len(rows))
	for i := range rows {
		chunk, err := rows[i].toChunk()
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredChunk{Chunk: *chunk, Similarity: 1 - rows[i].Distance})
	}
	return out, nil
}

// DeleteChunk 删除单个分块.
func (s *SQLChunkStore) DeleteChunk(ctx context.Context, id uuid.UUID) error {
	res := s.table(s.db.WithContext(ctx)).Where("id = ?", id).Delete(nil)
	if res.Error != nil {
		return types.NewError(types.ErrUpstream, "delete chunk").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewErrorf(types.ErrNotFound, "chunk %s not found", id)
	}
	return nil
}
