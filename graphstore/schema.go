package graphstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/graphflow/kb"
	"github.com/BaSui01/graphflow/types"
)

// SchemaManager 为表绑定落地 PostgreSQL 表结构与向量索引.
// 通过 kb.Registry 调用, 同一绑定只会执行一次.
type SchemaManager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSchemaManager 创建 schema 管理器.
func NewSchemaManager(db *gorm.DB, logger *zap.Logger) *SchemaManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaManager{db: db, logger: logger.With(zap.String("component", "schema_manager"))}
}

// EnsureSchema 建表并创建 HNSW 余弦距离索引, 全部语句幂等.
func (m *SchemaManager) EnsureSchema(ctx context.Context, binding *kb.TableBinding) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			entity_type TEXT NOT NULL DEFAULT 'original',
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			description_vec VECTOR(%d) NOT NULL,
			meta JSONB,
			meta_vec VECTOR(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, binding.EntitiesTable, binding.Dimension, binding.Dimension),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			source_entity_id BIGINT NOT NULL,
			target_entity_id BIGINT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			description_vec VECTOR(%d) NOT NULL,
			weight INTEGER NOT NULL DEFAULT 0,
			meta JSONB,
			document_id BIGINT NOT NULL DEFAULT 0,
			chunk_id UUID,
			last_modified_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, binding.RelationshipsTable, binding.Dimension),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			document_id BIGINT NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			content_vec VECTOR(%d) NOT NULL,
			meta JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, binding.ChunksTable, binding.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_desc_vec ON %s USING hnsw (description_vec vector_cosine_ops)`,
			binding.EntitiesTable, binding.EntitiesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_desc_vec ON %s USING hnsw (description_vec vector_cosine_ops)`,
			binding.RelationshipsTable, binding.RelationshipsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_content_vec ON %s USING hnsw (content_vec vector_cosine_ops)`,
			binding.ChunksTable, binding.ChunksTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s (source_entity_id)`,
			binding.RelationshipsTable, binding.RelationshipsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_target ON %s (target_entity_id)`,
			binding.RelationshipsTable, binding.RelationshipsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_chunk ON %s (chunk_id)`,
			binding.RelationshipsTable, binding.RelationshipsTable),
	}

	for _, stmt := range stmts {
		if err := m.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return types.NewErrorf(types.ErrUpstream, "ensure schema for %s", binding.Namespace).WithCause(err)
		}
	}
	m.logger.Info("schema ensured",
		zap.String("namespace", binding.Namespace),
		zap.Int("dimension", binding.Dimension))
	return nil
}
