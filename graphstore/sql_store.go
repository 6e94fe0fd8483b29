package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/graphflow/kb"
	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/types"
)

// SQLGraphStore 是基于 PostgreSQL + pgvector 的 GraphStore 实现.
// 表名来自知识库的 TableBinding, 向量检索走 HNSW 索引上的
// 余弦距离排序, 标量过滤在候选集上完成.
type SQLGraphStore struct {
	db             *gorm.DB
	binding        *kb.TableBinding
	embedder       embedding.Provider
	dedupThreshold float64
	logger         *zap.Logger
}

// NewSQLGraphStore 创建 SQL 图谱存储. dedupThreshold <= 0 时使用默认值.
func NewSQLGraphStore(db *gorm.DB, binding *kb.TableBinding, embedder embedding.Provider, dedupThreshold float64, logger *zap.Logger) *SQLGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupThreshold <= 0 {
		dedupThreshold = DefaultDedupThreshold
	}
	return &SQLGraphStore{
		db:             db,
		binding:        binding,
		embedder:       embedder,
		dedupThreshold: dedupThreshold,
		logger: logger.With(
			zap.String("component", "sql_graph_store"),
			zap.String("namespace", binding.Namespace)),
	}
}

type entityRow struct {
	ID             int64            `gorm:"column:id;primaryKey"`
	EntityType     string           `gorm:"column:entity_type"`
	Name           string           `gorm:"column:name"`
	Description    string           `gorm:"column:description"`
	DescriptionVec pgvector.Vector  `gorm:"column:description_vec"`
	Meta           []byte           `gorm:"column:meta"`
	MetaVec        *pgvector.Vector `gorm:"column:meta_vec"`
	CreatedAt      time.Time        `gorm:"column:created_at"`
	UpdatedAt      time.Time        `gorm:"column:updated_at"`
}

type relationshipRow struct {
	ID             int64           `gorm:"column:id;primaryKey"`
	SourceEntityID int64           `gorm:"column:source_entity_id"`
	TargetEntityID int64           `gorm:"column:target_entity_id"`
	Description    string          `gorm:"column:description"`
	DescriptionVec pgvector.Vector `gorm:"column:description_vec"`
	Weight         int             `gorm:"column:weight"`
	Meta           []byte          `gorm:"column:meta"`
	DocumentID     int64           `gorm:"column:document_id"`
	ChunkID        uuid.UUID       `gorm:"column:chunk_id"`
	LastModifiedAt time.Time       `gorm:"column:last_modified_at"`
}

type entitySearchRow struct {
	entityRow
	Distance float64 `gorm:"column:distance"`
}

type relationshipSearchRow struct {
	relationshipRow
	Distance float64 `gorm:"column:distance"`
}

func (r *entityRow) toEntity() (*Entity, error) {
	meta, err := unmarshalMeta(r.Meta)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		ID:             r.ID,
		EntityType:     EntityType(r.EntityType),
		Name:           r.Name,
		Description:    r.Description,
		DescriptionVec: r.DescriptionVec.Slice(),
		Meta:           meta,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.MetaVec != nil {
		e.MetaVec = r.MetaVec.Slice()
	}
	return e, nil
}

func (r *relationshipRow) toRelationship() (*Relationship, error) {
	meta, err := unmarshalMeta(r.Meta)
	if err != nil {
		return nil, err
	}
	return &Relationship{
		ID:             r.ID,
		SourceEntityID: r.SourceEntityID,
		TargetEntityID: r.TargetEntityID,
		Description:    r.Description,
		DescriptionVec: r.DescriptionVec.Slice(),
		Weight:         r.Weight,
		Meta:           meta,
		DocumentID:     r.DocumentID,
		ChunkID:        r.ChunkID,
		LastModifiedAt: r.LastModifiedAt,
	}, nil
}

func unmarshalMeta(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, types.NewError(types.ErrUpstream, "malformed meta column").WithCause(err)
	}
	return meta, nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "meta is not serializable").WithCause(err)
	}
	return raw, nil
}

func (s *SQLGraphStore) entities(tx *gorm.DB) *gorm.DB {
	return tx.Table(s.binding.EntitiesTable)
}

func (s *SQLGraphStore) rels(tx *gorm.DB) *gorm.DB {
	return tx.Table(s.binding.RelationshipsTable)
}

// CreateEntity 无条件创建实体.
func (s *SQLGraphStore) CreateEntity(ctx context.Context, create EntityCreate) (*Entity, error) {
	if create.Name == "" {
		return nil, types.NewError(types.ErrValidation, "entity name is empty")
	}
	if create.EntityType == "" {
		create.EntityType = EntityTypeOriginal
	}
	descVec, metaVec, err := s.embedEntity(ctx, create)
	if err != nil {
		return nil, err
	}
	return s.insertEntity(ctx, s.db.WithContext(ctx), create, descVec, metaVec)
}

func (s *SQLGraphStore) embedEntity(ctx context.Context, create EntityCreate) (types.Vector, types.Vector, error) {
	texts := []string{entityEmbedText(create.Name, create.Description)}
	if len(create.Meta) > 0 {
		metaJSON, err := json.Marshal(create.Meta)
		if err != nil {
			return nil, nil, types.NewError(types.ErrValidation, "entity meta is not serializable").WithCause(err)
		}
		texts = append(texts, string(metaJSON))
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	var metaVec types.Vector
	if len(vecs) > 1 {
		metaVec = vecs[1]
	}
	return vecs[0], metaVec, nil
}

func (s *SQLGraphStore) insertEntity(ctx context.Context, tx *gorm.DB, create EntityCreate, descVec, metaVec types.Vector) (*Entity, error) {
	metaRaw, err := marshalMeta(create.Meta)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	row := entityRow{
		EntityType:     string(create.EntityType),
		Name:           create.Name,
		Description:    create.Description,
		DescriptionVec: pgvector.NewVector(descVec),
		Meta:           metaRaw,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if metaVec != nil {
		v := pgvector.NewVector(metaVec)
		row.MetaVec = &v
	}
	if err := s.entities(tx).Create(&row).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "insert entity").WithCause(err)
	}
	return row.toEntity()
}

// FindOrCreateEntity 语义去重创建.
func (s *SQLGraphStore) FindOrCreateEntity(ctx context.Context, create EntityCreate) (*Entity, error) {
	if create.Name == "" {
		return nil, types.NewError(types.ErrValidation, "entity name is empty")
	}
	if create.EntityType == "" {
		create.EntityType = EntityTypeOriginal
	}
	descVec, metaVec, err := s.embedEntity(ctx, create)
	if err != nil {
		return nil, err
	}
	return s.findOrCreateEntity(ctx, s.db.WithContext(ctx), create, descVec, metaVec)
}

func (s *SQLGraphStore) findOrCreateEntity(ctx context.Context, tx *gorm.DB, create EntityCreate, descVec, metaVec types.Vector) (*Entity, error) {
	nearest, err := s.searchEntitiesByVector(ctx, tx, descVec, EntitySearchOptions{
		TopK: 1, NumCandidates: 10, EntityType: create.EntityType,
	})
	if err != nil {
		return nil, err
	}
	if len(nearest) > 0 {
		found := nearest[0].Entity
		if found.Name == create.Name && found.Description == create.Description &&
			reflect.DeepEqual(found.Meta, create.Meta) {
			return &found, nil
		}
		if nearest[0].Similarity >= s.dedupThreshold {
			s.logger.Debug("entity deduplicated",
				zap.String("name", create.Name),
				zap.Int64("matched_id", found.ID),
				zap.Float64("similarity", nearest[0].Similarity))
			return &found, nil
		}
	}
	return s.insertEntity(ctx, tx, create, descVec, metaVec)
}

// GetEntity 按 ID 取实体.
func (s *SQLGraphStore) GetEntity(ctx context.Context, id int64) (*Entity, error) {
	var row entityRow
	err := s.entities(s.db.WithContext(ctx)).Where("id = ?", id).Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.NewErrorf(types.ErrNotFound, "entity %d not found", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrUpstream, "query entity").WithCause(err)
	}
	return row.toEntity()
}

// ListEntities 按过滤条件分页返回实体.
func (s *SQLGraphStore) ListEntities(ctx context.Context, filters EntityFilters, limit, offset int) ([]Entity, error) {
	q := s.entities(s.db.WithContext(ctx))
	if filters.EntityType != "" {
		q = q.Where("entity_type = ?", filters.EntityType)
	}
	if len(filters.IDs) > 0 {
		q = q.Where("id IN ?", filters.IDs)
	}
	if filters.Search != "" {
		pattern := "%" + filters.Search + "%"
		q = q.Where("name LIKE ? OR description LIKE ?", pattern, pattern)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []entityRow
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "list entities").WithCause(err)
	}
	out := make([]Entity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// UpdateEntity 应用部分更新并重算受影响的向量.
func (s *SQLGraphStore) UpdateEntity(ctx context.Context, id int64, update EntityUpdate) (*Entity, error) {
	current, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}

	values := map[string]any{"updated_at": time.Now()}
	name, desc := current.Name, current.Description
	if update.Name != nil {
		name = *update.Name
		values["name"] = name
	}
	if update.Description != nil {
		desc = *update.Description
		values["description"] = desc
	}
	if update.Name != nil || update.Description != nil {
		vec, err := s.embedder.EmbedQuery(ctx, entityEmbedText(name, desc))
		if err != nil {
			return nil, err
		}
		values["description_vec"] = pgvector.NewVector(vec)
	}
	if update.Meta != nil {
		metaRaw, err := marshalMeta(update.Meta)
		if err != nil {
			return nil, err
		}
		metaJSON, _ := json.Marshal(update.Meta)
		vec, err := s.embedder.EmbedQuery(ctx, string(metaJSON))
		if err != nil {
			return nil, err
		}
		values["meta"] = metaRaw
		values["meta_vec"] = pgvector.NewVector(vec)
	}

	if err := s.entities(s.db.WithContext(ctx)).Where("id = ?", id).Updates(values).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "update entity").WithCause(err)
	}
	if update.Name != nil || update.Description != nil {
		if err := s.reembedEntityRelationships(ctx, id); err != nil {
			return nil, err
		}
	}
	return s.GetEntity(ctx, id)
}

// reembedEntityRelationships 在实体改名/改描述后重算其关系向量,
// 关系向量里带着两端实体的语境.
func (s *SQLGraphStore) reembedEntityRelationships(ctx context.Context, entityID int64) error {
	rels, err := s.ListEntityRelationships(ctx, entityID)
	if err != nil {
		return err
	}
	for _, r := range rels {
		source, err := s.GetEntity(ctx, r.SourceEntityID)
		if err != nil {
			return err
		}
		target, err := s.GetEntity(ctx, r.TargetEntityID)
		if err != nil {
			return err
		}
		vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, r.Description))
		if err != nil {
			return err
		}
		if err := s.rels(s.db.WithContext(ctx)).Where("id = ?", r.ID).
			Updates(map[string]any{
				"description_vec":  pgvector.NewVector(vec),
				"last_modified_at": time.Now(),
			}).Error; err != nil {
			return types.NewError(types.ErrUpstream, "reembed relationship").WithCause(err)
		}
	}
	return nil
}

// DeleteEntity 删除实体并级联删除其关系.
func (s *SQLGraphStore) DeleteEntity(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := s.entities(tx).Where("id = ?", id).Delete(nil)
		if res.Error != nil {
			return types.NewError(types.ErrUpstream, "delete entity").WithCause(res.Error)
		}
		if res.RowsAffected == 0 {
			return types.NewErrorf(types.ErrNotFound, "entity %d not found", id)
		}
		if err := s.rels(tx).Where("source_entity_id = ? OR target_entity_id = ?", id, id).Delete(nil).Error; err != nil {
			return types.NewError(types.ErrUpstream, "delete entity relationships").WithCause(err)
		}
		return nil
	})
}

// CreateRelationship 创建关系, 向量化时带上两端实体的语境.
func (s *SQLGraphStore) CreateRelationship(ctx context.Context, create RelationshipCreate) (*Relationship, error) {
	source, err := s.GetEntity(ctx, create.SourceEntityID)
	if err != nil {
		return nil, err
	}
	target, err := s.GetEntity(ctx, create.TargetEntityID)
	if err != nil {
		return nil, err
	}
	vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, create.Description))
	if err != nil {
		return nil, err
	}
	return s.insertRelationship(ctx, s.db.WithContext(ctx), create, vec)
}

func (s *SQLGraphStore) insertRelationship(ctx context.Context, tx *gorm.DB, create RelationshipCreate, vec types.Vector) (*Relationship, error) {
	metaRaw, err := marshalMeta(create.Meta)
	if err != nil {
		return nil, err
	}
	row := relationshipRow{
		SourceEntityID: create.SourceEntityID,
		TargetEntityID: create.TargetEntityID,
		Description:    create.Description,
		DescriptionVec: pgvector.NewVector(vec),
		Meta:           metaRaw,
		DocumentID:     create.DocumentID,
		ChunkID:        create.ChunkID,
		LastModifiedAt: time.Now(),
	}
	if err := s.rels(tx).Create(&row).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "insert relationship").WithCause(err)
	}
	return row.toRelationship()
}

// GetRelationship 按 ID 取关系.
func (s *SQLGraphStore) GetRelationship(ctx context.Context, id int64) (*Relationship, error) {
	var row relationshipRow
	err := s.rels(s.db.WithContext(ctx)).Where("id = ?", id).Take(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.NewErrorf(types.ErrNotFound, "relationship %d not found", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrUpstream, "query relationship").WithCause(err)
	}
	return row.toRelationship()
}

// ListRelationships 按过滤条件分页返回关系.
func (s *SQLGraphStore) ListRelationships(ctx context.Context, filters RelationshipFilters, limit, offset int) ([]Relationship, error) {
	q := s.rels(s.db.WithContext(ctx))
	if filters.SourceEntityID != 0 {
		q = q.Where("source_entity_id = ?", filters.SourceEntityID)
	}
	if filters.TargetEntityID != 0 {
		q = q.Where("target_entity_id = ?", filters.TargetEntityID)
	}
	if filters.EntityID != 0 {
		q = q.Where("source_entity_id = ? OR target_entity_id = ?", filters.EntityID, filters.EntityID)
	}
	if len(filters.IDs) > 0 {
		q = q.Where("id IN ?", filters.IDs)
	}
	if len(filters.ChunkIDs) > 0 {
		q = q.Where("chunk_id IN ?", filters.ChunkIDs)
	}
	if filters.Search != "" {
		q = q.Where("description LIKE ?", "%"+filters.Search+"%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []relationshipRow
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "list relationships").WithCause(err)
	}
	out := make([]Relationship, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRelationship()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// UpdateRelationship 应用部分更新, 描述变化时重算向量.
func (s *SQLGraphStore) UpdateRelationship(ctx context.Context, id int64, update RelationshipUpdate) (*Relationship, error) {
	current, err := s.GetRelationship(ctx, id)
	if err != nil {
		return nil, err
	}

	values := map[string]any{"last_modified_at": time.Now()}
	if update.Description != nil {
		source, err := s.GetEntity(ctx, current.SourceEntityID)
		if err != nil {
			return nil, err
		}
		target, err := s.GetEntity(ctx, current.TargetEntityID)
		if err != nil {
			return nil, err
		}
		vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, *update.Description))
		if err != nil {
			return nil, err
		}
		values["description"] = *update.Description
		values["description_vec"] = pgvector.NewVector(vec)
	}
	if update.Meta != nil {
		metaRaw, err := marshalMeta(update.Meta)
		if err != nil {
			return nil, err
		}
		values["meta"] = metaRaw
	}

	if err := s.rels(s.db.WithContext(ctx)).Where("id = ?", id).Updates(values).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "update relationship").WithCause(err)
	}
	return s.GetRelationship(ctx, id)
}

// DeleteRelationship 删除单条关系.
func (s *SQLGraphStore) DeleteRelationship(ctx context.Context, id int64) error {
	res := s.rels(s.db.WithContext(ctx)).Where("id = ?", id).Delete(nil)
	if res.Error != nil {
		return types.NewError(types.ErrUpstream, "delete relationship").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewErrorf(types.ErrNotFound, "relationship %d not found", id)
	}
	return nil
}

// ListEntityRelationships 返回以实体为任一端的全部关系.
func (s *SQLGraphStore) ListEntityRelationships(ctx context.Context, entityID int64) ([]Relationship, error) {
	return s.ListRelationships(ctx, RelationshipFilters{EntityID: entityID}, 0, 0)
}

// SaveGraph 在单个事务里落库一次抽取结果, 同一分块重复摄入是空操作.
// 向量化在事务外完成, 避免长事务占用连接.
func (s *SQLGraphStore) SaveGraph(ctx context.Context, payload GraphPayload) error {
	if payload.ChunkID == uuid.Nil {
		return types.NewError(types.ErrValidation, "graph payload requires a chunk id")
	}
	exists, err := s.HasChunkRelationships(ctx, payload.ChunkID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("chunk already ingested, skipping", zap.String("chunk_id", payload.ChunkID.String()))
		return nil
	}

	type embeddedEntity struct {
		create  EntityCreate
		descVec types.Vector
		metaVec types.Vector
	}
	embedded := make([]embeddedEntity, 0, len(payload.Entities))
	for _, ec := range payload.Entities {
		if ec.EntityType == "" {
			ec.EntityType = EntityTypeOriginal
		}
		descVec, metaVec, err := s.embedEntity(ctx, ec)
		if err != nil {
			return err
		}
		embedded = append(embedded, embeddedEntity{create: ec, descVec: descVec, metaVec: metaVec})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		byName := make(map[string]*Entity, len(embedded))
		for _, item := range embedded {
			e, err := s.findOrCreateEntity(ctx, tx, item.create, item.descVec, item.metaVec)
			if err != nil {
				return err
			}
			byName[item.create.Name] = e
			if _, ok := byName[e.Name]; !ok {
				byName[e.Name] = e
			}
		}

		for _, spec := range payload.Relationships {
			source, ok := byName[spec.SourceName]
			if !ok {
				return types.NewErrorf(types.ErrValidation, "relationship source %q is not in payload", spec.SourceName)
			}
			target, ok := byName[spec.TargetName]
			if !ok {
				return types.NewErrorf(types.ErrValidation, "relationship target %q is not in payload", spec.TargetName)
			}
			vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, spec.Description))
			if err != nil {
				return err
			}
			if _, err := s.insertRelationship(ctx, tx, RelationshipCreate{
				SourceEntityID: source.ID,
				TargetEntityID: target.ID,
				Description:    spec.Description,
				Meta:           mergeMeta(payload.Meta, spec.Meta),
				DocumentID:     payload.DocumentID,
				ChunkID:        payload.ChunkID,
			}, vec); err != nil {
				return err
			}
		}
		return nil
	})
}

// SearchSimilarEntities 两阶段实体搜索.
func (s *SQLGraphStore) SearchSimilarEntities(ctx context.Context, query string, opts EntitySearchOptions) ([]ScoredEntity, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.searchEntitiesByVector(ctx, s.db.WithContext(ctx), vec, opts)
}

func (s *SQLGraphStore) searchEntitiesByVector(ctx context.Context, tx *gorm.DB, queryVec types.Vector, opts EntitySearchOptions) ([]ScoredEntity, error) {
	opts.normalize()

	// 阶段一: 只按距离排序截断, 让优化器命中 HNSW 索引
	sub := s.entities(tx.Session(&gorm.Session{NewDB: true})).
		Select("id, description_vec <=> ? AS distance", pgvector.NewVector(queryVec)).
		Order("distance ASC").
		Limit(opts.NumCandidates)

	// 阶段二: 候选集上做标量过滤与最终截断
	q := tx.Table("(?) AS c", sub).
		Select("e.*, c.distance").
		Joins(fmt.Sprintf("JOIN %s AS e ON e.id = c.id", s.binding.EntitiesTable)).
		Where("e.entity_type = ?", opts.EntityType)
	if opts.SimilarityThreshold > 0 {
		q = q.Where("c.distance <= ?", 1-opts.SimilarityThreshold)
	}

	var rows []entitySearchRow
	if err := q.Order("c.distance ASC").Limit(opts.TopK).Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "search entities").WithCause(err)
	}

	out := make([]ScoredEntity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEntity{Entity: *e, Similarity: 1 - rows[i].Distance})
	}
	return out, nil
}

// SearchSimilarRelationships 两阶段关系搜索.
func (s *SQLGraphStore) SearchSimilarRelationships(ctx context.Context, query string, opts RelationshipSearchOptions) ([]ScoredRelationship, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchSimilarRelationshipsByVector(ctx, vec, opts)
}

// SearchSimilarRelationshipsByVector 复用已计算的查询向量做关系搜索.
func (s *SQLGraphStore) SearchSimilarRelationshipsByVector(ctx context.Context, queryVec []float32, opts RelationshipSearchOptions) ([]ScoredRelationship, error) {
	opts.normalize()
	tx := s.db.WithContext(ctx)

	sub := s.rels(tx.Session(&gorm.Session{NewDB: true})).
		Select("id, description_vec <=> ? AS distance", pgvector.NewVector(queryVec)).
		Order("distance ASC").
		Limit(opts.NumCandidates)

	q := tx.Table("(?) AS c", sub).
		Select("r.*, c.distance").
		Joins(fmt.Sprintf("JOIN %s AS r ON r.id = c.id", s.binding.RelationshipsTable))
	if opts.SimilarityThreshold > 0 {
		q = q.Where("c.distance <= ?", 1-opts.SimilarityThreshold)
	}
	if opts.DistanceRange != nil {
		q = q.Where("c.distance BETWEEN ? AND ?", opts.DistanceRange.Min, opts.DistanceRange.Max)
	}
	if len(opts.SourceEntityIDs) > 0 {
		q = q.Where("r.source_entity_id IN ?", opts.SourceEntityIDs)
	}
	if len(opts.TargetEntityIDs) > 0 {
		q = q.Where("r.target_entity_id IN ?", opts.TargetEntityIDs)
	}
	if len(opts.ExcludeIDs) > 0 {
		q = q.Where("r.id NOT IN ?", opts.ExcludeIDs)
	}
	for key, want := range opts.MetadataFilters {
		switch w := want.(type) {
		case []any:
			vals := make([]string, 0, len(w))
			for _, item := range w {
				vals = append(vals, stringifyMetaValue(item))
			}
			q = q.Where("r.meta ->> ? IN ?", key, vals)
		case []string:
			q = q.Where("r.meta ->> ? IN ?", key, w)
		default:
			q = q.Where("r.meta ->> ? = ?", key, stringifyMetaValue(want))
		}
	}

	var rows []relationshipSearchRow
	if err := q.Order("c.distance ASC").Limit(opts.TopK).Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "search relationships").WithCause(err)
	}

	out := make([]ScoredRelationship, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toRelationship()
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredRelationship{Relationship: *r, Similarity: 1 - rows[i].Distance})
	}
	return out, nil
}

// SearchSynopsisEntitiesByVector 按查询向量对概要实体排序后截断.
// 先做类型过滤再按距离排序, 走全量扫描而非向量索引.
func (s *SQLGraphStore) SearchSynopsisEntitiesByVector(ctx context.Context, queryVec []float32, limit int) ([]Entity, error) {
	q := s.entities(s.db.WithContext(ctx)).
		Select("*, description_vec <=> ? AS distance", pgvector.NewVector(queryVec)).
		Where("entity_type = ?", EntityTypeSynopsis).
		Order("distance ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []entitySearchRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "search synopsis entities").WithCause(err)
	}
	out := make([]Entity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// CalcEntityDegree 统计单个实体的出入度.
func (s *SQLGraphStore) CalcEntityDegree(ctx context.Context, entityID int64) (*EntityDegree, error) {
	degrees, err := s.BulkCalcEntitiesDegrees(ctx, []int64{entityID})
	if err != nil {
		return nil, err
	}
	return degrees[entityID], nil
}

type degreeCountRow struct {
	EntityID int64 `gorm:"column:entity_id"`
	Count    int   `gorm:"column:count"`
}

// BulkCalcEntitiesDegrees 用两条聚合查询统计多个实体的出入度.
func (s *SQLGraphStore) BulkCalcEntitiesDegrees(ctx context.Context, entityIDs []int64) (map[int64]*EntityDegree, error) {
	out := make(map[int64]*EntityDegree, len(entityIDs))
	for _, id := range entityIDs {
		out[id] = &EntityDegree{}
	}
	if len(entityIDs) == 0 {
		return out, nil
	}
	tx := s.db.WithContext(ctx)

	var inRows []degreeCountRow
	if err := s.rels(tx).
		Select("target_entity_id AS entity_id, COUNT(*) AS count").
		Where("target_entity_id IN ?", entityIDs).
		Group("target_entity_id").
		Scan(&inRows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "calc in-degrees").WithCause(err)
	}
	for _, row := range inRows {
		out[row.EntityID].InDegree = row.Count
	}

	var outRows []degreeCountRow
	if err := s.rels(tx).
		Select("source_entity_id AS entity_id, COUNT(*) AS count").
		Where("source_entity_id IN ?", entityIDs).
		Group("source_entity_id").
		Scan(&outRows).Error; err != nil {
		return nil, types.NewError(types.ErrUpstream, "calc out-degrees").WithCause(err)
	}
	for _, row := range outRows {
		out[row.EntityID].OutDegree = row.Count
	}

	for _, d := range out {
		d.Degrees = d.InDegree + d.OutDegree
	}
	return out, nil
}

// HasChunkRelationships 报告分块是否已有落库关系.
func (s *SQLGraphStore) HasChunkRelationships(ctx context.Context, chunkID uuid.UUID) (bool, error) {
	var count int64
	if err := s.rels(s.db.WithContext(ctx)).Where("chunk_id = ?", chunkID).Count(&count).Error; err != nil {
		return false, types.NewError(types.ErrUpstream, "count chunk relationships").WithCause(err)
	}
	return count > 0, nil
}
