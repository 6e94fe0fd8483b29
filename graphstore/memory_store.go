package graphstore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/types"
)

// DefaultDedupThreshold 是语义去重的相似度阈值.
const DefaultDedupThreshold = 0.9

// MemoryGraphStore 是 GraphStore 的内存实现, 用于测试与小规模场景.
// 向量检索退化为全量线性扫描, 语义与 SQL 实现一致.
type MemoryGraphStore struct {
	mu             sync.RWMutex
	entities       map[int64]*Entity
	relationships  map[int64]*Relationship
	nextEntityID   int64
	nextRelID      int64
	embedder       embedding.Provider
	dedupThreshold float64
	logger         *zap.Logger
}

// NewMemoryGraphStore 创建内存图谱存储. dedupThreshold <= 0 时使用默认值.
func NewMemoryGraphStore(embedder embedding.Provider, dedupThreshold float64, logger *zap.Logger) *MemoryGraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupThreshold <= 0 {
		dedupThreshold = DefaultDedupThreshold
	}
	return &MemoryGraphStore{
		entities:       make(map[int64]*Entity),
		relationships:  make(map[int64]*Relationship),
		embedder:       embedder,
		dedupThreshold: dedupThreshold,
		logger:         logger.With(zap.String("component", "memory_graph_store")),
	}
}

func (s *MemoryGraphStore) embedEntity(ctx context.Context, create EntityCreate) (types.Vector, types.Vector, error) {
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
	descVec := vecs[0]
	var metaVec types.Vector
	if len(vecs) > 1 {
		metaVec = vecs[1]
	}
	return descVec, metaVec, nil
}

// CreateEntity 无条件创建实体.
func (s *MemoryGraphStore) CreateEntity(ctx context.Context, create EntityCreate) (*Entity, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createEntityLocked(create, descVec, metaVec), nil
}

func (s *MemoryGraphStore) createEntityLocked(create EntityCreate, descVec, metaVec types.Vector) *Entity {
	s.nextEntityID++
	now := time.Now()
	e := &Entity{
		ID:             s.nextEntityID,
		EntityType:     create.EntityType,
		Name:           create.Name,
		Description:    create.Description,
		DescriptionVec: descVec,
		Meta:           create.Meta,
		MetaVec:        metaVec,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.entities[e.ID] = e
	return cloneEntity(e)
}

// FindOrCreateEntity 语义去重创建.
func (s *MemoryGraphStore) FindOrCreateEntity(ctx context.Context, create EntityCreate) (*Entity, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.findOrCreateEntityLocked(create, descVec, metaVec)
	return e, nil
}

// findOrCreateEntityLocked 在写锁内做语义去重, 返回实体与是否新建.
func (s *MemoryGraphStore) findOrCreateEntityLocked(create EntityCreate, descVec, metaVec types.Vector) (*Entity, bool) {
	// 最近邻候选: topK=1, numCandidates=10
	nearest := s.searchEntitiesLocked(descVec, EntitySearchOptions{
		TopK: 1, NumCandidates: 10, EntityType: create.EntityType,
	})
	if len(nearest) > 0 {
		found := s.entities[nearest[0].Entity.ID]
		if found.Name == create.Name && found.Description == create.Description &&
			reflect.DeepEqual(found.Meta, create.Meta) {
			return cloneEntity(found), false
		}
		if nearest[0].Similarity >= s.dedupThreshold {
			s.logger.Debug("entity deduplicated",
				zap.String("name", create.Name),
				zap.Int64("matched_id", found.ID),
				zap.Float64("similarity", nearest[0].Similarity))
			return cloneEntity(found), false
		}
	}
	return s.createEntityLocked(create, descVec, metaVec), true
}

// GetEntity 按 ID 取实体.
func (s *MemoryGraphStore) GetEntity(ctx context.Context, id int64) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "entity %d not found", id)
	}
	return cloneEntity(e), nil
}

// ListEntities 按过滤条件返回实体, ID 升序.
func (s *MemoryGraphStore) ListEntities(ctx context.Context, filters EntityFilters, limit, offset int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idSet := toIDSet(filters.IDs)
	matched := make([]*Entity, 0)
	for _, e := range s.entities {
		if filters.EntityType != "" && e.EntityType != filters.EntityType {
			continue
		}
		if idSet != nil {
			if _, ok := idSet[e.ID]; !ok {
				continue
			}
		}
		if filters.Search != "" &&
			!strings.Contains(e.Name, filters.Search) &&
			!strings.Contains(e.Description, filters.Search) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginateEntities(matched, limit, offset), nil
}

// UpdateEntity 应用部分更新并重算受影响的向量.
func (s *MemoryGraphStore) UpdateEntity(ctx context.Context, id int64, update EntityUpdate) (*Entity, error) {
	s.mu.RLock()
	e, ok := s.entities[id]
	if !ok {
		s.mu.RUnlock()
		return nil, types.NewErrorf(types.ErrNotFound, "entity %d not found", id)
	}
	name, desc, meta := e.Name, e.Description, e.Meta
	s.mu.RUnlock()

	if update.Name != nil {
		name = *update.Name
	}
	if update.Description != nil {
		desc = *update.Description
	}
	if update.Meta != nil {
		meta = update.Meta
	}

	var descVec, metaVec types.Vector
	var err error
	if update.Name != nil || update.Description != nil {
		descVec, err = s.embedder.EmbedQuery(ctx, entityEmbedText(name, desc))
		if err != nil {
			return nil, err
		}
	}
	if update.Meta != nil {
		metaJSON, merr := json.Marshal(meta)
		if merr != nil {
			return nil, types.NewError(types.ErrValidation, "entity meta is not serializable").WithCause(merr)
		}
		metaVec, err = s.embedder.EmbedQuery(ctx, string(metaJSON))
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	e, ok = s.entities[id]
	if !ok {
		s.mu.Unlock()
		return nil, types.NewErrorf(types.ErrNotFound, "entity %d not found", id)
	}
	e.Name, e.Description, e.Meta = name, desc, meta
	if descVec != nil {
		e.DescriptionVec = descVec
	}
	if metaVec != nil {
		e.MetaVec = metaVec
	}
	e.UpdatedAt = time.Now()
	updated := cloneEntity(e)

	// 关系向量带端点语境, 实体改名/改描述要级联重算
	var affected []int64
	if update.Name != nil || update.Description != nil {
		for rid, r := range s.relationships {
			if r.SourceEntityID == id || r.TargetEntityID == id {
				affected = append(affected, rid)
			}
		}
	}
	s.mu.Unlock()

	for _, rid := range affected {
		if err := s.reembedRelationship(ctx, rid); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *MemoryGraphStore) reembedRelationship(ctx context.Context, id int64) error {
	s.mu.RLock()
	r, ok := s.relationships[id]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	source, okS := s.entities[r.SourceEntityID]
	target, okT := s.entities[r.TargetEntityID]
	if !okS || !okT {
		s.mu.RUnlock()
		return nil
	}
	src, dst := cloneEntity(source), cloneEntity(target)
	desc := r.Description
	s.mu.RUnlock()

	vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(src, dst, desc))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.relationships[id]; ok {
		r.DescriptionVec = vec
		r.LastModifiedAt = time.Now()
	}
	return nil
}

// DeleteEntity 删除实体并级联删除其关系.
func (s *MemoryGraphStore) DeleteEntity(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return types.NewErrorf(types.ErrNotFound, "entity %d not found", id)
	}
	delete(s.entities, id)
	for rid, r := range s.relationships {
		if r.SourceEntityID == id || r.TargetEntityID == id {
			delete(s.relationships, rid)
		}
	}
	return nil
}

// CreateRelationship 创建关系, 向量化时带上两端实体的语境.
func (s *MemoryGraphStore) CreateRelationship(ctx context.Context, create RelationshipCreate) (*Relationship, error) {
	s.mu.RLock()
	source, okS := s.entities[create.SourceEntityID]
	target, okT := s.entities[create.TargetEntityID]
	s.mu.RUnlock()
	if !okS {
		return nil, types.NewErrorf(types.ErrNotFound, "source entity %d not found", create.SourceEntityID)
	}
	if !okT {
		return nil, types.NewErrorf(types.ErrNotFound, "target entity %d not found", create.TargetEntityID)
	}

	vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, create.Description))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRelationshipLocked(create, vec), nil
}

func (s *MemoryGraphStore) createRelationshipLocked(create RelationshipCreate, vec types.Vector) *Relationship {
	s.nextRelID++
	r := &Relationship{
		ID:             s.nextRelID,
		SourceEntityID: create.SourceEntityID,
		TargetEntityID: create.TargetEntityID,
		Description:    create.Description,
		DescriptionVec: vec,
		Meta:           create.Meta,
		DocumentID:     create.DocumentID,
		ChunkID:        create.ChunkID,
		LastModifiedAt: time.Now(),
	}
	s.relationships[r.ID] = r
	return cloneRelationship(r)
}

// GetRelationship 按 ID 取关系.
func (s *MemoryGraphStore) GetRelationship(ctx context.Context, id int64) (*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relationships[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "relationship %d not found", id)
	}
	return cloneRelationship(r), nil
}

// ListRelationships 按过滤条件返回关系, ID 升序.
func (s *MemoryGraphStore) ListRelationships(ctx context.Context, filters RelationshipFilters, limit, offset int) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idSet := toIDSet(filters.IDs)
	chunkSet := make(map[uuid.UUID]struct{}, len(filters.ChunkIDs))
	for _, cid := range filters.ChunkIDs {
		chunkSet[cid] = struct{}{}
	}

	matched := make([]*Relationship, 0)
	for _, r := range s.relationships {
		if filters.SourceEntityID != 0 && r.SourceEntityID != filters.SourceEntityID {
			continue
		}
		if filters.TargetEntityID != 0 && r.TargetEntityID != filters.TargetEntityID {
			continue
		}
		if filters.EntityID != 0 && r.SourceEntityID != filters.EntityID && r.TargetEntityID != filters.EntityID {
			continue
		}
		if idSet != nil {
			if _, ok := idSet[r.ID]; !ok {
				continue
			}
		}
		if len(chunkSet) > 0 {
			if _, ok := chunkSet[r.ChunkID]; !ok {
				continue
			}
		}
		if filters.Search != "" && !strings.Contains(r.Description, filters.Search) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginateRelationships(matched, limit, offset), nil
}

// UpdateRelationship 应用部分更新, 描述变化时重算向量.
func (s *MemoryGraphStore) UpdateRelationship(ctx context.Context, id int64, update RelationshipUpdate) (*Relationship, error) {
	s.mu.RLock()
	r, ok := s.relationships[id]
	if !ok {
		s.mu.RUnlock()
		return nil, types.NewErrorf(types.ErrNotFound, "relationship %d not found", id)
	}
	source := s.entities[r.SourceEntityID]
	target := s.entities[r.TargetEntityID]
	s.mu.RUnlock()

	var vec types.Vector
	if update.Description != nil && source != nil && target != nil {
		v, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, *update.Description))
		if err != nil {
			return nil, err
		}
		vec = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok = s.relationships[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "relationship %d not found", id)
	}
	if update.Description != nil {
		r.Description = *update.Description
		if vec != nil {
			r.DescriptionVec = vec
		}
	}
	if update.Meta != nil {
		r.Meta = update.Meta
	}
	r.LastModifiedAt = time.Now()
	return cloneRelationship(r), nil
}

// DeleteRelationship 删除单条关系.
func (s *MemoryGraphStore) DeleteRelationship(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[id]; !ok {
		return types.NewErrorf(types.ErrNotFound, "relationship %d not found", id)
	}
	delete(s.relationships, id)
	return nil
}

// ListEntityRelationships 返回以实体为任一端的全部关系.
func (s *MemoryGraphStore) ListEntityRelationships(ctx context.Context, entityID int64) ([]Relationship, error) {
	return s.ListRelationships(ctx, RelationshipFilters{EntityID: entityID}, 0, 0)
}

// SaveGraph 落库一次抽取结果, 同一分块重复摄入是空操作.
// 整个载荷在一次写锁内落库, 任一步失败都会撤销本次新建的节点与边.
func (s *MemoryGraphStore) SaveGraph(ctx context.Context, payload GraphPayload) error {
	if payload.ChunkID == uuid.Nil {
		return types.NewError(types.ErrValidation, "graph payload requires a chunk id")
	}

	// 实体向量化在锁外完成, 锁内只剩纯内存变更
	type embeddedEntity struct {
		create  EntityCreate
		descVec types.Vector
		metaVec types.Vector
	}
	embedded := make([]embeddedEntity, 0, len(payload.Entities))
	for _, ec := range payload.Entities {
		if ec.Name == "" {
			return types.NewError(types.ErrValidation, "entity name is empty")
		}
		if ec.EntityType == "" {
			ec.EntityType = EntityTypeOriginal
		}
		descVec, metaVec, err := s.embedEntity(ctx, ec)
		if err != nil {
			return err
		}
		embedded = append(embedded, embeddedEntity{create: ec, descVec: descVec, metaVec: metaVec})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.relationships {
		if r.ChunkID == payload.ChunkID {
			s.logger.Debug("chunk already ingested, skipping", zap.String("chunk_id", payload.ChunkID.String()))
			return nil
		}
	}

	var newEntityIDs, newRelIDs []int64
	rollback := func() {
		for _, id := range newRelIDs {
			delete(s.relationships, id)
		}
		for _, id := range newEntityIDs {
			delete(s.entities, id)
		}
	}

	byName := make(map[string]*Entity, len(payload.Entities))
	for _, ee := range embedded {
		e, created := s.findOrCreateEntityLocked(ee.create, ee.descVec, ee.metaVec)
		if created {
			newEntityIDs = append(newEntityIDs, e.ID)
		}
		// 去重可能把载荷里的名字收敛到另一个实体, 两个名字都要可解析
		byName[ee.create.Name] = e
		if _, ok := byName[e.Name]; !ok {
			byName[e.Name] = e
		}
	}

	for _, spec := range payload.Relationships {
		source, ok := byName[spec.SourceName]
		if !ok {
			rollback()
			return types.NewErrorf(types.ErrValidation, "relationship source %q is not in payload", spec.SourceName)
		}
		target, ok := byName[spec.TargetName]
		if !ok {
			rollback()
			return types.NewErrorf(types.ErrValidation, "relationship target %q is not in payload", spec.TargetName)
		}
		// 关系文本依赖去重后的端点措辞, 只能在锁内向量化
		vec, err := s.embedder.EmbedQuery(ctx, relationshipEmbedText(source, target, spec.Description))
		if err != nil {
			rollback()
			return err
		}
		r := s.createRelationshipLocked(RelationshipCreate{
			SourceEntityID: source.ID,
			TargetEntityID: target.ID,
			Description:    spec.Description,
			Meta:           mergeMeta(payload.Meta, spec.Meta),
			DocumentID:     payload.DocumentID,
			ChunkID:        payload.ChunkID,
		}, vec)
		newRelIDs = append(newRelIDs, r.ID)
	}
	return nil
}

// SearchSimilarEntities 两阶段实体搜索.
func (s *MemoryGraphStore) SearchSimilarEntities(ctx context.Context, query string, opts EntitySearchOptions) ([]ScoredEntity, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchEntitiesLocked(vec, opts), nil
}

func (s *MemoryGraphStore) searchEntitiesLocked(queryVec types.Vector, opts EntitySearchOptions) []ScoredEntity {
	opts.normalize()

	ids := make([]int64, 0, len(s.entities))
	cands := make([]Candidate, 0, len(s.entities))
	for _, e := range s.entities {
		if e.EntityType != opts.EntityType {
			continue
		}
		cands = append(cands, Candidate{Index: len(ids), Distance: CosineDistance(queryVec, e.DescriptionVec)})
		ids = append(ids, e.ID)
	}
	cands = selectCandidates(cands, opts.NumCandidates)
	ranked := rankCandidates(cands, opts.TopK, opts.SimilarityThreshold, nil, nil)

	out := make([]ScoredEntity, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, ScoredEntity{Entity: *cloneEntity(s.entities[ids[r.Index]]), Similarity: r.Similarity})
	}
	return out
}

// SearchSimilarRelationships 两阶段关系搜索.
func (s *MemoryGraphStore) SearchSimilarRelationships(ctx context.Context, query string, opts RelationshipSearchOptions) ([]ScoredRelationship, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchSimilarRelationshipsByVector(ctx, vec, opts)
}

// SearchSimilarRelationshipsByVector 复用已计算的查询向量做关系搜索.
func (s *MemoryGraphStore) SearchSimilarRelationshipsByVector(ctx context.Context, queryVec []float32, opts RelationshipSearchOptions) ([]ScoredRelationship, error) {
	opts.normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.relationships))
	cands := make([]Candidate, 0, len(s.relationships))
	for _, r := range s.relationships {
		cands = append(cands, Candidate{Index: len(ids), Distance: CosineDistance(queryVec, r.DescriptionVec)})
		ids = append(ids, r.ID)
	}
	// 阶段一只做距离排序与截断, 标量过滤全部留给阶段二
	cands = selectCandidates(cands, opts.NumCandidates)

	sourceSet := toIDSet(opts.SourceEntityIDs)
	targetSet := toIDSet(opts.TargetEntityIDs)
	excludeSet := toIDSet(opts.ExcludeIDs)
	keep := func(index int) bool {
		r := s.relationships[ids[index]]
		if sourceSet != nil {
			if _, ok := sourceSet[r.SourceEntityID]; !ok {
				return false
			}
		}
		if targetSet != nil {
			if _, ok := targetSet[r.TargetEntityID]; !ok {
				return false
			}
		}
		if excludeSet != nil {
			if _, ok := excludeSet[r.ID]; ok {
				return false
			}
		}
		return matchMeta(r.Meta, opts.MetadataFilters)
	}
	ranked := rankCandidates(cands, opts.TopK, opts.SimilarityThreshold, opts.DistanceRange, keep)

	out := make([]ScoredRelationship, 0, len(ranked))
	for _, rk := range ranked {
		out = append(out, ScoredRelationship{
			Relationship: *cloneRelationship(s.relationships[ids[rk.Index]]),
			Similarity:   rk.Similarity,
		})
	}
	return out, nil
}

// SearchSynopsisEntitiesByVector 按查询向量对概要实体排序后截断.
func (s *MemoryGraphStore) SearchSynopsisEntitiesByVector(ctx context.Context, queryVec []float32, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0)
	cands := make([]Candidate, 0)
	for _, e := range s.entities {
		if e.EntityType != EntityTypeSynopsis {
			continue
		}
		cands = append(cands, Candidate{Index: len(ids), Distance: CosineDistance(queryVec, e.DescriptionVec)})
		ids = append(ids, e.ID)
	}
	ranked := rankCandidates(cands, limit, 0, nil, nil)

	out := make([]Entity, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, *cloneEntity(s.entities[ids[r.Index]]))
	}
	return out, nil
}

// CalcEntityDegree 统计单个实体的出入度.
func (s *MemoryGraphStore) CalcEntityDegree(ctx context.Context, entityID int64) (*EntityDegree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[entityID]; !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "entity %d not found", entityID)
	}
	d := &EntityDegree{}
	for _, r := range s.relationships {
		if r.TargetEntityID == entityID {
			d.InDegree++
		}
		if r.SourceEntityID == entityID {
			d.OutDegree++
		}
	}
	d.Degrees = d.InDegree + d.OutDegree
	return d, nil
}

// BulkCalcEntitiesDegrees 单次扫描统计多个实体的出入度.
func (s *MemoryGraphStore) BulkCalcEntitiesDegrees(ctx context.Context, entityIDs []int64) (map[int64]*EntityDegree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]*EntityDegree, len(entityIDs))
	for _, id := range entityIDs {
		out[id] = &EntityDegree{}
	}
	for _, r := range s.relationships {
		if d, ok := out[r.TargetEntityID]; ok {
			d.InDegree++
		}
		if d, ok := out[r.SourceEntityID]; ok {
			d.OutDegree++
		}
	}
	for _, d := range out {
		d.Degrees = d.InDegree + d.OutDegree
	}
	return out, nil
}

// HasChunkRelationships 报告分块是否已有落库关系.
func (s *MemoryGraphStore) HasChunkRelationships(ctx context.Context, chunkID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.relationships {
		if r.ChunkID == chunkID {
			return true, nil
		}
	}
	return false, nil
}

func cloneEntity(e *Entity) *Entity {
	c := *e
	return &c
}

func cloneRelationship(r *Relationship) *Relationship {
	c := *r
	return &c
}

func toIDSet(ids []int64) map[int64]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func mergeMeta(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func paginateEntities(items []*Entity, limit, offset int) []Entity {
	if offset >= len(items) {
		return []Entity{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]Entity, len(items))
	for i, e := range items {
		out[i] = *cloneEntity(e)
	}
	return out
}

func paginateRelationships(items []*Relationship, limit, offset int) []Relationship {
	if offset >= len(items) {
		return []Relationship{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]Relationship, len(items))
	for i, r := range items {
		out[i] = *cloneRelationship(r)
	}
	return out
}
