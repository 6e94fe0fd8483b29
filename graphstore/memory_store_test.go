package graphstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphflow/testutil"
	"github.com/BaSui01/graphflow/types"
)

const testDim = 4

func newTestStore(t *testing.T) (*MemoryGraphStore, *testutil.StubEmbedder) {
	t.Helper()
	embedder := testutil.NewStubEmbedder(testDim)
	return NewMemoryGraphStore(embedder, 0, nil), embedder
}

func TestFindOrCreateEntity_ExactDuplicateReused(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()
	embedder.Set("Postgres: relational database", testutil.UnitVector(testDim, 0))

	create := EntityCreate{Name: "Postgres", Description: "relational database"}
	first, err := store.FindOrCreateEntity(ctx, create)
	require.NoError(t, err)

	second, err := store.FindOrCreateEntity(ctx, create)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	entities, err := store.ListEntities(ctx, EntityFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestFindOrCreateEntity_ParaphraseReused(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	anchor := testutil.UnitVector(testDim, 0)
	embedder.Set("Postgres: relational database", anchor)
	// 与锚点余弦相似度约 0.994, 超过去重阈值 0.9
	embedder.Set("PostgreSQL: a relational db", testutil.BlendVectors(anchor, testutil.UnitVector(testDim, 1), 0.1))

	first, err := store.FindOrCreateEntity(ctx, EntityCreate{Name: "Postgres", Description: "relational database"})
	require.NoError(t, err)

	second, err := store.FindOrCreateEntity(ctx, EntityCreate{Name: "PostgreSQL", Description: "a relational db"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	// 去重复用的是已存在实体, 原始措辞保留
	assert.Equal(t, "Postgres", second.Name)
}

func TestFindOrCreateEntity_BelowThresholdCreatesNew(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	anchor := testutil.UnitVector(testDim, 0)
	embedder.Set("Postgres: relational database", anchor)
	// 相似度约 0.707, 低于阈值: 阈值语义是相似度下限而不是距离上限
	embedder.Set("Redis: in-memory cache", testutil.BlendVectors(anchor, testutil.UnitVector(testDim, 1), 0.5))

	first, err := store.FindOrCreateEntity(ctx, EntityCreate{Name: "Postgres", Description: "relational database"})
	require.NoError(t, err)

	second, err := store.FindOrCreateEntity(ctx, EntityCreate{Name: "Redis", Description: "in-memory cache"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSearchSimilarEntities_TwoPhaseBounds(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	query := testutil.UnitVector(testDim, 0)
	embedder.Set("query", query)
	embedder.Set("a: close", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.05))
	embedder.Set("b: near", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.2))
	embedder.Set("c: far", testutil.UnitVector(testDim, 2))

	for _, e := range []EntityCreate{
		{Name: "a", Description: "close"},
		{Name: "b", Description: "near"},
		{Name: "c", Description: "far"},
	} {
		_, err := store.CreateEntity(ctx, e)
		require.NoError(t, err)
	}

	// 阶段二按相似度降序, 阈值过滤掉正交实体
	results, err := store.SearchSimilarEntities(ctx, "query", EntitySearchOptions{
		TopK: 2, NumCandidates: 5, SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Entity.Name)
	assert.Equal(t, "b", results[1].Entity.Name)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)

	// 阶段一截断: numCandidates=1 时只有最近的一个进入阶段二
	results, err = store.SearchSimilarEntities(ctx, "query", EntitySearchOptions{
		TopK: 3, NumCandidates: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entity.Name)
}

func TestSearchSimilarRelationships_Filters(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateEntity(ctx, EntityCreate{Name: "a", Description: "x"})
	require.NoError(t, err)
	b, err := store.CreateEntity(ctx, EntityCreate{Name: "b", Description: "y"})
	require.NoError(t, err)

	query := testutil.UnitVector(testDim, 0)
	embedder.Set("a(x) -> uses -> b(y)", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.1))
	embedder.Set("b(y) -> extends -> a(x)", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.3))

	r1, err := store.CreateRelationship(ctx, RelationshipCreate{SourceEntityID: a.ID, TargetEntityID: b.ID, Description: "uses"})
	require.NoError(t, err)
	_, err = store.CreateRelationship(ctx, RelationshipCreate{SourceEntityID: b.ID, TargetEntityID: a.ID, Description: "extends"})
	require.NoError(t, err)

	// 源实体限制
	results, err := store.SearchSimilarRelationshipsByVector(ctx, query, RelationshipSearchOptions{
		TopK: 10, SourceEntityIDs: []int64{a.ID},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, r1.ID, results[0].Relationship.ID)

	// 已访问关系排除
	results, err = store.SearchSimilarRelationshipsByVector(ctx, query, RelationshipSearchOptions{
		TopK: 10, ExcludeIDs: []int64{r1.ID},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "extends", results[0].Relationship.Description)

	// 距离区间
	results, err = store.SearchSimilarRelationshipsByVector(ctx, query, RelationshipSearchOptions{
		TopK: 10, DistanceRange: &DistanceRange{Min: 0, Max: 0.02},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, r1.ID, results[0].Relationship.ID)
}

func TestEntityDegrees_BulkMatchesSingle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateEntity(ctx, EntityCreate{Name: "a", Description: "x"})
	b, _ := store.CreateEntity(ctx, EntityCreate{Name: "b", Description: "y"})
	c, _ := store.CreateEntity(ctx, EntityCreate{Name: "c", Description: "z"})

	mustRel := func(src, dst int64, desc string) {
		_, err := store.CreateRelationship(ctx, RelationshipCreate{SourceEntityID: src, TargetEntityID: dst, Description: desc})
		require.NoError(t, err)
	}
	mustRel(a.ID, b.ID, "r1")
	mustRel(a.ID, c.ID, "r2")
	mustRel(b.ID, a.ID, "r3")

	single, err := store.CalcEntityDegree(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, single.InDegree)
	assert.Equal(t, 2, single.OutDegree)
	assert.Equal(t, 3, single.Degrees)

	bulk, err := store.BulkCalcEntitiesDegrees(ctx, []int64{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, single, bulk[a.ID])
	assert.Equal(t, &EntityDegree{InDegree: 1, OutDegree: 1, Degrees: 2}, bulk[b.ID])
	assert.Equal(t, &EntityDegree{InDegree: 1, OutDegree: 0, Degrees: 1}, bulk[c.ID])
}

func TestSaveGraph_IdempotentPerChunk(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	payload := GraphPayload{
		ChunkID: uuid.New(),
		Entities: []EntityCreate{
			{Name: "a", Description: "x"},
			{Name: "b", Description: "y"},
		},
		Relationships: []RelationshipSpec{
			{SourceName: "a", TargetName: "b", Description: "links"},
		},
	}
	require.NoError(t, store.SaveGraph(ctx, payload))
	require.NoError(t, store.SaveGraph(ctx, payload))

	rels, err := store.ListRelationships(ctx, RelationshipFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
	assert.Equal(t, payload.ChunkID, rels[0].ChunkID)

	exists, err := store.HasChunkRelationships(ctx, payload.ChunkID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSaveGraph_FailureLeavesNoPartialState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	payload := GraphPayload{
		ChunkID: uuid.New(),
		Entities: []EntityCreate{
			{Name: "a", Description: "x"},
			{Name: "b", Description: "y"},
		},
		Relationships: []RelationshipSpec{
			{SourceName: "a", TargetName: "b", Description: "links"},
			{SourceName: "missing", TargetName: "b", Description: "dangling"},
		},
	}
	err := store.SaveGraph(ctx, payload)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	// 整个载荷回滚: 已建好的实体和首条关系都不残留
	entities, err := store.ListEntities(ctx, EntityFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, entities)
	rels, err := store.ListRelationships(ctx, RelationshipFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, rels)

	// 回滚后同一分块可以重新摄入
	payload.Relationships = payload.Relationships[:1]
	require.NoError(t, store.SaveGraph(ctx, payload))
	rels, err = store.ListRelationships(ctx, RelationshipFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestSaveGraph_RequiresChunkID(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.SaveGraph(context.Background(), GraphPayload{})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestDeleteEntity_CascadesRelationships(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateEntity(ctx, EntityCreate{Name: "a", Description: "x"})
	b, _ := store.CreateEntity(ctx, EntityCreate{Name: "b", Description: "y"})
	_, err := store.CreateRelationship(ctx, RelationshipCreate{SourceEntityID: a.ID, TargetEntityID: b.ID, Description: "links"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteEntity(ctx, a.ID))

	rels, err := store.ListRelationships(ctx, RelationshipFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, rels)

	_, err = store.GetEntity(ctx, a.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestSearchSynopsisEntitiesByVector_RankedByQuery(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	query := testutil.UnitVector(testDim, 0)
	embedder.Set("offtopic: unrelated", testutil.UnitVector(testDim, 1))
	embedder.Set("neartopic: adjacent", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.3))
	embedder.Set("ontopic: relevant", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.05))

	// 离题概要实体先落库, 拿到最小的 ID
	for _, e := range []EntityCreate{
		{Name: "offtopic", Description: "unrelated", EntityType: EntityTypeSynopsis},
		{Name: "neartopic", Description: "adjacent", EntityType: EntityTypeSynopsis},
		{Name: "ontopic", Description: "relevant", EntityType: EntityTypeSynopsis},
		{Name: "orig", Description: "x"},
	} {
		_, err := store.CreateEntity(ctx, e)
		require.NoError(t, err)
	}

	// 截断按查询相似度而不是 ID 顺序, 离题实体挤不掉相关实体
	got, err := store.SearchSynopsisEntitiesByVector(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ontopic", got[0].Name)
	assert.Equal(t, "neartopic", got[1].Name)
	for _, e := range got {
		assert.Equal(t, EntityTypeSynopsis, e.EntityType)
	}
}

func TestUpdateEntity_RecomputesVector(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	embedder.Set("a: old", testutil.UnitVector(testDim, 0))
	embedder.Set("a: new", testutil.UnitVector(testDim, 1))

	e, err := store.CreateEntity(ctx, EntityCreate{Name: "a", Description: "old"})
	require.NoError(t, err)

	desc := "new"
	updated, err := store.UpdateEntity(ctx, e.ID, EntityUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Description)
	assert.Equal(t, testutil.UnitVector(testDim, 1), updated.DescriptionVec)
}

func TestUpdateEntity_ReembedsConnectedRelationships(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateEntity(ctx, EntityCreate{Name: "a", Description: "x"})
	require.NoError(t, err)
	b, err := store.CreateEntity(ctx, EntityCreate{Name: "b", Description: "y"})
	require.NoError(t, err)

	embedder.Set("a(x) -> links -> b(y)", testutil.UnitVector(testDim, 0))
	r, err := store.CreateRelationship(ctx, RelationshipCreate{SourceEntityID: a.ID, TargetEntityID: b.ID, Description: "links"})
	require.NoError(t, err)
	require.Equal(t, testutil.UnitVector(testDim, 0), r.DescriptionVec)

	// 关系向量带端点语境, 改名后要用新语境重算
	embedder.Set("a2(x) -> links -> b(y)", testutil.UnitVector(testDim, 1))
	name := "a2"
	_, err = store.UpdateEntity(ctx, a.ID, EntityUpdate{Name: &name})
	require.NoError(t, err)

	after, err := store.GetRelationship(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.UnitVector(testDim, 1), after.DescriptionVec)
}
