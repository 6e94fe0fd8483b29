package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphflow/kb"
)

func newTestCache(t *testing.T, inner *FusionRetriever) (*CachedRetriever, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCachedRetriever(inner, client, DefaultCacheConfig(), nil), mr
}

func TestCachedRetriever_HitSkipsInner(t *testing.T) {
	src := &fakeGraphSource{desc: kb.Descriptor{ID: "kb1"}, result: graphResult(1, 10, 20, "links", 1, 1)}
	cached, _ := newTestCache(t, newTestRetriever([]GraphSource{src}, nil))
	ctx := context.Background()

	first, err := cached.RetrieveKnowledgeGraph(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	// 命中缓存后, 即使底层失效也返回旧结果
	src.err = errors.New("backend down")
	second, err := cached.RetrieveKnowledgeGraph(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first.Relationships, second.Relationships)
	assert.Equal(t, first.Entities, second.Entities)
}

func TestCachedRetriever_PartialResultNotCached(t *testing.T) {
	ok := &fakeGraphSource{desc: kb.Descriptor{ID: "kb1"}, result: graphResult(1, 10, 20, "links", 1, 1)}
	bad := &fakeGraphSource{desc: kb.Descriptor{ID: "kb2"}, err: errors.New("down")}
	cached, _ := newTestCache(t, newTestRetriever([]GraphSource{ok, bad}, nil))
	ctx := context.Background()

	result, err := cached.RetrieveKnowledgeGraph(ctx, "q")
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)

	// 带失败注解的结果不进缓存, 第二次仍然打到底层
	_, err = cached.RetrieveKnowledgeGraph(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, ok.calls)
}

func TestCachedRetriever_DistinctQueriesDistinctKeys(t *testing.T) {
	src := &fakeGraphSource{desc: kb.Descriptor{ID: "kb1"}, result: graphResult(1, 10, 20, "links", 1, 1)}
	cached, mr := newTestCache(t, newTestRetriever([]GraphSource{src}, nil))
	ctx := context.Background()

	_, err := cached.RetrieveKnowledgeGraph(ctx, "q1")
	require.NoError(t, err)
	_, err = cached.RetrieveKnowledgeGraph(ctx, "q2")
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
	assert.Len(t, mr.Keys(), 2)
}

func TestCachedRetriever_Invalidate(t *testing.T) {
	src := &fakeGraphSource{desc: kb.Descriptor{ID: "kb1"}, result: graphResult(1, 10, 20, "links", 1, 1)}
	cached, _ := newTestCache(t, newTestRetriever([]GraphSource{src}, nil))
	ctx := context.Background()

	_, err := cached.RetrieveKnowledgeGraph(ctx, "q")
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(ctx, "q"))

	_, err = cached.RetrieveKnowledgeGraph(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
