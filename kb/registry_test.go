package kb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphflow/types"
)

func TestFormatNamespace(t *testing.T) {
	assert.Equal(t, "my_kb_v2", FormatNamespace("my-kb-v2"))
	assert.Equal(t, "plain", FormatNamespace("plain"))
}

func TestKnowledgeBase_Validate(t *testing.T) {
	assert.Error(t, KnowledgeBase{VectorDimension: 4}.Validate())
	assert.Error(t, KnowledgeBase{ID: "x"}.Validate())
	assert.NoError(t, KnowledgeBase{ID: "x", VectorDimension: 4}.Validate())
}

func TestKnowledgeBase_EffectiveNamespace(t *testing.T) {
	assert.Equal(t, "custom", KnowledgeBase{ID: "x", Namespace: "custom"}.EffectiveNamespace())
	assert.Equal(t, "x", KnowledgeBase{ID: "x"}.EffectiveNamespace())
}

func TestRegistry_BindBuildsTableNames(t *testing.T) {
	r := NewRegistry(nil, nil)
	binding, err := r.Bind(context.Background(), KnowledgeBase{ID: "docs-kb", VectorDimension: 768})
	require.NoError(t, err)

	assert.Equal(t, "docs_kb", binding.Namespace)
	assert.Equal(t, "entities_docs_kb", binding.EntitiesTable)
	assert.Equal(t, "relationships_docs_kb", binding.RelationshipsTable)
	assert.Equal(t, "chunks_docs_kb", binding.ChunksTable)
	assert.Equal(t, 768, binding.Dimension)
}

func TestRegistry_ConcurrentBindConstructsOnce(t *testing.T) {
	var ensured atomic.Int32
	ensurer := SchemaEnsurerFunc(func(ctx context.Context, binding *TableBinding) error {
		ensured.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	r := NewRegistry(ensurer, nil)
	base := KnowledgeBase{ID: "shared", VectorDimension: 128}

	const callers = 10
	bindings := make([]*TableBinding, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := r.Bind(context.Background(), base)
			assert.NoError(t, err)
			bindings[i] = b
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ensured.Load())
	for i := 1; i < callers; i++ {
		// 所有调用者拿到同一个实例, 不只是相等的副本
		assert.Same(t, bindings[0], bindings[i])
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DistinctNamespacesGetDistinctBindings(t *testing.T) {
	r := NewRegistry(nil, nil)
	ctx := context.Background()

	b1, err := r.Bind(ctx, KnowledgeBase{ID: "a", VectorDimension: 128})
	require.NoError(t, err)
	b2, err := r.Bind(ctx, KnowledgeBase{ID: "b", VectorDimension: 128})
	require.NoError(t, err)

	assert.NotSame(t, b1, b2)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_DimensionMismatchRejected(t *testing.T) {
	r := NewRegistry(nil, nil)
	ctx := context.Background()

	_, err := r.Bind(ctx, KnowledgeBase{ID: "a", VectorDimension: 128})
	require.NoError(t, err)

	// 同一命名空间落在同一组物理表上, 换维度是配置错误
	_, err = r.Bind(ctx, KnowledgeBase{ID: "a", VectorDimension: 256})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EnsureFailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	ensurer := SchemaEnsurerFunc(func(ctx context.Context, binding *TableBinding) error {
		if calls.Add(1) == 1 {
			return errors.New("connection refused")
		}
		return nil
	})
	r := NewRegistry(ensurer, nil)
	base := KnowledgeBase{ID: "flaky", VectorDimension: 64}

	_, err := r.Bind(context.Background(), base)
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	assert.Equal(t, 0, r.Len())

	binding, err := r.Bind(context.Background(), base)
	require.NoError(t, err)
	assert.NotNil(t, binding)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(nil, nil)

	_, ok := r.Lookup("missing", 4)
	assert.False(t, ok)

	bound, err := r.Bind(context.Background(), KnowledgeBase{ID: "present", VectorDimension: 4})
	require.NoError(t, err)

	found, ok := r.Lookup("present", 4)
	assert.True(t, ok)
	assert.Same(t, bound, found)
}
