package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphflow/types"
)

type countingProvider struct {
	calls int
}

func (c *countingProvider) Dimensions() int { return 2 }

func (c *countingProvider) EmbedQuery(ctx context.Context, text string) (types.Vector, error) {
	c.calls++
	return types.Vector{1, 0}, nil
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([]types.Vector, error) {
	c.calls++
	out := make([]types.Vector, len(texts))
	for i := range out {
		out[i] = types.Vector{1, 0}
	}
	return out, nil
}

func TestRateLimited_PassesThrough(t *testing.T) {
	inner := &countingProvider{}
	limited := NewRateLimited(inner, 1000, 10)

	vec, err := limited.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, types.Vector{1, 0}, vec)
	assert.Equal(t, 2, limited.Dimensions())

	vecs, err := limited.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.calls)
}

func TestRateLimited_CancelledContext(t *testing.T) {
	inner := &countingProvider{}
	// burst 1, 极低速率: 第二次调用必须等待
	limited := NewRateLimited(inner, 0.001, 1)

	_, err := limited.EmbedQuery(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.EmbedQuery(ctx, "b")
	assert.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
