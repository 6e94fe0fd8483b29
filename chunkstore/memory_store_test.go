package chunkstore

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

func TestSaveChunks_AssignsIDsAndVectors(t *testing.T) {
	embedder := testutil.NewStubEmbedder(testDim)
	store := NewMemoryChunkStore(embedder, nil)
	ctx := context.Background()

	saved, err := store.SaveChunks(ctx, []ChunkCreate{
		{Content: "first"},
		{Content: "second", DocumentID: 7},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.NotEqual(t, uuid.Nil, saved[0].ID)
	assert.Len(t, saved[0].ContentVec, testDim)
	assert.Equal(t, int64(7), saved[1].DocumentID)

	got, err := store.GetChunk(ctx, saved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
}

func TestSaveChunks_SameIDOverwrites(t *testing.T) {
	embedder := testutil.NewStubEmbedder(testDim)
	store := NewMemoryChunkStore(embedder, nil)
	ctx := context.Background()
	id := uuid.New()

	_, err := store.SaveChunks(ctx, []ChunkCreate{{ID: id, Content: "old"}})
	require.NoError(t, err)
	_, err = store.SaveChunks(ctx, []ChunkCreate{{ID: id, Content: "new"}})
	require.NoError(t, err)

	got, err := store.GetChunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)
}

func TestSaveChunks_EmptyContentRejected(t *testing.T) {
	store := NewMemoryChunkStore(testutil.NewStubEmbedder(testDim), nil)
	_, err := store.SaveChunks(context.Background(), []ChunkCreate{{Content: ""}})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestSearchSimilarChunks_TwoPhase(t *testing.T) {
	embedder := testutil.NewStubEmbedder(testDim)
	store := NewMemoryChunkStore(embedder, nil)
	ctx := context.Background()

	query := testutil.UnitVector(testDim, 0)
	embedder.Set("query", query)
	embedder.Set("close", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.05))
	embedder.Set("near", testutil.BlendVectors(query, testutil.UnitVector(testDim, 1), 0.2))
	embedder.Set("far", testutil.UnitVector(testDim, 2))

	_, err := store.SaveChunks(ctx, []ChunkCreate{
		{Content: "close"}, {Content: "near"}, {Content: "far"},
	})
	require.NoError(t, err)

	results, err := store.SearchSimilarChunks(ctx, "query", SearchOptions{TopK: 2, SimilarityThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].Chunk.Content)
	assert.Equal(t, "near", results[1].Chunk.Content)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestDeleteChunk(t *testing.T) {
	store := NewMemoryChunkStore(testutil.NewStubEmbedder(testDim), nil)
	ctx := context.Background()

	saved, err := store.SaveChunks(ctx, []ChunkCreate{{Content: "x"}})
	require.NoError(t, err)
	require.NoError(t, store.DeleteChunk(ctx, saved[0].ID))

	_, err = store.GetChunk(ctx, saved[0].ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(store.DeleteChunk(ctx, saved[0].ID)))
}
