package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrichman/scry/internal/scrytype"
)

func TestEmbeddingUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}))

	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m1", "model-a", []float64{1, 0, 0}))
	e, ok, err := uow.Embeddings.GetForMessage(ctx, "m1", "model-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0, 0}, e.Vector)

	// Upsert replaces the vector for the same (message, model) pair.
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m1", "model-a", []float64{0, 1, 0}))
	e, ok, err = uow.Embeddings.GetForMessage(ctx, "m1", "model-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 1, 0}, e.Vector)
}

func TestEmbeddingCoverageStats(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m2", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "there", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m1", "model-a", []float64{1, 0}))

	stats, err := uow.Embeddings.GetCoverageStats(ctx, "model-a")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.EmbeddedMessages)
}

func TestEmbeddingNearestBruteForce(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
			ID: id, ConversationID: "conv-1", Role: scrytype.RoleUser, Content: id, CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m1", "model-a", []float64{1, 0}))
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m2", "model-a", []float64{0, 1}))
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m3", "model-a", []float64{0.9, 0.1}))

	hits, err := uow.Embeddings.NearestBruteForce(ctx, "model-a", []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "m1", hits[0].MessageID)
	assert.Equal(t, "m3", hits[1].MessageID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestEmbeddingNearestVec0UnavailableWithoutConfig(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "m1", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m1", "model-a", []float64{1, 0}))

	// setupUOW opens the database without store.WithVectorConfig, so the
	// vec0 path is unavailable and callers must fall back to
	// NearestBruteForce.
	hits, ok := uow.Embeddings.NearestVec0(ctx, "model-a", []float64{1, 0}, 2)
	assert.False(t, ok)
	assert.Nil(t, hits)
}
