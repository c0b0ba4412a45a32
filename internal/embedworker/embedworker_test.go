package embedworker

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrichman/scry/internal/embedding"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/store"
)

func setupUOW(t *testing.T) *store.UnitOfWork {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	return store.NewUnitOfWork(db)
}

func TestWorkerEmbedsQueuedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uow := setupUOW(t)
	now := time.Now()
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "c1", Source: scrytype.SourceChatGPT, CreatedAt: now, UpdatedAt: now,
	}, "o1"))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "c1", Role: scrytype.RoleUser, Content: "hello there", CreatedAt: now,
	}))

	provider := embedding.NewStubProvider()
	require.NoError(t, Enqueue(ctx, uow.Jobs, "job-1", scrytype.EmbeddingJobPayload{
		MessageID:      "m1",
		ConversationID: "c1",
		Content:        "hello there",
		Model:          provider.Model(),
	}, 3))

	w := New(uow, provider, Options{
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Minute,
	}, zerolog.Nop())
	w.Start(ctx)
	require.Eventually(t, func() bool {
		_, ok, err := uow.Embeddings.GetForMessage(ctx, "m1", provider.Model())
		return err == nil && ok
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	e, ok, err := uow.Embeddings.GetForMessage(ctx, "m1", provider.Model())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, e.Vector)

	stats, err := uow.Jobs.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
}

func TestWorkerSkipsEmptyContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uow := setupUOW(t)
	provider := embedding.NewStubProvider()
	require.NoError(t, Enqueue(ctx, uow.Jobs, "job-1", scrytype.EmbeddingJobPayload{
		MessageID: "m-missing",
		Content:   "",
		Model:     provider.Model(),
	}, 3))

	w := New(uow, provider, Options{
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Minute,
	}, zerolog.Nop())
	w.Start(ctx)
	require.Eventually(t, func() bool {
		stats, err := uow.Jobs.GetQueueStats(ctx)
		return err == nil && stats.Completed == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()
}

func TestWorkerEmbedsBatchInOneProviderCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uow := setupUOW(t)
	now := time.Now()
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "c1", Source: scrytype.SourceChatGPT, CreatedAt: now, UpdatedAt: now,
	}, "o1"))

	provider := embedding.NewStubProvider()
	for i, id := range []string{"m1", "m2", "m3"} {
		content := "message body " + id
		require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
			ID: id, ConversationID: "c1", Role: scrytype.RoleUser, Content: content, CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
		require.NoError(t, Enqueue(ctx, uow.Jobs, "job-"+id, scrytype.EmbeddingJobPayload{
			MessageID:      id,
			ConversationID: "c1",
			Content:        content,
			Model:          provider.Model(),
		}, 3))
	}

	w := New(uow, provider, Options{
		PollInterval:  10 * time.Millisecond,
		LeaseDuration: time.Minute,
		BatchSize:     10,
	}, zerolog.Nop())
	w.Start(ctx)
	require.Eventually(t, func() bool {
		stats, err := uow.Jobs.GetQueueStats(ctx)
		return err == nil && stats.Completed == 3
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	for _, id := range []string{"m1", "m2", "m3"} {
		e, ok, err := uow.Embeddings.GetForMessage(ctx, id, provider.Model())
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, e.Vector)
	}
}
