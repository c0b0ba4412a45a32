package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrichman/scry/internal/scrytype"
)

func seedConversation(t *testing.T, uow *UnitOfWork, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, uow.Conversations.Create(context.Background(), scrytype.Conversation{
		ID: id, Source: scrytype.SourceChatGPT, CreatedAt: now, UpdatedAt: now,
	}, id+"-origin"))
}

func TestMessageSearchFullText(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")

	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser,
		Content: "how do I bake sourdough bread", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m2", ConversationID: "conv-1", Role: scrytype.RoleAssistant,
		Content: "start with a active starter and fold the dough", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m3", ConversationID: "conv-1", Role: scrytype.RoleUser,
		Content: "what's the weather forecast tomorrow", CreatedAt: time.Now(),
	}))

	hits, err := uow.Messages.SearchFullText(ctx, "sourdough", 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].Message.ID)

	hits, err = uow.Messages.SearchFullText(ctx, "dough", 10, "")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestMessageSearchFullTextScopedToConversation(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")
	seedConversation(t, uow, "conv-2")

	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "rocket science basics", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m2", ConversationID: "conv-2", Role: scrytype.RoleUser, Content: "rocket engine design", CreatedAt: time.Now(),
	}))

	hits, err := uow.Messages.SearchFullText(ctx, "rocket", 10, "conv-1")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].Message.ID)
}

func TestMessageSearchTrigramMatchesPartialToken(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")

	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "kubernetes deployment failed", CreatedAt: time.Now(),
	}))

	hits, err := uow.Messages.SearchTrigram(ctx, "kube", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "m1", hits[0].Message.ID)
}

func TestMessageGetByConversationOrdersByCreatedThenSeq(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")

	ts := time.Now()
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "second", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "b", CreatedAt: ts, InsertionSeq: 1,
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "first", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "a", CreatedAt: ts, InsertionSeq: 0,
	}))

	messages, err := uow.Messages.GetByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].ID)
	assert.Equal(t, "second", messages[1].ID)
}

func TestMessageStats(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")

	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "hi", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m2", ConversationID: "conv-1", Role: scrytype.RoleAssistant, Content: "hello", CreatedAt: time.Now(),
	}))
	require.NoError(t, uow.Embeddings.UpsertForMessage(ctx, "m1", "text-embedding-3-small", []float64{0.1, 0.2}))

	stats, err := uow.Messages.GetMessageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.ByRole["user"])
	assert.Equal(t, 1, stats.ByRole["assistant"])
	assert.InDelta(t, 50.0, stats.EmbeddingCoverage, 0.01)
	assert.Equal(t, 2, stats.Last24hCount)
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)
	seedConversation(t, uow, "conv-1")

	meta := scrytype.MessageMetadata{
		Source:               scrytype.SourceChatGPT,
		OriginConversationID: "orig-1",
		Attachments: []scrytype.Attachment{
			{Kind: scrytype.AttachmentCode, Language: "go", ExtractedContent: "func main() {}", Available: true},
		},
	}
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleAssistant, Content: "code", CreatedAt: time.Now(), Metadata: meta,
	}))

	messages, err := uow.Messages.GetByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Metadata.Attachments, 1)
	assert.Equal(t, scrytype.AttachmentCode, messages[0].Metadata.Attachments[0].Kind)
	assert.Equal(t, "orig-1", messages[0].Metadata.OriginConversationID)
}
