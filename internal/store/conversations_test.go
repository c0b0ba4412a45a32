package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrichman/scry/internal/scrytype"
)

func TestConversationCreateGetFindByOrigin(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)

	now := time.Now().Truncate(time.Second)
	c := scrytype.Conversation{
		ID:        "conv-1",
		Title:     "trip planning",
		Source:    scrytype.SourceChatGPT,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, uow.Conversations.Create(ctx, c, "origin-abc"))

	got, ok, err := uow.Conversations.GetByID(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "trip planning", got.Title)
	assert.Equal(t, scrytype.SourceChatGPT, got.Source)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)

	found, ok, err := uow.Conversations.FindByOrigin(ctx, scrytype.SourceChatGPT, "origin-abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "conv-1", found.ID)

	_, ok, err = uow.Conversations.FindByOrigin(ctx, scrytype.SourceChatGPT, "no-such-origin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConversationGetAllOrdersByUpdatedDesc(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "old", Source: scrytype.SourceClaude, CreatedAt: older, UpdatedAt: older,
	}, "o1"))
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "new", Source: scrytype.SourceClaude, CreatedAt: newer, UpdatedAt: newer,
	}, "o2"))

	all, err := uow.Conversations.GetAll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "old", all[1].ID)
}

func TestConversationGetWithMessages(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)

	now := time.Now()
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "conv-1", Source: scrytype.SourceClaude, CreatedAt: now, UpdatedAt: now,
	}, "o1"))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "conv-1", Role: scrytype.RoleUser, Content: "hi", CreatedAt: now, InsertionSeq: 0,
	}))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m2", ConversationID: "conv-1", Role: scrytype.RoleAssistant, Content: "hello", CreatedAt: now, InsertionSeq: 1,
	}))

	c, messages, ok, err := uow.Conversations.GetWithMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "conv-1", c.ID)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
}

func TestConversationStatsAndDelete(t *testing.T) {
	ctx := context.Background()
	uow := setupUOW(t)

	now := time.Now()
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "c1", Source: scrytype.SourceChatGPT, CreatedAt: now, UpdatedAt: now,
	}, "o1"))
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: "c2", Source: scrytype.SourceClaude, CreatedAt: now, UpdatedAt: now,
	}, "o2"))
	require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
		ID: "m1", ConversationID: "c1", Role: scrytype.RoleUser, Content: "hi", CreatedAt: now,
	}))

	stats, err := uow.Conversations.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalConversations)
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.BySource["chatgpt"])
	assert.Equal(t, 1, stats.BySource["claude"])
	assert.Equal(t, 2, stats.Last24h)

	count, err := uow.Conversations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, uow.Conversations.Delete(ctx, "c1"))
	_, ok, err := uow.Conversations.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	messages, err := uow.Messages.GetByConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}
