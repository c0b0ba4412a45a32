package viewmodel

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrichman/scry/internal/scrytype"
)

func TestAssembleConversationDerivesAssistantNameFromSource(t *testing.T) {
	conv := scrytype.Conversation{ID: "c1", Title: "trip planning", Source: scrytype.SourceClaude, CreatedAt: time.Now()}
	messages := []scrytype.Message{
		{ID: "m1", Role: scrytype.RoleUser, Content: "where should I go"},
		{ID: "m2", Role: scrytype.RoleAssistant, Content: "try iceland"},
	}

	view := AssembleConversation(conv, messages)
	assert.Equal(t, "Claude", view.AssistantName)
	assert.Equal(t, "trip planning", view.Title)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "where should I go", view.Messages[0].Content)
}

func TestAssembleConversationDefaultsUntitled(t *testing.T) {
	conv := scrytype.Conversation{ID: "c1", Source: scrytype.SourceChatGPT, CreatedAt: time.Now()}
	view := AssembleConversation(conv, nil)
	assert.Equal(t, "Untitled Conversation", view.Title)
	assert.Equal(t, "ChatGPT", view.AssistantName)
	assert.Empty(t, view.Messages)
}

func TestAssembleConversationFallsBackToContentMarkers(t *testing.T) {
	conv := scrytype.Conversation{ID: "c1", Source: scrytype.SourceOpenWebUI, CreatedAt: time.Now()}
	messages := []scrytype.Message{
		{ID: "m1", Role: scrytype.RoleAssistant, Content: "**Claude said**: hello there"},
	}
	view := AssembleConversation(conv, messages)
	assert.Equal(t, "Claude", view.AssistantName)
}

func TestAssembleListItemTruncatesPreview(t *testing.T) {
	conv := scrytype.Conversation{ID: "c1", Title: "notes", Source: scrytype.SourceChatGPT, UpdatedAt: time.Now()}
	long := ""
	for i := 0; i < 50; i++ {
		long += "word "
	}
	item := AssembleListItem(conv, long)
	assert.LessOrEqual(t, utf8.RuneCountInString(item.Preview), defaultPreviewLength+1)
	assert.Equal(t, "notes", item.Title)
}
