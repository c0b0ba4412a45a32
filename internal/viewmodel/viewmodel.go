// Package viewmodel assembles store types into the response shapes the
// external search API returns, mirroring the legacy format service's
// list/detail/search view splits without carrying over its HTML rendering.
package viewmodel

import (
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

// defaultPreviewLength matches the legacy adapter's preview truncation.
const defaultPreviewLength = 200

// ConversationListItem is one row of the "list conversations" response.
type ConversationListItem struct {
	ID      string
	Title   string
	Preview string
	Date    time.Time
	Source  scrytype.Source
}

// MessageView is one message within a ConversationView.
type MessageView struct {
	Role        scrytype.Role
	Content     string
	Timestamp   time.Time
	Attachments []scrytype.Attachment
}

// ConversationView is the "get conversation" detail response shape.
type ConversationView struct {
	ID            string
	Title         string
	Source        scrytype.Source
	Date          time.Time
	AssistantName string
	Messages      []MessageView
}

// AssembleConversation builds the detail view for one conversation plus its
// messages, deriving AssistantName the way Conversation.AssistantName does.
func AssembleConversation(conv scrytype.Conversation, messages []scrytype.Message) ConversationView {
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, MessageView{
			Role:        m.Role,
			Content:     m.Content,
			Timestamp:   m.CreatedAt,
			Attachments: m.Metadata.Attachments,
		})
	}
	return ConversationView{
		ID:            conv.ID,
		Title:         titleOrDefault(conv.Title),
		Source:        conv.Source,
		Date:          conv.CreatedAt,
		AssistantName: conv.AssistantName(messages),
		Messages:      views,
	}
}

// AssembleListItem builds one "list conversations" row. previewSource is
// typically the conversation's first message content.
func AssembleListItem(conv scrytype.Conversation, previewSource string) ConversationListItem {
	return ConversationListItem{
		ID:      conv.ID,
		Title:   titleOrDefault(conv.Title),
		Preview: scrytype.Preview(previewSource, defaultPreviewLength),
		Date:    conv.UpdatedAt,
		Source:  conv.Source,
	}
}

func titleOrDefault(title string) string {
	if title == "" {
		return "Untitled Conversation"
	}
	return title
}
