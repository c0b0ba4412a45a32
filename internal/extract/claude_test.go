package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeExtractorMapsSenderToRole(t *testing.T) {
	raw := json.RawMessage(`[{
		"uuid": "abc-123",
		"name": "trip planning",
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": "2024-01-02T00:00:00Z",
		"chat_messages": [
			{"sender": "human", "text": "where should I go", "created_at": "2024-01-01T00:00:00Z"},
			{"sender": "assistant", "text": "how about Kyoto", "created_at": "2024-01-01T00:05:00Z"}
		]
	}]`)

	e := NewClaudeExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, scrytype.RoleUser, convs[0].Messages[0].Role)
	assert.Equal(t, scrytype.RoleAssistant, convs[0].Messages[1].Role)
}

func TestClaudeExtractorAttachmentVariants(t *testing.T) {
	raw := json.RawMessage(`[{
		"uuid": "abc-124",
		"name": "files",
		"chat_messages": [
			{"sender": "human", "text": "see attached", "attachments": [{"file_name": "notes.txt", "extracted_content": "hello"}]},
			{"sender": "human", "text": "and this image", "files": [{"file_name": "photo.png"}]},
			{"sender": "assistant", "text": "here's a doc", "content": [{"type": "tool_use", "name": "artifacts", "input": {"title": "summary", "type": "text/markdown", "content": "# Summary"}}]}
		]
	}]`)

	e := NewClaudeExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs := convs[0].Messages
	require.Len(t, msgs, 3)

	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, scrytype.AttachmentFile, msgs[0].Attachments[0].Kind)
	assert.True(t, msgs[0].Attachments[0].Available)

	require.Len(t, msgs[1].Attachments, 1)
	assert.Equal(t, scrytype.AttachmentImage, msgs[1].Attachments[0].Kind)
	assert.False(t, msgs[1].Attachments[0].Available)

	require.Len(t, msgs[2].Attachments, 1)
	assert.Equal(t, scrytype.AttachmentArtifact, msgs[2].Attachments[0].Kind)
	assert.Equal(t, "summary.md", msgs[2].Attachments[0].FileName)
}
