package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatGPTExtractorOrdersByCreateTime(t *testing.T) {
	raw := json.RawMessage(`[{
		"id": "conv-1",
		"title": "greetings",
		"create_time": 100.0,
		"update_time": 200.0,
		"mapping": {
			"n2": {"create_time": 20, "message": {"author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["hi back"]}, "create_time": 20}},
			"n1": {"create_time": 10, "message": {"author": {"role": "user"}, "content": {"content_type": "text", "parts": ["hello"]}, "create_time": 10}},
			"n3": {"create_time": 5, "message": {"author": {"role": "system"}, "content": {"content_type": "text", "parts": ["ignored"]}}}
		}
	}]`)

	e := NewChatGPTExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)

	c := convs[0]
	assert.Equal(t, "conv-1", c.OriginID)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, scrytype.RoleUser, c.Messages[0].Role)
	assert.Equal(t, "hello", c.Messages[0].Content)
	assert.Equal(t, scrytype.RoleAssistant, c.Messages[1].Role)
	assert.Equal(t, "hi back", c.Messages[1].Content)
}

func TestChatGPTExtractorReasoningPlaceholder(t *testing.T) {
	raw := json.RawMessage(`[{
		"id": "conv-2",
		"title": "thinking",
		"create_time": 1.0,
		"mapping": {
			"n1": {"create_time": 1, "message": {"author": {"role": "assistant"}, "content": {"content_type": "thoughts", "parts": []}}}
		}
	}]`)

	e := NewChatGPTExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)
	assert.Equal(t, "[Reasoning process]", convs[0].Messages[0].Content)
	require.Len(t, convs[0].Messages[0].Attachments, 1)
	assert.Equal(t, scrytype.AttachmentReasoning, convs[0].Messages[0].Attachments[0].Kind)
}

func TestChatGPTExtractorCodeMessage(t *testing.T) {
	raw := json.RawMessage(`[{
		"id": "conv-code",
		"title": "snippet",
		"create_time": 1.0,
		"mapping": {
			"n1": {"create_time": 1, "message": {"author": {"role": "assistant"}, "content": {"content_type": "code", "language": "python", "text": "print('hi')"}}}
		}
	}]`)

	e := NewChatGPTExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)

	msg := convs[0].Messages[0]
	assert.Equal(t, "print('hi')", msg.Content)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, scrytype.AttachmentCode, msg.Attachments[0].Kind)
	assert.Equal(t, "python", msg.Attachments[0].Language)
	assert.True(t, msg.Attachments[0].Available)
}

func TestChatGPTExtractorMultimodalImageAndAudio(t *testing.T) {
	raw := json.RawMessage(`[{
		"id": "conv-multimodal",
		"title": "media",
		"create_time": 1.0,
		"mapping": {
			"n1": {"create_time": 1, "message": {
				"author": {"role": "user"},
				"content": {
					"content_type": "multimodal_text",
					"parts": [
						{"content_type": "image_asset_pointer", "asset_pointer": "file-service://file-abc123", "size_bytes": 1024, "width": 100, "height": 100},
						{"content_type": "audio_transcription", "text": "hello there", "direction": "in"}
					]
				},
				"metadata": {
					"attachments": [
						{"id": "file-abc123", "name": "photo.png", "size": 1024, "mime_type": "image/png"}
					]
				}
			}}
		}
	}]`)

	e := NewChatGPTExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)

	attachments := convs[0].Messages[0].Attachments
	require.Len(t, attachments, 2)

	assert.Equal(t, scrytype.AttachmentImage, attachments[0].Kind)
	assert.Equal(t, "photo.png", attachments[0].FileName)
	assert.Equal(t, "image/png", attachments[0].FileType)
	assert.False(t, attachments[0].Available)

	assert.Equal(t, scrytype.AttachmentAudio, attachments[1].Kind)
	assert.Equal(t, "hello there", attachments[1].ExtractedContent)
	assert.True(t, attachments[1].Available)
}

func TestChatGPTExtractorGroupedCitations(t *testing.T) {
	raw := json.RawMessage(`[{
		"id": "conv-cite",
		"title": "search",
		"create_time": 1.0,
		"mapping": {
			"n1": {"create_time": 1, "message": {
				"author": {"role": "assistant"},
				"content": {"content_type": "text", "parts": ["here's what I found"]},
				"metadata": {
					"content_references": [
						{"type": "grouped_webpages", "items": [
							{"title": "Example One", "url": "https://example.com/one", "snippet": "..."},
							{"title": "Example Two", "url": "https://example.com/two", "snippet": "..."}
						]}
					]
				}
			}}
		}
	}]`)

	e := NewChatGPTExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 1)

	attachments := convs[0].Messages[0].Attachments
	require.Len(t, attachments, 2)
	assert.Equal(t, scrytype.AttachmentCitation, attachments[0].Kind)
	assert.Equal(t, "https://example.com/one", attachments[0].CitationURL)
	assert.Equal(t, "Example One", attachments[0].FileName)
	assert.Equal(t, "https://example.com/two", attachments[1].CitationURL)
}

func TestChatGPTExtractorSkipsEmptyConversations(t *testing.T) {
	raw := json.RawMessage(`[{
		"id": "conv-3",
		"title": "empty",
		"create_time": 1.0,
		"mapping": {
			"n1": {"create_time": 1, "message": {"author": {"role": "tool"}, "content": {"parts": ["skip me"]}}}
		}
	}]`)

	e := NewChatGPTExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	assert.Empty(t, convs)
}
