package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/textclean"
)

// chatgptConversation mirrors the subset of a ChatGPT export's per-conversation
// shape this extractor cares about: a title, a creation time, and a node
// mapping keyed by node id.
type chatgptConversation struct {
	ID         string                 `json:"id"`
	Title      *string                `json:"title"`
	CreateTime *float64               `json:"create_time"`
	UpdateTime *float64               `json:"update_time"`
	Mapping    map[string]chatgptNode `json:"mapping"`
}

type chatgptNode struct {
	CreateTime *float64        `json:"create_time"`
	Message    *chatgptMessage `json:"message"`
}

type chatgptMessage struct {
	Author     chatgptAuthor      `json:"author"`
	Content    chatgptContent     `json:"content"`
	CreateTime *float64           `json:"create_time"`
	Metadata   chatgptMessageMeta `json:"metadata"`
}

type chatgptAuthor struct {
	Role string `json:"role"`
}

type chatgptContent struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts"`
	// Text and Language are only populated for content_type "code": real
	// ChatGPT exports shape a code message as {content_type, language,
	// text}, with no parts array at all.
	Text     string `json:"text"`
	Language string `json:"language"`
}

// chatgptMultimodalPart is one element of a "multimodal_text" message's
// parts array. Plain text turns put a bare JSON string in parts instead of
// one of these objects, so a part failing to unmarshal here is a text part,
// not an error.
type chatgptMultimodalPart struct {
	ContentType  string `json:"content_type"`
	AssetPointer string `json:"asset_pointer"`
	Text         string `json:"text"`
}

type chatgptMessageMeta struct {
	ContentReferences []chatgptContentReferenceGroup `json:"content_references"`
	Attachments       []chatgptMetaAttachment        `json:"attachments"`
}

// chatgptContentReferenceGroup is one citation group under
// metadata.content_references; real exports nest the actual citations under
// Items, not as flat fields on the group itself.
type chatgptContentReferenceGroup struct {
	Type  string                  `json:"type"`
	Items []chatgptContentRefItem `json:"items"`
}

type chatgptContentRefItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// chatgptMetaAttachment is metadata.attachments[], keyed by ID to resolve a
// multimodal_text image part's asset_pointer to a file name/size/mime type.
type chatgptMetaAttachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// ChatGPTExtractor reads the node-mapping export ChatGPT's "Export data"
// feature produces: a dict of node id -> node, chained by parent pointers,
// where each node optionally carries a message.
type ChatGPTExtractor struct{}

func NewChatGPTExtractor() *ChatGPTExtractor { return &ChatGPTExtractor{} }

func (e *ChatGPTExtractor) Name() string    { return "chatgpt" }
func (e *ChatGPTExtractor) Version() string { return "1.0.0" }

func (e *ChatGPTExtractor) Metadata() Metadata {
	return Metadata{
		Name:       "ChatGPT",
		Version:    e.Version(),
		Extensions: []string{".json"},
		AutoDetect: true,
		Streaming:  false,
		FileBased:  false,
		FormatSpec: "conversation dict with a mapping key of node_id -> node, each node carrying message.author.role and message.content.parts",
	}
}

func (e *ChatGPTExtractor) Detect(raw json.RawMessage) (bool, int) {
	var c chatgptConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return false, 0
	}
	if c.Title != nil && c.Mapping != nil && c.CreateTime != nil {
		return true, 100
	}
	return false, 0
}

func (e *ChatGPTExtractor) ExtractFromBytes(ctx context.Context, raw json.RawMessage, opts Options) ([]ExtractedConversation, error) {
	var conversations []chatgptConversation
	if err := json.Unmarshal(raw, &conversations); err != nil {
		var single chatgptConversation
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("chatgpt: decode: %w", err)
		}
		conversations = []chatgptConversation{single}
	}

	out := make([]ExtractedConversation, 0, len(conversations))
	for _, c := range conversations {
		ec := extractChatGPTConversation(c)
		if len(ec.Messages) == 0 {
			continue
		}
		out = append(out, ec)
	}
	return out, nil
}

func (e *ChatGPTExtractor) ExtractFromFile(ctx context.Context, path, filename string, opts Options) ([]ExtractedConversation, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("chatgpt: read %s: %w", path, err)
	}
	convs, err := e.ExtractFromBytes(ctx, raw, opts)
	return convs, filename, err
}

func extractChatGPTConversation(c chatgptConversation) ExtractedConversation {
	type ordered struct {
		nodeID string
		ts     float64
		node   chatgptNode
	}
	nodes := make([]ordered, 0, len(c.Mapping))
	for id, node := range c.Mapping {
		ts := 0.0
		if node.CreateTime != nil {
			ts = *node.CreateTime
		}
		nodes = append(nodes, ordered{nodeID: id, ts: ts, node: node})
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].ts != nodes[j].ts {
			return nodes[i].ts < nodes[j].ts
		}
		return nodes[i].nodeID < nodes[j].nodeID
	})

	var messages []ExtractedMessage
	for _, o := range nodes {
		msg := o.node.Message
		if msg == nil {
			continue
		}
		role := chatgptRole(msg.Author.Role)
		if role == "" {
			continue
		}

		attachments := extractChatGPTAttachments(msg)

		content := firstStringPart(msg.Content.Parts)
		if content == "" && msg.Content.ContentType == "code" {
			content = msg.Content.Text
		}
		if content == "" {
			if ph := reasoningPlaceholder(msg.Content.ContentType); ph != "" && len(attachments) > 0 {
				content = ph
			} else if len(attachments) > 0 {
				content = "[Attachment]"
			}
		}
		content = textclean.Clean(content)
		if content == "" {
			continue
		}

		createdAt := firstNonZero(msg.CreateTime, o.node.CreateTime)
		em := ExtractedMessage{
			Role:        role,
			Content:     content,
			Attachments: attachments,
		}
		if createdAt != nil {
			em.CreatedAt = time.Unix(int64(*createdAt), 0).UTC()
			em.HasTime = true
		}
		messages = append(messages, em)
	}

	title := ""
	if c.Title != nil {
		title = *c.Title
	}
	ec := ExtractedConversation{
		OriginID: c.ID,
		Title:    title,
		Source:   scrytype.SourceChatGPT,
		Messages: messages,
	}
	if c.CreateTime != nil {
		ec.CreatedAt = time.Unix(int64(*c.CreateTime), 0).UTC()
	}
	if c.UpdateTime != nil {
		ec.UpdatedAt = time.Unix(int64(*c.UpdateTime), 0).UTC()
	} else {
		ec.UpdatedAt = ec.CreatedAt
	}
	return ec
}

func chatgptRole(role string) scrytype.Role {
	switch role {
	case "user":
		return scrytype.RoleUser
	case "assistant":
		return scrytype.RoleAssistant
	default:
		return ""
	}
}

func reasoningPlaceholder(contentType string) string {
	switch contentType {
	case "thoughts":
		return "[Reasoning process]"
	case "reasoning_recap":
		return "[Reasoning summary]"
	default:
		return ""
	}
}

// firstStringPart returns the first plain-text element of a parts array. A
// "multimodal_text" part that doesn't decode as a bare string is an object
// (image/audio/etc.) and is skipped, not an error.
func firstStringPart(parts []json.RawMessage) string {
	for _, raw := range parts {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// assetIDFromPointer strips the file-service scheme ChatGPT export asset
// pointers use (e.g. "file-service://file-abc123") down to the bare id that
// metadata.attachments[].id matches against.
func assetIDFromPointer(pointer string) string {
	return strings.TrimPrefix(pointer, "file-service://")
}

func firstNonZero(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func extractChatGPTAttachments(msg *chatgptMessage) []scrytype.Attachment {
	var out []scrytype.Attachment
	switch msg.Content.ContentType {
	case "code":
		if msg.Content.Text != "" {
			out = append(out, scrytype.Attachment{
				Kind:             scrytype.AttachmentCode,
				ExtractedContent: msg.Content.Text,
				Language:         msg.Content.Language,
				Available:        true,
			})
		}
	case "thoughts", "reasoning_recap":
		out = append(out, scrytype.Attachment{Kind: scrytype.AttachmentReasoning, Available: false})
	case "multimodal_text":
		out = append(out, extractChatGPTMultimodalParts(msg)...)
	}
	for _, group := range msg.Metadata.ContentReferences {
		for _, item := range group.Items {
			if item.URL == "" {
				continue
			}
			out = append(out, scrytype.Attachment{
				Kind:        scrytype.AttachmentCitation,
				CitationURL: item.URL,
				FileName:    item.Title,
				Available:   false,
			})
		}
	}
	return out
}

// extractChatGPTMultimodalParts dispatches each part of a "multimodal_text"
// message by its own content_type: an image_asset_pointer part resolves its
// file name/size/mime type against metadata.attachments[] by asset id, and an
// audio_transcription part carries its transcript text directly.
func extractChatGPTMultimodalParts(msg *chatgptMessage) []scrytype.Attachment {
	byID := make(map[string]chatgptMetaAttachment, len(msg.Metadata.Attachments))
	for _, a := range msg.Metadata.Attachments {
		byID[a.ID] = a
	}

	var out []scrytype.Attachment
	for _, raw := range msg.Content.Parts {
		var part chatgptMultimodalPart
		if err := json.Unmarshal(raw, &part); err != nil {
			continue // a plain text turn in the same parts array
		}
		switch part.ContentType {
		case "image_asset_pointer":
			att := scrytype.Attachment{Kind: scrytype.AttachmentImage, Available: false}
			if meta, ok := byID[assetIDFromPointer(part.AssetPointer)]; ok {
				att.FileName = meta.Name
				att.FileSize = meta.Size
				att.FileType = meta.MimeType
			}
			out = append(out, att)
		case "audio_transcription":
			if part.Text != "" {
				out = append(out, scrytype.Attachment{
					Kind:             scrytype.AttachmentAudio,
					ExtractedContent: part.Text,
					Available:        true,
				})
			}
		}
	}
	return out
}
