// Package scrytype defines the uniform message/conversation model shared by
// every extractor, repository, and search component in the archive.
package scrytype

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three roles messages may carry.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Source tags the archive product a conversation was exported from.
type Source string

const (
	SourceChatGPT   Source = "chatgpt"
	SourceClaude    Source = "claude"
	SourceOpenWebUI Source = "openwebui"
	SourceDocx      Source = "docx"
	SourceYouTube   Source = "youtube"
)

// Conversation is a single archived thread, identified internally by ID and
// externally (within its origin product) by an origin ID carried in its
// first message's metadata.
type Conversation struct {
	ID        string
	Title     string
	Source    Source
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssistantName derives a human label for the conversation's AI participant
// from its source tag, falling back to scanning message content for
// "**X said**" markers and finally to "AI". Mirrors the legacy adapter's
// _derive_assistant_name.
func (c Conversation) AssistantName(messages []Message) string {
	switch c.Source {
	case SourceClaude:
		return "Claude"
	case SourceChatGPT:
		return "ChatGPT"
	}
	for _, m := range messages {
		lower := strings.ToLower(m.Content)
		if strings.Contains(lower, "**claude said**") {
			return "Claude"
		}
		if strings.Contains(lower, "**chatgpt said**") {
			return "ChatGPT"
		}
	}
	return "AI"
}

// Message is one turn in a Conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
	// InsertionSeq breaks created_at ties, preserving extractor emission
	// order within a conversation.
	InsertionSeq int
	Metadata     MessageMetadata
}

// MessageMetadata is the arbitrary per-message JSON blob: source tag,
// origin conversation id (for duplicate detection), and attachments.
type MessageMetadata struct {
	Source               Source         `json:"source,omitempty"`
	OriginConversationID string         `json:"original_conversation_id,omitempty"`
	Attachments          []Attachment   `json:"attachments,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}

// AttachmentKind discriminates the Attachment sum type.
type AttachmentKind string

const (
	AttachmentFile      AttachmentKind = "file"
	AttachmentImage     AttachmentKind = "image"
	AttachmentCode      AttachmentKind = "code"
	AttachmentReasoning AttachmentKind = "reasoning"
	AttachmentAudio     AttachmentKind = "audio"
	AttachmentCitation  AttachmentKind = "citation"
	AttachmentArtifact  AttachmentKind = "artifact"
)

// Attachment is a polymorphic record embedded in Message.Metadata. Available
// is true iff textual content was captured in the export (searchable);
// false denotes a reference-only placeholder (e.g. an image pointer).
type Attachment struct {
	Kind             AttachmentKind `json:"type"`
	FileName         string         `json:"file_name,omitempty"`
	FileSize         int64          `json:"file_size,omitempty"`
	FileType         string         `json:"file_type,omitempty"`
	ExtractedContent string         `json:"extracted_content,omitempty"`
	Available        bool           `json:"available"`
	Language         string         `json:"language,omitempty"`
	CitationURL      string         `json:"citation_url,omitempty"`
}

// MessageEmbedding is the 1:1 (message, model) vector row computed
// asynchronously by the embedding worker.
type MessageEmbedding struct {
	MessageID string
	Vector    []float64
	Model     string
	CreatedAt time.Time
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobLeased    JobStatus = "leased"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a queued unit of asynchronous work, e.g. "generate_embedding".
type Job struct {
	ID             string
	Kind           string
	Payload        json.RawMessage
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	CreatedAt      time.Time
	AvailableAt    time.Time
}

// EmbeddingJobPayload is the payload shape for "generate_embedding" jobs.
type EmbeddingJobPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Model          string `json:"model"`
}

// Setting is a process-wide key/value row, last-write-wins.
type Setting struct {
	Key   string
	Value string
}
