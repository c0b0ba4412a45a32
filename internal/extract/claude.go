package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/textclean"
)

type claudeConversation struct {
	UUID         string          `json:"uuid"`
	Name         *string         `json:"name"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	ChatMessages []claudeMessage `json:"chat_messages"`
}

type claudeMessage struct {
	Sender      string              `json:"sender"`
	Text        string              `json:"text"`
	CreatedAt   string              `json:"created_at"`
	Content     []claudeContentItem `json:"content"`
	Attachments []claudeAttachment  `json:"attachments"`
	Files       []claudeFile        `json:"files"`
}

type claudeContentItem struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Name  string `json:"name"`
	Input struct {
		Content string `json:"content"`
		Title   string `json:"title"`
		Type    string `json:"type"`
	} `json:"input"`
}

type claudeAttachment struct {
	FileName         string `json:"file_name"`
	FileSize         int64  `json:"file_size"`
	FileType         string `json:"file_type"`
	ExtractedContent string `json:"extracted_content"`
}

type claudeFile struct {
	FileName string `json:"file_name"`
}

// ClaudeExtractor reads the chat_messages array export format produced by
// Claude's data export.
type ClaudeExtractor struct{}

func NewClaudeExtractor() *ClaudeExtractor { return &ClaudeExtractor{} }

func (e *ClaudeExtractor) Name() string    { return "claude" }
func (e *ClaudeExtractor) Version() string { return "1.0.0" }

func (e *ClaudeExtractor) Metadata() Metadata {
	return Metadata{
		Name:       "Claude",
		Version:    e.Version(),
		Extensions: []string{".json"},
		AutoDetect: true,
		Streaming:  false,
		FileBased:  false,
		FormatSpec: "list of conversations, each with uuid, name, and a chat_messages array of {sender, text, created_at}",
	}
}

func (e *ClaudeExtractor) Detect(raw json.RawMessage) (bool, int) {
	var c claudeConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return false, 0
	}
	if c.UUID != "" && c.Name != nil && c.ChatMessages != nil {
		return true, 100
	}
	return false, 0
}

func (e *ClaudeExtractor) ExtractFromBytes(ctx context.Context, raw json.RawMessage, opts Options) ([]ExtractedConversation, error) {
	var conversations []claudeConversation
	if err := json.Unmarshal(raw, &conversations); err != nil {
		var single claudeConversation
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("claude: decode: %w", err)
		}
		conversations = []claudeConversation{single}
	}

	out := make([]ExtractedConversation, 0, len(conversations))
	for _, c := range conversations {
		ec := extractClaudeConversation(c)
		if len(ec.Messages) == 0 {
			continue
		}
		out = append(out, ec)
	}
	return out, nil
}

func (e *ClaudeExtractor) ExtractFromFile(ctx context.Context, path, filename string, opts Options) ([]ExtractedConversation, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("claude: read %s: %w", path, err)
	}
	convs, err := e.ExtractFromBytes(ctx, raw, opts)
	return convs, filename, err
}

func extractClaudeConversation(c claudeConversation) ExtractedConversation {
	var messages []ExtractedMessage
	for _, m := range c.ChatMessages {
		role := scrytype.RoleAssistant
		if m.Sender == "human" {
			role = scrytype.RoleUser
		}

		content := textclean.Clean(strings.TrimSpace(m.Text))
		attachments := extractClaudeAttachments(m)
		if content == "" && len(attachments) > 0 {
			content = "[Attachment]"
		}
		if content == "" {
			continue
		}

		em := ExtractedMessage{Role: role, Content: content, Attachments: attachments}
		if ts, ok := parseClaudeTime(m.CreatedAt); ok {
			em.CreatedAt = ts
			em.HasTime = true
		}
		messages = append(messages, em)
	}

	title := ""
	if c.Name != nil {
		title = *c.Name
	}
	ec := ExtractedConversation{
		OriginID: c.UUID,
		Title:    title,
		Source:   scrytype.SourceClaude,
		Messages: messages,
	}
	if ts, ok := parseClaudeTime(c.CreatedAt); ok {
		ec.CreatedAt = ts
	}
	if ts, ok := parseClaudeTime(c.UpdatedAt); ok {
		ec.UpdatedAt = ts
	} else {
		ec.UpdatedAt = ec.CreatedAt
	}
	return ec
}

func parseClaudeTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// extractClaudeAttachments maps three distinct Claude attachment shapes onto
// the uniform Attachment union: text-file attachments (searchable), image
// file references (not searchable), and artifact tool_use blocks (rendered
// as named file attachments).
func extractClaudeAttachments(m claudeMessage) []scrytype.Attachment {
	var out []scrytype.Attachment
	for _, a := range m.Attachments {
		out = append(out, scrytype.Attachment{
			Kind:             scrytype.AttachmentFile,
			FileName:         a.FileName,
			FileSize:         a.FileSize,
			FileType:         a.FileType,
			ExtractedContent: a.ExtractedContent,
			Available:        a.ExtractedContent != "",
		})
	}
	for _, f := range m.Files {
		out = append(out, scrytype.Attachment{
			Kind:      scrytype.AttachmentImage,
			FileName:  f.FileName,
			Available: false,
		})
	}
	for _, item := range m.Content {
		if item.Type != "tool_use" || item.Name != "artifacts" {
			continue
		}
		ext := artifactExtension(item.Input.Type)
		name := item.Input.Title
		if name == "" {
			name = "artifact"
		}
		out = append(out, scrytype.Attachment{
			Kind:             scrytype.AttachmentArtifact,
			FileName:         name + ext,
			ExtractedContent: item.Input.Content,
			Available:        item.Input.Content != "",
		})
	}
	return out
}

func artifactExtension(artifactType string) string {
	switch {
	case strings.Contains(artifactType, "html"):
		return ".html"
	case strings.Contains(artifactType, "markdown"):
		return ".md"
	case strings.Contains(artifactType, "code"):
		return ".txt"
	default:
		return filepath.Ext(artifactType)
	}
}
