package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/textclean"
)

type openWebUIConversation struct {
	Title     string         `json:"title"`
	CreatedAt *float64       `json:"created_at"`
	UpdatedAt *float64       `json:"updated_at"`
	Chat      openWebUIChat  `json:"chat"`
}

type openWebUIChat struct {
	Title   string            `json:"title"`
	History openWebUIHistory  `json:"history"`
}

type openWebUIHistory struct {
	Messages map[string]openWebUIMessage `json:"messages"`
}

type openWebUIMessage struct {
	ID        string  `json:"id"`
	ParentID  *string `json:"parentId"`
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// OpenWebUIExtractor reads OpenWebUI's tree-structured chat.history.messages
// dict, resolving the parent/child chain when present and falling back to a
// timestamp sort otherwise.
type OpenWebUIExtractor struct{}

func NewOpenWebUIExtractor() *OpenWebUIExtractor { return &OpenWebUIExtractor{} }

func (e *OpenWebUIExtractor) Name() string    { return "openwebui" }
func (e *OpenWebUIExtractor) Version() string { return "1.0.0" }

func (e *OpenWebUIExtractor) Metadata() Metadata {
	return Metadata{
		Name:       "OpenWebUI",
		Version:    e.Version(),
		Extensions: []string{".json"},
		AutoDetect: true,
		Streaming:  false,
		FileBased:  false,
		FormatSpec: "dict with chat.history.messages mapping id -> {role, content, timestamp}, timestamps in ns, ms, or s",
	}
}

func (e *OpenWebUIExtractor) Detect(raw json.RawMessage) (bool, int) {
	var c openWebUIConversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return false, 0
	}
	if len(c.Chat.History.Messages) == 0 {
		return false, 0
	}
	return true, 100
}

func (e *OpenWebUIExtractor) ExtractFromBytes(ctx context.Context, raw json.RawMessage, opts Options) ([]ExtractedConversation, error) {
	var conversations []openWebUIConversation
	if err := json.Unmarshal(raw, &conversations); err != nil {
		var single openWebUIConversation
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, fmt.Errorf("openwebui: decode: %w", err)
		}
		conversations = []openWebUIConversation{single}
	}

	out := make([]ExtractedConversation, 0, len(conversations))
	for _, c := range conversations {
		ec := extractOpenWebUIConversation(c)
		if len(ec.Messages) == 0 {
			continue
		}
		out = append(out, ec)
	}
	return out, nil
}

func (e *OpenWebUIExtractor) ExtractFromFile(ctx context.Context, path, filename string, opts Options) ([]ExtractedConversation, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("openwebui: read %s: %w", path, err)
	}
	convs, err := e.ExtractFromBytes(ctx, raw, opts)
	return convs, filename, err
}

func extractOpenWebUIConversation(c openWebUIConversation) ExtractedConversation {
	msgs := c.Chat.History.Messages
	ordered := resolveOpenWebUIOrder(msgs)

	var messages []ExtractedMessage
	for _, id := range ordered {
		m := msgs[id]
		role := openWebUIRole(m.Role)
		if role == "" {
			continue
		}
		content := textclean.Clean(m.Content)
		if content == "" {
			continue
		}
		messages = append(messages, ExtractedMessage{
			Role:      role,
			Content:   content,
			CreatedAt: normalizeOpenWebUITimestamp(m.Timestamp),
			HasTime:   m.Timestamp != 0,
		})
	}

	title := c.Title
	if title == "" {
		title = c.Chat.Title
	}
	ec := ExtractedConversation{
		Title:    title,
		Source:   scrytype.SourceOpenWebUI,
		Messages: messages,
	}
	if c.CreatedAt != nil {
		ec.CreatedAt = normalizeOpenWebUITimestamp(*c.CreatedAt)
	}
	if c.UpdatedAt != nil {
		ec.UpdatedAt = normalizeOpenWebUITimestamp(*c.UpdatedAt)
	} else {
		ec.UpdatedAt = ec.CreatedAt
	}
	return ec
}

// resolveOpenWebUIOrder walks the parentId chain starting from any node with
// a nil/empty parent, falling back to a timestamp sort when the chain is
// incomplete or missing (e.g. exports that omit parentId entirely).
func resolveOpenWebUIOrder(msgs map[string]openWebUIMessage) []string {
	childOf := make(map[string]string, len(msgs))
	hasParent := make(map[string]bool, len(msgs))
	for id, m := range msgs {
		if m.ParentID != nil && *m.ParentID != "" {
			childOf[*m.ParentID] = id
			hasParent[id] = true
		}
	}

	var roots []string
	for id := range msgs {
		if !hasParent[id] {
			roots = append(roots, id)
		}
	}

	if len(roots) == 1 {
		chain := make([]string, 0, len(msgs))
		seen := make(map[string]bool, len(msgs))
		cur := roots[0]
		for cur != "" && !seen[cur] {
			chain = append(chain, cur)
			seen[cur] = true
			cur = childOf[cur]
		}
		if len(chain) == len(msgs) {
			return chain
		}
	}

	ids := make([]string, 0, len(msgs))
	for id := range msgs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if msgs[ids[i]].Timestamp != msgs[ids[j]].Timestamp {
			return msgs[ids[i]].Timestamp < msgs[ids[j]].Timestamp
		}
		return ids[i] < ids[j]
	})
	return ids
}

func openWebUIRole(role string) scrytype.Role {
	switch role {
	case "user":
		return scrytype.RoleUser
	case "assistant":
		return scrytype.RoleAssistant
	case "system":
		return scrytype.RoleSystem
	default:
		return ""
	}
}

// normalizeOpenWebUITimestamp accepts a timestamp in seconds, milliseconds,
// or nanoseconds and returns UTC time, detected by magnitude.
func normalizeOpenWebUITimestamp(ts float64) time.Time {
	switch {
	case ts == 0:
		return time.Time{}
	case ts > 1e16:
		return time.Unix(0, int64(ts)).UTC()
	case ts > 1e11:
		return time.Unix(0, int64(ts)*int64(time.Millisecond)).UTC()
	default:
		return time.Unix(int64(ts), 0).UTC()
	}
}
