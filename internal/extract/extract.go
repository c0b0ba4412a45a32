// Package extract turns an opaque uploaded archive into a normalized
// sequence of conversations and messages. Each supported export format
// (ChatGPT, Claude, OpenWebUI, YouTube watch history, DOCX) ships its own
// Extractor; format detection and registry bookkeeping live alongside.
package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

// Options carries per-import extraction knobs. Extractors that don't use a
// given option simply ignore it.
type Options struct {
	// GroupByDay groups YouTube watch events from the same calendar day into
	// a single message. Unused by other extractors.
	GroupByDay bool
	// IncludeChannel appends the channel name to YouTube watch content.
	IncludeChannel bool
}

// ExtractedMessage is one normalized turn, prior to conversation/message ID
// assignment by the importer.
type ExtractedMessage struct {
	Role        scrytype.Role
	Content     string
	CreatedAt   time.Time
	HasTime     bool
	Attachments []scrytype.Attachment
	Extra       map[string]any
}

// ExtractedConversation is one normalized thread, prior to persistence.
type ExtractedConversation struct {
	// OriginID is the source product's own conversation identifier (ChatGPT
	// id, Claude uuid, ...), used by the importer's duplicate guard.
	OriginID  string
	Title     string
	Source    scrytype.Source
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []ExtractedMessage
}

// Metadata describes an Extractor's capabilities and expected input shape,
// mirroring the registry contract every format exposes.
type Metadata struct {
	Name       string
	Version    string
	Extensions []string
	AutoDetect bool
	Streaming  bool
	FileBased  bool
	FormatSpec string
}

// Extractor turns one archive's conversations into normalized form. An
// extractor may support in-memory bytes (ExtractFromBytes), file-based
// parsing (ExtractFromFile, e.g. DOCX), or both; an extractor that doesn't
// support one path returns a descriptive error when it's called.
type Extractor interface {
	Name() string
	Version() string
	Metadata() Metadata
	// Detect reports whether raw looks like this extractor's format, and a
	// confidence score used to break ties when multiple extractors match.
	Detect(raw json.RawMessage) (ok bool, score int)
	ExtractFromBytes(ctx context.Context, raw json.RawMessage, opts Options) ([]ExtractedConversation, error)
	ExtractFromFile(ctx context.Context, path, filename string, opts Options) ([]ExtractedConversation, string, error)
}
