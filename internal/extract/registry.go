package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mbrichman/scry/internal/scrytype"
	"gopkg.in/yaml.v3"
)

// All returns every extractor this build ships, in a fixed construction
// order. This static list is the compiled-in stand-in for a filesystem
// plugin scan: registry size, discovery size, and metadata size all derive
// from this one slice, so they can never drift apart.
func All() []Extractor {
	return []Extractor{
		NewChatGPTExtractor(),
		NewClaudeExtractor(),
		NewOpenWebUIExtractor(),
		NewDocxExtractor(),
		NewYouTubeExtractor(),
	}
}

// Registry holds the set of extractors available to an import run, keyed by
// lowercase format name.
type Registry struct {
	byName map[string]Extractor
	order  []string
}

// NewRegistry builds a Registry from All().
func NewRegistry() *Registry {
	return newRegistryFrom(All())
}

func newRegistryFrom(extractors []Extractor) *Registry {
	r := &Registry{byName: make(map[string]Extractor, len(extractors))}
	for _, e := range extractors {
		key := e.Name()
		r.byName[key] = e
		r.order = append(r.order, key)
	}
	return r
}

// manifest is the YAML sidecar shape ScanDir loads: it names one of the
// extractors returned by All() rather than loading arbitrary code, so
// directory-based discovery stays possible without unsafe plugin loading.
type manifest struct {
	Extractor string `yaml:"extractor"`
}

// ScanDir builds a Registry from YAML manifests under dir (one file per
// desired extractor, each naming a registered extractor by key). Files that
// aren't valid manifests, or that name an unknown extractor, are skipped
// with their path recorded in the returned error slice rather than aborting
// the scan.
func ScanDir(dir string) (*Registry, []error, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("scan extractor manifests in %s: %w", dir, err)
	}

	all := newRegistryFrom(All())
	var names []string
	var warnings []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", path, err))
			continue
		}
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if _, ok := all.byName[m.Extractor]; !ok {
			warnings = append(warnings, fmt.Errorf("%s: unknown extractor %q", path, m.Extractor))
			continue
		}
		names = append(names, m.Extractor)
	}
	sort.Strings(names)

	r := &Registry{byName: make(map[string]Extractor, len(names))}
	for _, name := range names {
		r.byName[name] = all.byName[name]
		r.order = append(r.order, name)
	}
	return r, warnings, nil
}

// Size is the number of discovered extractors.
func (r *Registry) Size() int { return len(r.order) }

// Extractors returns every registered extractor, in discovery order.
func (r *Registry) Extractors() []Extractor {
	out := make([]Extractor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Metadata returns every extractor's Metadata, keyed by name. Its length is
// always Size() since both derive from the same underlying slice.
func (r *Registry) Metadata() map[string]Metadata {
	out := make(map[string]Metadata, len(r.order))
	for _, name := range r.order {
		out[name] = r.byName[name].Metadata()
	}
	return out
}

// ByName looks up a registered extractor by its lowercase key.
func (r *Registry) ByName(name string) (Extractor, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// DetectFormat inspects the first conversation in raw (a list, or a dict
// with a "conversations" field) and matches the known format signatures in
// priority order: OpenWebUI must be tried before Claude/ChatGPT since an
// OpenWebUI export can also carry a "title" field.
func DetectFormat(raw json.RawMessage) (conversations []json.RawMessage, source scrytype.Source, ok bool) {
	conversations = conversationList(raw)
	if len(conversations) == 0 {
		return nil, "", false
	}

	var first map[string]any
	if err := json.Unmarshal(conversations[0], &first); err != nil {
		return conversations, "", false
	}

	if looksLikeOpenWebUI(first) {
		return conversations, scrytype.SourceOpenWebUI, true
	}
	if looksLikeClaude(first) {
		return conversations, scrytype.SourceClaude, true
	}
	if looksLikeChatGPT(first) {
		return conversations, scrytype.SourceChatGPT, true
	}
	if looksLikeYouTube(conversations[0]) {
		return conversations, scrytype.SourceYouTube, true
	}
	return conversations, "", false
}

func conversationList(raw json.RawMessage) []json.RawMessage {
	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil && len(asList) > 0 {
		return asList
	}
	var asDict struct {
		Conversations []json.RawMessage `json:"conversations"`
	}
	if err := json.Unmarshal(raw, &asDict); err == nil {
		return asDict.Conversations
	}
	return nil
}

func looksLikeOpenWebUI(first map[string]any) bool {
	chat, _ := first["chat"].(map[string]any)
	hist, _ := chat["history"].(map[string]any)
	msgs, _ := hist["messages"].(map[string]any)
	if len(msgs) == 0 {
		return false
	}
	for _, v := range msgs {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		_, hasRole := m["role"]
		_, hasContent := m["content"]
		_, hasTimestamp := m["timestamp"]
		return hasRole && hasContent && hasTimestamp
	}
	return false
}

func looksLikeClaude(first map[string]any) bool {
	uuid, _ := first["uuid"].(string)
	_, hasName := first["name"]
	_, hasChatMessages := first["chat_messages"]
	return uuid != "" && hasName && hasChatMessages
}

func looksLikeChatGPT(first map[string]any) bool {
	title, hasTitle := first["title"]
	_, hasMapping := first["mapping"]
	createTime, hasCreateTime := first["create_time"]
	return hasTitle && title != nil && hasMapping && hasCreateTime && createTime != nil
}

func looksLikeYouTube(first json.RawMessage) bool {
	var item struct {
		Title    *string `json:"title"`
		TitleURL *string `json:"titleUrl"`
		Time     *string `json:"time"`
	}
	if err := json.Unmarshal(first, &item); err != nil {
		return false
	}
	return item.Title != nil && item.TitleURL != nil && item.Time != nil
}
