package importer

import (
	"sync"

	"github.com/mbrichman/scry/internal/scrytype"
)

// GuardEntry is what the DuplicateGuard remembers about one already-imported
// conversation.
type GuardEntry struct {
	ContentHash    string
	ConversationID string
}

// DuplicateGuard maps (source, origin_id) to the content hash and internal
// id of the conversation already imported for it, so re-imports of an
// unchanged archive are skipped rather than duplicated.
type DuplicateGuard struct {
	mu      sync.RWMutex
	entries map[string]GuardEntry
}

// NewDuplicateGuard returns an empty guard.
func NewDuplicateGuard() *DuplicateGuard {
	return &DuplicateGuard{entries: make(map[string]GuardEntry)}
}

// Lookup returns the recorded entry for (source, originID), if any.
func (g *DuplicateGuard) Lookup(source scrytype.Source, originID string) (GuardEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[guardKey(source, originID)]
	return e, ok
}

// Record stores or replaces the entry for (source, originID).
func (g *DuplicateGuard) Record(source scrytype.Source, originID, contentHash, conversationID string) {
	if originID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[guardKey(source, originID)] = GuardEntry{ContentHash: contentHash, ConversationID: conversationID}
}

// Size reports how many origin ids are tracked.
func (g *DuplicateGuard) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

func guardKey(source scrytype.Source, originID string) string {
	return string(source) + ":" + originID
}
