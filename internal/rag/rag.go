// Package rag builds token-budgeted, proximity-scored context windows around
// search hits so an LLM prompt sees conversational context instead of
// isolated turns.
package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mbrichman/scry/internal/scryerr"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/search"
	"github.com/mbrichman/scry/internal/store"
	"github.com/mbrichman/scry/internal/tokencount"
)

// Defaults for Params fields left unset by the caller.
const (
	DefaultTopKWindows          = 5
	DefaultOverfetchFactor      = 3
	DefaultContextWindow        = 2
	DefaultProximityDecayLambda = 0.5

	// RAGMaxWindowSize bounds how many neighbours a window may request on
	// either side, symmetric or asymmetric.
	RAGMaxWindowSize = 20

	// neighbourContributionFraction keeps base_score dominant in the
	// aggregated score: neighbours only ever nudge it.
	neighbourContributionFraction = 0.15

	markerCtxStart   = "[CTX_START]"
	markerCtxEnd     = "[CTX_END]"
	markerMatchStart = "[MATCH]"
	markerMatchEnd   = "[/MATCH]"
)

// Params is the effective, fully-resolved set of retrieval settings; it is
// echoed back on every ContextWindow as RetrievalParams.
type Params struct {
	TopKWindows          int
	OverfetchFactor      int
	ContextWindow        int
	AsymmetricBefore     int
	AsymmetricAfter      int
	Asymmetric           bool
	AdaptiveContext      bool
	Deduplicate          bool
	MaxTokens            int
	IncludeMarkers       bool
	ProximityDecayLambda float64
	ApplyRecencyBonus    bool
	TokenModel           string
}

func defaultParams() Params {
	return Params{
		TopKWindows:          DefaultTopKWindows,
		OverfetchFactor:      DefaultOverfetchFactor,
		ContextWindow:        DefaultContextWindow,
		ProximityDecayLambda: DefaultProximityDecayLambda,
		Deduplicate:          true,
		TokenModel:           "gpt-4",
	}
}

// before/after returns the effective symmetric-or-asymmetric window extents.
func (p Params) before() int {
	if p.Asymmetric {
		return p.AsymmetricBefore
	}
	return p.ContextWindow
}

func (p Params) after() int {
	if p.Asymmetric {
		return p.AsymmetricAfter
	}
	return p.ContextWindow
}

func (p Params) validate() error {
	dims := []int{p.ContextWindow, p.AsymmetricBefore, p.AsymmetricAfter}
	for _, d := range dims {
		if d > RAGMaxWindowSize {
			return scryerr.Validationf("window dimension %d exceeds max %d", d, RAGMaxWindowSize)
		}
	}
	return nil
}

// Option customizes a Retrieve call, following the functional-options shape
// used throughout the archive's configuration surfaces.
type Option func(*Params)

func WithTopKWindows(n int) Option { return func(p *Params) { p.TopKWindows = n } }

func WithOverfetchFactor(n int) Option { return func(p *Params) { p.OverfetchFactor = n } }

// WithContextWindow sets a symmetric window of w messages on each side of
// the seed. Overridden by WithAsymmetricWindow if both are supplied.
func WithContextWindow(w int) Option { return func(p *Params) { p.ContextWindow = w } }

// WithAsymmetricWindow sets distinct before/after extents, overriding the
// symmetric ContextWindow.
func WithAsymmetricWindow(before, after int) Option {
	return func(p *Params) {
		p.Asymmetric = true
		p.AsymmetricBefore = before
		p.AsymmetricAfter = after
	}
}

func WithAdaptiveContext(enabled bool) Option { return func(p *Params) { p.AdaptiveContext = enabled } }

func WithDeduplicate(enabled bool) Option { return func(p *Params) { p.Deduplicate = enabled } }

// WithMaxTokens sets a hard token budget; 0 means unbounded.
func WithMaxTokens(n int) Option { return func(p *Params) { p.MaxTokens = n } }

func WithIncludeMarkers(enabled bool) Option { return func(p *Params) { p.IncludeMarkers = enabled } }

func WithProximityDecayLambda(lambda float64) Option {
	return func(p *Params) { p.ProximityDecayLambda = lambda }
}

func WithRecencyBonus(enabled bool) Option { return func(p *Params) { p.ApplyRecencyBonus = enabled } }

// WithTokenModel selects which tokenizer internal/tokencount uses to
// estimate token counts for budgeting.
func WithTokenModel(model string) Option { return func(p *Params) { p.TokenModel = model } }

// ContextWindow is one retrieved, scored, optionally marker-wrapped window
// of conversation around a matched message.
type ContextWindow struct {
	WindowID         string
	ConversationID   string
	MatchedMessageID string
	Content          string
	WindowSize       int
	MatchPosition    int
	BeforeCount      int
	AfterCount       int
	BaseScore        float64
	AggregatedScore  float64
	Roles            []scrytype.Role
	TokenEstimate    int
	RetrievalParams  Params
	// Messages backs Content/Roles and lets deduplicateWindows detect and
	// merge windows that overlap on any message, not just the matched one.
	Messages []scrytype.Message
}

// Service runs contextual retrieval over a search.Service and the message
// store backing it.
type Service struct {
	search *search.Service
	uow    *store.UnitOfWork
}

// New builds a Service.
func New(searchSvc *search.Service, uow *store.UnitOfWork) *Service {
	return &Service{search: searchSvc, uow: uow}
}

// seedWindow is the mutable working state for one candidate window before
// dedup/budgeting; messages is ordered by created_at ascending.
type seedWindow struct {
	conversationID  string
	matchedID       string
	messages        []scrytype.Message
	matchIndex      int // index of the seed within messages
	beforeAvailable int // before/after clipping bookkeeping, pre-shrink
	afterAvailable  int
	baseScore       float64
}

// Retrieve runs the eight-step contextual retrieval pipeline: seed search,
// window expansion, adaptive shrinking, aggregate scoring, deduplication,
// token budgeting, marker wrapping, and assembly.
func (s *Service) Retrieve(ctx context.Context, query string, opts ...Option) ([]ContextWindow, error) {
	params := defaultParams()
	for _, opt := range opts {
		opt(&params)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	seedLimit := params.TopKWindows * params.OverfetchFactor
	if seedLimit <= 0 {
		seedLimit = params.TopKWindows
	}
	hits, err := s.search.Search(ctx, search.Query{Text: query, Mode: search.ModeHybrid, Limit: seedLimit})
	if err != nil {
		return nil, scryerr.TransientBackendf("seed search failed: %v", err)
	}
	if len(hits) > params.TopKWindows {
		hits = hits[:params.TopKWindows]
	}
	if len(hits) == 0 {
		return nil, nil
	}

	windows, err := s.expandWindows(ctx, hits, params)
	if err != nil {
		return nil, scryerr.TransientBackendf("window expansion failed: %v", err)
	}

	if params.AdaptiveContext {
		shrinkOverlaps(windows)
	}

	scored := make([]ContextWindow, 0, len(windows))
	maxCreatedAtUnix := latestUnix(windows)
	minCreatedAtUnix := earliestUnix(windows)
	for _, w := range windows {
		scored = append(scored, buildContextWindow(w, params, minCreatedAtUnix, maxCreatedAtUnix))
	}

	if params.Deduplicate {
		scored = deduplicateWindows(scored)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].AggregatedScore > scored[j].AggregatedScore })

	for i := range scored {
		scored[i].TokenEstimate = tokencount.Count(scored[i].Content, params.TokenModel)
	}

	if params.MaxTokens > 0 {
		scored = applyTokenBudget(scored, params.MaxTokens, params.TokenModel)
	}

	if params.IncludeMarkers {
		for i := range scored {
			scored[i].Content = wrapMarkers(scored[i])
		}
	}

	return scored, nil
}

func (s *Service) expandWindows(ctx context.Context, hits []search.Result, params Params) ([]seedWindow, error) {
	byConversation := make(map[string][]scrytype.Message)
	windows := make([]seedWindow, 0, len(hits))

	for _, h := range hits {
		messages, ok := byConversation[h.ConversationID]
		if !ok {
			var err error
			messages, err = s.uow.Messages.GetByConversation(ctx, h.ConversationID)
			if err != nil {
				return nil, fmt.Errorf("load conversation %s: %w", h.ConversationID, err)
			}
			byConversation[h.ConversationID] = messages
		}

		idx := indexOfMessage(messages, h.MessageID)
		if idx < 0 {
			continue
		}

		before := params.before()
		after := params.after()
		start := idx - before
		if start < 0 {
			start = 0
		}
		end := idx + after
		if end > len(messages)-1 {
			end = len(messages) - 1
		}

		baseScore := 0.0
		if h.CombinedScore != nil {
			baseScore = *h.CombinedScore
		} else if h.Similarity != nil {
			baseScore = *h.Similarity
		}

		windows = append(windows, seedWindow{
			conversationID:  h.ConversationID,
			matchedID:       h.MessageID,
			messages:        messages[start : end+1],
			matchIndex:      idx - start,
			beforeAvailable: idx - start,
			afterAvailable:  end - idx,
			baseScore:       baseScore,
		})
	}
	return windows, nil
}

func indexOfMessage(messages []scrytype.Message, id string) int {
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// shrinkOverlaps shrinks a lower-scored window toward the point of overlap
// with any higher-scored window sharing its conversation, never expanding.
// Windows are processed in descending base_score order so earlier (stronger)
// windows stake their claim first.
func shrinkOverlaps(windows []seedWindow) {
	order := make([]int, len(windows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return windows[order[i]].baseScore > windows[order[j]].baseScore })

	type span struct{ start, end int } // absolute message index within conversation
	claimed := make(map[string][]span)

	for _, i := range order {
		w := &windows[i]
		start := 0
		end := len(w.messages) - 1
		matchIdx := w.matchIndex

		for _, c := range claimed[w.conversationID] {
			// Shrink the before side if it overlaps a claimed span ending
			// at/after our start but before our match.
			if c.end >= start && c.end < matchIdx {
				start = c.end + 1
			}
			// Shrink the after side symmetrically.
			if c.start <= end && c.start > matchIdx {
				end = c.start - 1
			}
		}
		if start < 0 {
			start = 0
		}
		if end > len(w.messages)-1 {
			end = len(w.messages) - 1
		}
		if start > matchIdx {
			start = matchIdx
		}
		if end < matchIdx {
			end = matchIdx
		}

		w.messages = w.messages[start : end+1]
		w.matchIndex = matchIdx - start

		claimed[w.conversationID] = append(claimed[w.conversationID], span{start: start, end: end})
	}
}

func buildContextWindow(w seedWindow, params Params, minUnix, maxUnix int64) ContextWindow {
	var contentParts []string
	var roles []scrytype.Role
	neighbourSum := 0.0

	for i, m := range w.messages {
		d := i - w.matchIndex
		contribution := w.baseScore * math.Exp(-params.ProximityDecayLambda*math.Abs(float64(d)))
		if d != 0 {
			neighbourSum += contribution
		}
		roles = append(roles, m.Role)
		contentParts = append(contentParts, m.Content)
	}

	aggregated := w.baseScore + neighbourContributionFraction*neighbourSum

	if params.ApplyRecencyBonus && len(w.messages) > 0 {
		latest := w.messages[len(w.messages)-1].CreatedAt.Unix()
		spread := maxUnix - minUnix
		if spread > 0 {
			recency := float64(latest-minUnix) / float64(spread)
			aggregated += 0.05 * recency
		}
	}

	return ContextWindow{
		WindowID:         fmt.Sprintf("%s:%s", w.conversationID, w.matchedID),
		ConversationID:   w.conversationID,
		MatchedMessageID: w.matchedID,
		Content:          strings.Join(contentParts, "\n\n"),
		WindowSize:       len(w.messages),
		MatchPosition:    w.matchIndex,
		BeforeCount:      w.matchIndex,
		AfterCount:       len(w.messages) - w.matchIndex - 1,
		BaseScore:        w.baseScore,
		AggregatedScore:  aggregated,
		Roles:            roles,
		RetrievalParams:  params,
		Messages:         w.messages,
	}
}

func latestUnix(windows []seedWindow) int64 {
	var max int64
	first := true
	for _, w := range windows {
		for _, m := range w.messages {
			u := m.CreatedAt.Unix()
			if first || u > max {
				max = u
				first = false
			}
		}
	}
	return max
}

func earliestUnix(windows []seedWindow) int64 {
	var min int64
	first := true
	for _, w := range windows {
		for _, m := range w.messages {
			u := m.CreatedAt.Unix()
			if first || u < min {
				min = u
				first = false
			}
		}
	}
	return min
}

// deduplicateWindows merges any two windows that share at least one message,
// transitively, keeping the union's higher aggregated_score and the union of
// messages. Overlapping-but-distinct seeds were already clipped apart by
// shrinkOverlaps when adaptive windowing is on; this catches what's left
// overlapping (e.g. FTS and vector both matched the same seed, or two seeds
// close enough that their expanded windows still intersect).
func deduplicateWindows(windows []ContextWindow) []ContextWindow {
	parent := make([]int, len(windows))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	firstSeenBy := make(map[string]int, len(windows)*4)
	for i, w := range windows {
		for _, m := range w.Messages {
			if j, ok := firstSeenBy[m.ID]; ok {
				union(i, j)
			} else {
				firstSeenBy[m.ID] = i
			}
		}
	}

	groups := make(map[int][]int, len(windows))
	for i := range windows {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	merged := make([]ContextWindow, 0, len(groups))
	for _, idxs := range groups {
		merged = append(merged, mergeWindowGroup(windows, idxs))
	}
	return merged
}

// mergeWindowGroup combines the windows at idxs (all sharing at least one
// message, transitively) into a single window: the union of their messages
// re-sorted by created_at, and the group's highest aggregated_score.
func mergeWindowGroup(windows []ContextWindow, idxs []int) ContextWindow {
	if len(idxs) == 1 {
		return windows[idxs[0]]
	}

	primary := windows[idxs[0]]
	maxScore := primary.AggregatedScore
	for _, i := range idxs[1:] {
		if windows[i].AggregatedScore > maxScore {
			primary = windows[i]
			maxScore = windows[i].AggregatedScore
		}
	}

	seen := make(map[string]bool, len(idxs)*4)
	var msgs []scrytype.Message
	for _, i := range idxs {
		for _, m := range windows[i].Messages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			msgs = append(msgs, m)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })

	matchIdx := 0
	for i, m := range msgs {
		if m.ID == primary.MatchedMessageID {
			matchIdx = i
			break
		}
	}

	contentParts := make([]string, len(msgs))
	roles := make([]scrytype.Role, len(msgs))
	for i, m := range msgs {
		contentParts[i] = m.Content
		roles[i] = m.Role
	}

	primary.Messages = msgs
	primary.Content = strings.Join(contentParts, "\n\n")
	primary.Roles = roles
	primary.WindowSize = len(msgs)
	primary.MatchPosition = matchIdx
	primary.BeforeCount = matchIdx
	primary.AfterCount = len(msgs) - matchIdx - 1
	primary.AggregatedScore = maxScore
	return primary
}

func applyTokenBudget(windows []ContextWindow, maxTokens int, model string) []ContextWindow {
	out := make([]ContextWindow, 0, len(windows))
	remaining := maxTokens
	for _, w := range windows {
		if remaining <= 0 {
			break
		}
		if w.TokenEstimate <= remaining {
			out = append(out, w)
			remaining -= w.TokenEstimate
			continue
		}
		// Trim trailing lines (messages) from the window's content until it
		// fits, rather than dropping the whole window.
		lines := strings.Split(w.Content, "\n\n")
		for len(lines) > 1 {
			lines = lines[:len(lines)-1]
			trimmed := strings.Join(lines, "\n\n")
			est := tokencount.Count(trimmed, model)
			if est <= remaining {
				w.Content = trimmed
				w.TokenEstimate = est
				w.AfterCount = 0
				w.WindowSize = len(lines)
				out = append(out, w)
				remaining -= est
				break
			}
		}
		break // budget exhausted after this partial window, per spec step 6
	}
	return out
}

func wrapMarkers(w ContextWindow) string {
	parts := strings.Split(w.Content, "\n\n")
	for i := range parts {
		if i == w.MatchPosition {
			parts[i] = markerMatchStart + parts[i] + markerMatchEnd
		}
	}
	return markerCtxStart + "\n" + strings.Join(parts, "\n\n") + "\n" + markerCtxEnd
}
