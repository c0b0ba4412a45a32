// Package search implements the three message search modes over
// internal/store: lexical full-text, vector k-NN, and a weighted hybrid of
// the two, plus an auto mode that degrades to FTS-only when no embeddings
// exist.
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mbrichman/scry/internal/embedding"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/store"
)

// Mode selects which backend(s) a query runs against.
type Mode string

const (
	ModeFTS    Mode = "fts"
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
	ModeAuto   Mode = "auto"
)

// Default hybrid fusion weights, per the archive's documented combined-score
// formula.
const (
	DefaultFTSWeight    = 0.4
	DefaultVectorWeight = 0.6
)

// Query parameters for a search call.
type Query struct {
	Text           string
	Mode           Mode
	Limit          int
	ConversationID string
	After          time.Time
	Before         time.Time
	FTSWeight      float64
	VectorWeight   float64
}

// Result is one ranked hit, matching the archive's SearchResult contract.
type Result struct {
	MessageID         string
	ConversationID    string
	ConversationTitle string
	Role              scrytype.Role
	Content           string
	CreatedAt         time.Time
	Similarity        *float64
	CombinedScore     *float64
}

// Distance exposes the legacy ChromaDB-style "lower is better" contract:
// 1-similarity when similarity is known, else 1-combined_score, else 0.5.
func (r Result) Distance() float64 {
	switch {
	case r.Similarity != nil:
		return 1 - *r.Similarity
	case r.CombinedScore != nil:
		return 1 - *r.CombinedScore
	default:
		return 0.5
	}
}

// Service runs searches against a store.UnitOfWork using a configured
// embedding provider for query-time vectorization.
type Service struct {
	uow      *store.UnitOfWork
	provider *embedding.Provider
}

// New builds a Service.
func New(uow *store.UnitOfWork, provider *embedding.Provider) *Service {
	return &Service{uow: uow, provider: provider}
}

var tokenRE = regexp.MustCompile(`[A-Za-z0-9_]+`)

// BuildFTSQuery renders raw user input as a conjunctive FTS5 MATCH
// expression, quoting every token so punctuation in the query never breaks
// the MATCH grammar.
func BuildFTSQuery(raw string) string {
	tokens := tokenRE.FindAllString(raw, -1)
	if len(tokens) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, `"`+strings.ReplaceAll(tok, `"`, "")+`"`)
	}
	return strings.Join(parts, " AND ")
}

// Search runs q against the configured mode, resolving ModeAuto to hybrid or
// FTS depending on whether the archive has any embeddings at all.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	mode := q.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if mode == ModeAuto {
		hasEmbeddings, err := s.anyEmbeddingsExist(ctx)
		if err != nil {
			return nil, err
		}
		if hasEmbeddings {
			mode = ModeHybrid
		} else {
			mode = ModeFTS
		}
	}

	var results []Result
	var err error
	switch mode {
	case ModeFTS:
		results, err = s.searchFTS(ctx, q, limit)
	case ModeVector:
		results, err = s.searchVector(ctx, q, limit)
	case ModeHybrid:
		results, err = s.searchHybrid(ctx, q, limit)
	default:
		results, err = s.searchFTS(ctx, q, limit)
	}
	if err != nil {
		return nil, err
	}

	results = filterByDateRange(results, q.After, q.Before)
	if len(results) > limit {
		results = results[:limit]
	}
	if err := s.fillConversationTitles(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) fillConversationTitles(ctx context.Context, results []Result) error {
	titles := make(map[string]string)
	for i, r := range results {
		title, ok := titles[r.ConversationID]
		if !ok {
			c, found, err := s.uow.Conversations.GetByID(ctx, r.ConversationID)
			if err != nil {
				return err
			}
			if found {
				title = c.Title
			}
			titles[r.ConversationID] = title
		}
		results[i].ConversationTitle = title
	}
	return nil
}

func (s *Service) anyEmbeddingsExist(ctx context.Context) (bool, error) {
	model := ""
	if s.provider != nil {
		model = s.provider.Model()
	}
	stats, err := s.uow.Embeddings.GetCoverageStats(ctx, model)
	if err != nil {
		return false, err
	}
	return stats.EmbeddedMessages > 0, nil
}

func (s *Service) searchFTS(ctx context.Context, q Query, limit int) ([]Result, error) {
	ftsQuery := BuildFTSQuery(q.Text)
	if ftsQuery == "" {
		return nil, nil
	}
	hits, err := s.uow.Messages.SearchFullText(ctx, ftsQuery, limit, q.ConversationID)
	if err != nil {
		return nil, err
	}
	return hitsToResultsByRank(hits), nil
}

func (s *Service) searchVector(ctx context.Context, q Query, limit int) ([]Result, error) {
	if s.provider == nil {
		return nil, nil
	}
	vec, err := s.provider.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	hits, ok := s.uow.Embeddings.NearestVec0(ctx, s.provider.Model(), vec, limit)
	if !ok {
		hits, err = s.uow.Embeddings.NearestBruteForce(ctx, s.provider.Model(), vec, limit)
		if err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		m, ok, err := s.lookupMessage(ctx, hit.MessageID)
		if err != nil || !ok {
			continue
		}
		similarity := hit.Similarity
		results = append(results, toResult(m, &similarity, nil))
	}
	return results, nil
}

func (s *Service) searchHybrid(ctx context.Context, q Query, limit int) ([]Result, error) {
	candidateLimit := limit * 3
	if candidateLimit < limit {
		candidateLimit = limit
	}

	ftsHits, err := s.searchFTSRaw(ctx, q, candidateLimit)
	if err != nil {
		return nil, err
	}
	vecResults, err := s.searchVector(ctx, q, candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(ftsHits) == 0 && len(vecResults) == 0 {
		return nil, nil
	}
	if len(vecResults) == 0 {
		return hitsToResultsByRank(ftsHits), nil
	}

	ftsWeight, vecWeight := q.FTSWeight, q.VectorWeight
	if ftsWeight == 0 && vecWeight == 0 {
		ftsWeight, vecWeight = DefaultFTSWeight, DefaultVectorWeight
	}

	normByMessage := normalizeRanksMinMax(ftsHits)

	type fused struct {
		message scrytype.Message
		score   float64
	}
	byID := make(map[string]*fused)
	for _, hit := range ftsHits {
		byID[hit.Message.ID] = &fused{message: hit.Message, score: ftsWeight * normByMessage[hit.Message.ID]}
	}
	for _, r := range vecResults {
		similarity := 0.0
		if r.Similarity != nil {
			similarity = *r.Similarity
		}
		if existing, ok := byID[r.MessageID]; ok {
			existing.score += vecWeight * similarity
		} else {
			byID[r.MessageID] = &fused{
				message: scrytype.Message{
					ID:             r.MessageID,
					ConversationID: r.ConversationID,
					Role:           r.Role,
					Content:        r.Content,
					CreatedAt:      r.CreatedAt,
				},
				score: vecWeight * similarity,
			}
		}
	}

	out := make([]Result, 0, len(byID))
	for _, f := range byID {
		score := f.score
		out = append(out, toResult(f.message, nil, &score))
	}
	sort.Slice(out, func(i, j int) bool {
		return *out[i].CombinedScore > *out[j].CombinedScore
	})
	return out, nil
}

func (s *Service) searchFTSRaw(ctx context.Context, q Query, limit int) ([]store.SearchHit, error) {
	ftsQuery := BuildFTSQuery(q.Text)
	if ftsQuery == "" {
		return nil, nil
	}
	return s.uow.Messages.SearchFullText(ctx, ftsQuery, limit, q.ConversationID)
}

func (s *Service) lookupMessage(ctx context.Context, messageID string) (scrytype.Message, bool, error) {
	return s.uow.Messages.GetByID(ctx, messageID)
}

// normalizeRanksMinMax maps each hit's raw FTS rank into [0,1] by min-max
// over the candidate set, per the archive's combined-score contract (lower
// raw bm25 rank is a better match, so the best rank maps to 1).
func normalizeRanksMinMax(hits []store.SearchHit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	minRank, maxRank := hits[0].Rank, hits[0].Rank
	for _, h := range hits {
		if h.Rank < minRank {
			minRank = h.Rank
		}
		if h.Rank > maxRank {
			maxRank = h.Rank
		}
	}
	spread := maxRank - minRank
	for _, h := range hits {
		if spread == 0 {
			out[h.Message.ID] = 1
			continue
		}
		// bm25 rank is ascending-better; invert so the minimum rank scores 1.
		out[h.Message.ID] = 1 - (h.Rank-minRank)/spread
	}
	return out
}

func hitsToResultsByRank(hits []store.SearchHit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := 1 / (1 + maxFloat(h.Rank, 0))
		out = append(out, toResult(h.Message, nil, &score))
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func toResult(m scrytype.Message, similarity, combined *float64) Result {
	return Result{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Similarity:     similarity,
		CombinedScore:  combined,
	}
}

func filterByDateRange(results []Result, after, before time.Time) []Result {
	if after.IsZero() && before.IsZero() {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if !after.IsZero() && r.CreatedAt.Before(after) {
			continue
		}
		if !before.IsZero() && r.CreatedAt.After(before) {
			continue
		}
		out = append(out, r)
	}
	return out
}
