// Package api defines the transport-agnostic request/response shapes for the
// archive's external surface: list/get conversations, search, RAG query,
// stats, and clear. HTTP/gRPC/CLI adapters translate wire formats into these
// types and back; no transport framework is imported here.
package api

import (
	"time"

	"github.com/mbrichman/scry/internal/rag"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/search"
	"github.com/mbrichman/scry/internal/viewmodel"
)

// ListConversationsRequest requests one page of the conversation list.
type ListConversationsRequest struct {
	Page  int
	Limit int
}

// Pagination describes the page returned for a list request.
type Pagination struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// ListConversationsResponse is the "list conversations" response shape.
type ListConversationsResponse struct {
	Conversations []viewmodel.ConversationListItem
	Pagination    Pagination
}

// GetConversationRequest identifies one conversation for the detail view.
type GetConversationRequest struct {
	ID string
}

// GetConversationResponse wraps the assembled detail view, or NotFound.
type GetConversationResponse struct {
	Conversation viewmodel.ConversationView
	NotFound     bool
}

// DateRange bounds a search by message creation time; a zero value on
// either side means unbounded.
type DateRange struct {
	After  time.Time
	Before time.Time
}

// SearchRequest is the "search" request shape.
type SearchRequest struct {
	Query          string
	N              int
	ConversationID string
	Type           search.Mode
	DateRange      *DateRange
}

// SearchResultItem is one entry in a SearchResponse.
type SearchResultItem struct {
	Title    string
	Date     time.Time
	Content  string
	Metadata SearchResultMetadata
}

// SearchResultMetadata surfaces enough of the underlying message/score for
// a client to render or re-rank without a second lookup.
type SearchResultMetadata struct {
	MessageID      string
	ConversationID string
	Role           scrytype.Role
	Distance       float64
}

// SearchResponse is the "search" response shape.
type SearchResponse struct {
	Query   string
	Results []SearchResultItem
}

// RAGQueryRequest is the "rag query" request shape: a search plus the
// contextual-retrieval parameters of spec.md §4.6.
type RAGQueryRequest struct {
	Query          string
	NResults       int
	SearchType     search.Mode
	ContextWindow  int
	Before         int
	After          int
	Asymmetric     bool
	Adaptive       bool
	Deduplicate    bool
	MaxTokens      int
	IncludeMarkers bool
	RecencyBonus   bool
}

// RAGResultItem is one returned context window, flattened for transport.
type RAGResultItem struct {
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
}

// RAGQueryResponse is the "rag query" response shape.
type RAGQueryResponse struct {
	Query         string
	RetrievalMode search.Mode
	Results       []RAGResultItem
}

// ToRAGResultItem flattens a rag.ContextWindow for transport.
func ToRAGResultItem(w rag.ContextWindow) RAGResultItem {
	return RAGResultItem{
		WindowID:         w.WindowID,
		ConversationID:   w.ConversationID,
		MatchedMessageID: w.MatchedMessageID,
		Content:          w.Content,
		WindowSize:       w.WindowSize,
		MatchPosition:    w.MatchPosition,
		BeforeCount:      w.BeforeCount,
		AfterCount:       w.AfterCount,
		BaseScore:        w.BaseScore,
		AggregatedScore:  w.AggregatedScore,
		Roles:            w.Roles,
		TokenEstimate:    w.TokenEstimate,
	}
}

// StatsResponse is the "stats" response shape.
type StatsResponse struct {
	Status         string
	DocumentCount  int
	EmbeddingModel string
	CollectionName string
}

// ClearResponse is the "clear" response shape.
type ClearResponse struct {
	Status  string
	Message string
}
