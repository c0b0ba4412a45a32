package rag

import (
	"context"
	"strconv"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrichman/scry/internal/embedding"
	"github.com/mbrichman/scry/internal/scryerr"
	"github.com/mbrichman/scry/internal/scrytype"
	"github.com/mbrichman/scry/internal/search"
	"github.com/mbrichman/scry/internal/store"
)

func setupRAG(t *testing.T) (*Service, *store.UnitOfWork) {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	uow := store.NewUnitOfWork(db)
	searchSvc := search.New(uow, embedding.NewStubProvider())
	return New(searchSvc, uow), uow
}

// seedConversation inserts a conversation with messages spaced one minute
// apart, in order, so offsets from any seed are deterministic.
func seedConversation(t *testing.T, uow *store.UnitOfWork, convID string, contents []string) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, uow.Conversations.Create(ctx, scrytype.Conversation{
		ID: convID, Title: "thread " + convID, Source: scrytype.SourceChatGPT,
		CreatedAt: base, UpdatedAt: base,
	}, convID+"-origin"))

	for i, content := range contents {
		role := scrytype.RoleUser
		if i%2 == 1 {
			role = scrytype.RoleAssistant
		}
		require.NoError(t, uow.Messages.Create(ctx, scrytype.Message{
			ID:             convID + "-m" + strconv.Itoa(i),
			ConversationID: convID,
			Role:           role,
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			InsertionSeq:   i,
		}))
	}
}

func TestRetrieveExpandsWindowAroundSeed(t *testing.T) {
	svc, uow := setupRAG(t)
	seedConversation(t, uow, "c1", []string{
		"talking about breakfast",
		"eggs and toast",
		"kubernetes pods keep crashing",
		"check the resource limits",
		"that fixed it",
	})

	windows, err := svc.Retrieve(context.Background(), "kubernetes", WithContextWindow(1), WithTopKWindows(3))
	require.NoError(t, err)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.Equal(t, "c1-m2", w.MatchedMessageID)
	assert.Equal(t, 3, w.WindowSize)
	assert.Equal(t, 1, w.MatchPosition)
	assert.Equal(t, 1, w.BeforeCount)
	assert.Equal(t, 1, w.AfterCount)
	assert.Contains(t, w.Content, "eggs and toast")
	assert.Contains(t, w.Content, "kubernetes pods keep crashing")
	assert.Contains(t, w.Content, "check the resource limits")
}

func TestRetrieveClipsAtConversationBoundary(t *testing.T) {
	svc, uow := setupRAG(t)
	seedConversation(t, uow, "c1", []string{
		"kubernetes pods keep crashing",
		"check the resource limits",
	})

	windows, err := svc.Retrieve(context.Background(), "kubernetes", WithContextWindow(5))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 2, windows[0].WindowSize)
	assert.Equal(t, 0, windows[0].MatchPosition)
	assert.Equal(t, 0, windows[0].BeforeCount)
	assert.Equal(t, 1, windows[0].AfterCount)
}

func TestRetrieveValidatesWindowSize(t *testing.T) {
	svc, _ := setupRAG(t)
	_, err := svc.Retrieve(context.Background(), "anything", WithContextWindow(RAGMaxWindowSize+1))
	require.Error(t, err)
	assert.False(t, scryerr.IsRetryable(err))
	var scErr *scryerr.Error
	require.ErrorAs(t, err, &scErr)
	assert.Equal(t, scryerr.KindValidation, scErr.Kind)
}

func TestRetrieveIncludesMarkers(t *testing.T) {
	svc, uow := setupRAG(t)
	seedConversation(t, uow, "c1", []string{
		"kubernetes pods keep crashing",
		"check the resource limits",
	})

	windows, err := svc.Retrieve(context.Background(), "kubernetes", WithContextWindow(1), WithIncludeMarkers(true))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Contains(t, windows[0].Content, markerCtxStart)
	assert.Contains(t, windows[0].Content, markerCtxEnd)
	assert.Contains(t, windows[0].Content, markerMatchStart)
	assert.Contains(t, windows[0].Content, markerMatchEnd)
}

func TestRetrieveRespectsTokenBudget(t *testing.T) {
	svc, uow := setupRAG(t)
	seedConversation(t, uow, "c1", []string{
		"kubernetes pods keep crashing over and over with an out of memory error",
		"check the resource limits on the deployment manifest and the node",
	})

	windows, err := svc.Retrieve(context.Background(), "kubernetes", WithContextWindow(1), WithMaxTokens(100000))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Positive(t, windows[0].TokenEstimate)

	tiny, err := svc.Retrieve(context.Background(), "kubernetes", WithContextWindow(1), WithMaxTokens(1))
	require.NoError(t, err)
	for _, w := range tiny {
		assert.LessOrEqual(t, w.TokenEstimate, 1)
	}
}

func TestRetrieveReturnsEmptyWhenNoSeeds(t *testing.T) {
	svc, _ := setupRAG(t)
	windows, err := svc.Retrieve(context.Background(), "nonexistent query term")
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestRetrieveDeduplicatesSameSeedAcrossModes(t *testing.T) {
	svc, uow := setupRAG(t)
	seedConversation(t, uow, "c1", []string{
		"kubernetes pods keep crashing",
	})
	// Embed it too, so hybrid fusion has both an FTS and a vector hit on the
	// same message.
	provider := embedding.NewStubProvider()
	vec, err := provider.EmbedQuery(context.Background(), "kubernetes pods keep crashing")
	require.NoError(t, err)
	require.NoError(t, uow.Embeddings.UpsertForMessage(context.Background(), "c1-m0", provider.Model(), vec))

	windows, err := svc.Retrieve(context.Background(), "kubernetes", WithDeduplicate(true))
	require.NoError(t, err)
	require.Len(t, windows, 1)
}

func TestRetrieveMergesOverlappingWindowsFromDifferentSeeds(t *testing.T) {
	svc, uow := setupRAG(t)
	// Two seeds three messages apart: with a context window of 2 on each
	// side, their expanded windows overlap on the messages in between even
	// though neither MatchedMessageID nor ConversationID+MatchedMessageID
	// coincide.
	seedConversation(t, uow, "c1", []string{
		"kubernetes pods keep crashing",
		"checking logs now",
		"found the stack trace",
		"it's an out of memory error for kubernetes",
		"bumping the memory limit",
	})

	windows, err := svc.Retrieve(context.Background(), "kubernetes",
		WithContextWindow(2), WithDeduplicate(true), WithAdaptiveContext(false), WithTopKWindows(5))
	require.NoError(t, err)
	require.Len(t, windows, 1)

	w := windows[0]
	assert.Equal(t, 5, w.WindowSize)
	assert.Contains(t, w.Content, "checking logs now")
	assert.Contains(t, w.Content, "found the stack trace")
	assert.Contains(t, w.Content, "bumping the memory limit")
}
