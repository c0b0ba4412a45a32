package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbrichman/scry/internal/rag"
	"github.com/mbrichman/scry/internal/scrytype"
)

func TestToRAGResultItemFlattensWindow(t *testing.T) {
	w := rag.ContextWindow{
		WindowID:         "c1:m2",
		ConversationID:   "c1",
		MatchedMessageID: "m2",
		Content:          "hello",
		WindowSize:       3,
		MatchPosition:    1,
		BeforeCount:      1,
		AfterCount:       1,
		BaseScore:        0.8,
		AggregatedScore:  0.85,
		Roles:            []scrytype.Role{scrytype.RoleUser, scrytype.RoleAssistant, scrytype.RoleUser},
		TokenEstimate:    12,
	}

	item := ToRAGResultItem(w)
	assert.Equal(t, "c1:m2", item.WindowID)
	assert.Equal(t, 3, item.WindowSize)
	assert.Equal(t, 0.85, item.AggregatedScore)
	assert.Len(t, item.Roles, 3)
}
