package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWebUIExtractorResolvesParentChain(t *testing.T) {
	raw := json.RawMessage(`[{
		"title": "chat",
		"chat": {"history": {"messages": {
			"m1": {"id": "m1", "parentId": null, "role": "user", "content": "hi", "timestamp": 1.0},
			"m2": {"id": "m2", "parentId": "m1", "role": "assistant", "content": "hello", "timestamp": 2.0}
		}}}
	}]`)

	e := NewOpenWebUIExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "hi", convs[0].Messages[0].Content)
	assert.Equal(t, "hello", convs[0].Messages[1].Content)
}

func TestOpenWebUIExtractorFallsBackToTimestampSort(t *testing.T) {
	raw := json.RawMessage(`[{
		"title": "chat",
		"chat": {"history": {"messages": {
			"m2": {"id": "m2", "role": "assistant", "content": "second", "timestamp": 2.0},
			"m1": {"id": "m1", "role": "user", "content": "first", "timestamp": 1.0}
		}}}
	}]`)

	e := NewOpenWebUIExtractor()
	convs, err := e.ExtractFromBytes(context.Background(), raw, Options{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "first", convs[0].Messages[0].Content)
	assert.Equal(t, "second", convs[0].Messages[1].Content)
}

func TestNormalizeOpenWebUITimestampUnits(t *testing.T) {
	sec := normalizeOpenWebUITimestamp(1700000000)
	ms := normalizeOpenWebUITimestamp(1700000000000)
	ns := normalizeOpenWebUITimestamp(1700000000000000000)

	assert.Equal(t, sec.Unix(), ms.Unix())
	assert.Equal(t, sec.Unix(), ns.Unix())
}
