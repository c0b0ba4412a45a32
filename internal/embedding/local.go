package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mbrichman/scry/pkg/shared/httputil"
)

const DefaultLocalEmbeddingModel = "text-embedding-3-small"

// NewLocalProvider builds a Provider against any OpenAI-compatible
// embeddings endpoint (llama.cpp server, LocalAI, vLLM, ...).
func NewLocalProvider(baseURL, apiKey, model string, headers map[string]string) (*Provider, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("local embeddings require base_url")
	}
	normalizedModel := strings.TrimSpace(model)
	if normalizedModel == "" {
		normalizedModel = DefaultLocalEmbeddingModel
	}
	endpoint := normalizeEmbeddingsEndpoint(baseURL)

	reqHeaders := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		if strings.TrimSpace(v) != "" {
			reqHeaders[k] = v
		}
	}
	if strings.TrimSpace(apiKey) != "" {
		reqHeaders["Authorization"] = "Bearer " + strings.TrimSpace(apiKey)
	}

	embedBatch := func(ctx context.Context, texts []string) ([][]float64, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		payload := map[string]any{
			"model": normalizedModel,
			"input": texts,
		}
		data, _, err := httputil.PostJSON(ctx, endpoint, reqHeaders, payload, 60)
		if err != nil {
			return nil, fmt.Errorf("local embeddings: %w", err)
		}
		var decoded struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, err
		}
		out := make([][]float64, 0, len(decoded.Data))
		for _, entry := range decoded.Data {
			out = append(out, NormalizeEmbedding(entry.Embedding))
		}
		return out, nil
	}

	return &Provider{
		id:    "local",
		model: normalizedModel,
		embedQuery: func(ctx context.Context, text string) ([]float64, error) {
			results, err := embedBatch(ctx, []string{text})
			if err != nil {
				return nil, err
			}
			if len(results) == 0 {
				return nil, nil
			}
			return results[0], nil
		},
		embedBatch: embedBatch,
	}, nil
}

func normalizeEmbeddingsEndpoint(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(trimmed, "/embeddings") {
		return trimmed
	}
	if strings.HasSuffix(trimmed, "/v1") || strings.HasSuffix(trimmed, "/openai/v1") {
		return trimmed + "/embeddings"
	}
	return trimmed + "/v1/embeddings"
}
