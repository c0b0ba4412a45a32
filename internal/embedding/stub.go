package embedding

import (
	"context"
	"hash/fnv"
)

const StubDimension = 16

// NewStubProvider returns a deterministic, dependency-free Provider for
// tests: each text hashes to a fixed-dimension pseudo-random vector, so
// identical content always embeds identically without a network call.
func NewStubProvider() *Provider {
	embed := func(text string) []float64 {
		vec := make([]float64, StubDimension)
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()
		for i := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[i] = float64(int64(seed>>11)) / (1 << 52)
		}
		return NormalizeEmbedding(vec)
	}
	return &Provider{
		id:    "stub",
		model: "stub-v1",
		embedQuery: func(ctx context.Context, text string) ([]float64, error) {
			return embed(text), nil
		},
		embedBatch: func(ctx context.Context, texts []string) ([][]float64, error) {
			out := make([][]float64, len(texts))
			for i, t := range texts {
				out[i] = embed(t)
			}
			return out, nil
		},
	}
}
