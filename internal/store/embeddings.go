package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

// EmbeddingRepo persists one vector per (message, model).
type EmbeddingRepo struct {
	db        dbExecer
	rawDB     *sql.DB
	vectorCfg VectorConfig
	vectorExt *vectorExtStatus
}

// UpsertForMessage inserts or replaces the embedding for (messageID, model).
func (r *EmbeddingRepo) UpsertForMessage(ctx context.Context, messageID, model string, vector []float64) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding vector: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO message_embeddings (message_id, model, vector, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, model) DO UPDATE SET vector = excluded.vector, created_at = excluded.created_at`,
		messageID, model, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding for message %s: %w", messageID, err)
	}
	r.upsertVector(ctx, messageID, model, vector)
	return nil
}

// GetForMessage returns the embedding for (messageID, model), if present.
func (r *EmbeddingRepo) GetForMessage(ctx context.Context, messageID, model string) (scrytype.MessageEmbedding, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT message_id, model, vector, created_at FROM message_embeddings WHERE message_id = $1 AND model = $2`,
		messageID, model)

	var e scrytype.MessageEmbedding
	var raw string
	var createdAt int64
	err := row.Scan(&e.MessageID, &e.Model, &raw, &createdAt)
	if err == sql.ErrNoRows {
		return scrytype.MessageEmbedding{}, false, nil
	}
	if err != nil {
		return scrytype.MessageEmbedding{}, false, fmt.Errorf("get embedding for message %s: %w", messageID, err)
	}
	if err := json.Unmarshal([]byte(raw), &e.Vector); err != nil {
		return scrytype.MessageEmbedding{}, false, fmt.Errorf("decode embedding vector: %w", err)
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, true, nil
}

// CoverageStats reports how many of the archive's messages have a vector.
type CoverageStats struct {
	TotalMessages    int
	EmbeddedMessages int
}

// GetCoverageStats returns total vs. embedded message counts for model.
func (r *EmbeddingRepo) GetCoverageStats(ctx context.Context, model string) (CoverageStats, error) {
	var stats CoverageStats
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages); err != nil {
		return stats, fmt.Errorf("count messages: %w", err)
	}
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_embeddings WHERE model = $1`, model).Scan(&stats.EmbeddedMessages); err != nil {
		return stats, fmt.Errorf("count embedded messages: %w", err)
	}
	return stats, nil
}

// VectorHit is one nearest-neighbour result, ranked by cosine similarity
// (higher is closer).
type VectorHit struct {
	MessageID  string
	Similarity float64
}

// NearestBruteForce scans every stored embedding for model and returns the k
// closest by cosine similarity. This is the fallback path used when the
// sqlite-vec extension can't be loaded; callers needing ANN performance at
// scale should prefer a vec0 virtual table query instead (see
// internal/search's vector backend).
func (r *EmbeddingRepo) NearestBruteForce(ctx context.Context, model string, query []float64, k int) ([]VectorHit, error) {
	rows, err := r.db.Query(ctx, `SELECT message_id, vector FROM message_embeddings WHERE model = $1`, model)
	if err != nil {
		return nil, fmt.Errorf("scan embeddings for model %s: %w", model, err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var messageID, raw string
		if err := rows.Scan(&messageID, &raw); err != nil {
			return nil, err
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("decode embedding vector for %s: %w", messageID, err)
		}
		hits = append(hits, VectorHit{MessageID: messageID, Similarity: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
