package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

// MessageRepo persists Message rows and backs both search paths.
type MessageRepo struct {
	db dbExecer
}

// Create inserts a message. m.ID must already be assigned.
func (r *MessageRepo) Create(ctx context.Context, m scrytype.Message) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, insertion_seq, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt.Unix(), m.InsertionSeq, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetByID returns a single message, or ok=false if absent.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (scrytype.Message, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, conversation_id, role, content, created_at, insertion_seq, metadata FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return scrytype.Message{}, false, nil
	}
	if err != nil {
		return scrytype.Message{}, false, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, true, nil
}

// GetByConversation returns every message in a conversation, ordered by
// created_at then insertion_seq (the extractor-emitted order tiebreak).
func (r *MessageRepo) GetByConversation(ctx context.Context, conversationID string) ([]scrytype.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at, insertion_seq, metadata
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, insertion_seq ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []scrytype.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchHit is one lexical search result, with the raw rank exposed so
// callers can normalize it (internal/search does so in normalizeRanksMinMax
// and hitsToResultsByRank).
type SearchHit struct {
	Message        scrytype.Message
	ConversationID string
	Rank           float64
}

// SearchFullText runs a word-tokenized bm25-ranked query against
// messages_fts, optionally scoped to one conversation.
func (r *MessageRepo) SearchFullText(ctx context.Context, ftsQuery string, limit int, conversationID string) ([]SearchHit, error) {
	return r.searchFTS(ctx, "messages_fts", ftsQuery, limit, conversationID)
}

// SearchTrigram runs a trigram-tokenized query against messages_trgm,
// better suited to typos and partial-token fuzzy matches.
func (r *MessageRepo) SearchTrigram(ctx context.Context, ftsQuery string, limit int) ([]SearchHit, error) {
	return r.searchFTS(ctx, "messages_trgm", ftsQuery, limit, "")
}

func (r *MessageRepo) searchFTS(ctx context.Context, table, ftsQuery string, limit int, conversationID string) ([]SearchHit, error) {
	if ftsQuery == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT m.id, m.conversation_id, m.role, m.content, m.created_at, m.insertion_seq, m.metadata, f.rank
		FROM %s f
		JOIN messages m ON m.rowid = f.rowid
		WHERE f.%s MATCH $1`, table, table)
	args := []any{ftsQuery}
	if conversationID != "" {
		query += " AND m.conversation_id = $2"
		args = append(args, conversationID)
		query += " ORDER BY f.rank LIMIT $3"
		args = append(args, limit)
	} else {
		query += " ORDER BY f.rank LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var hit SearchHit
		var role, metadata string
		var createdAt int64
		if err := rows.Scan(&hit.Message.ID, &hit.ConversationID, &role, &hit.Message.Content, &createdAt, &hit.Message.InsertionSeq, &metadata, &hit.Rank); err != nil {
			return nil, err
		}
		hit.Message.ConversationID = hit.ConversationID
		hit.Message.Role = scrytype.Role(role)
		hit.Message.CreatedAt = time.Unix(createdAt, 0).UTC()
		if err := json.Unmarshal([]byte(metadata), &hit.Message.Metadata); err != nil {
			return nil, fmt.Errorf("decode message metadata: %w", err)
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

// MessageStats summarizes message counts for the stats endpoint.
type MessageStats struct {
	TotalMessages     int
	ByRole            map[string]int
	EmbeddingCoverage float64
	Last24hCount      int
}

// GetMessageStats returns role breakdown, embedding coverage percentage, and
// a trailing-24h count.
func (r *MessageRepo) GetMessageStats(ctx context.Context) (MessageStats, error) {
	stats := MessageStats{ByRole: make(map[string]int)}

	rows, err := r.db.Query(ctx, `SELECT role, COUNT(*) FROM messages GROUP BY role`)
	if err != nil {
		return stats, fmt.Errorf("group messages by role: %w", err)
	}
	for rows.Next() {
		var role string
		var count int
		if err := rows.Scan(&role, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByRole[role] = count
		stats.TotalMessages += count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, err
	}
	rows.Close()

	if stats.TotalMessages > 0 {
		var embedded int
		if err := r.db.QueryRow(ctx, `SELECT COUNT(DISTINCT message_id) FROM message_embeddings`).Scan(&embedded); err != nil {
			return stats, fmt.Errorf("count embedded messages: %w", err)
		}
		stats.EmbeddingCoverage = float64(embedded) / float64(stats.TotalMessages) * 100
	}

	cutoff := time.Now().Add(-24 * time.Hour).Unix()
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE created_at >= $1`, cutoff).Scan(&stats.Last24hCount); err != nil {
		return stats, fmt.Errorf("count recent messages: %w", err)
	}
	return stats, nil
}

func scanMessage(row rowScanner) (scrytype.Message, error) {
	var m scrytype.Message
	var role, metadata string
	var createdAt int64
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &createdAt, &m.InsertionSeq, &metadata)
	if err != nil {
		return m, err
	}
	m.Role = scrytype.Role(role)
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
		return m, fmt.Errorf("decode message metadata: %w", err)
	}
	return m, nil
}
